package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"gossimon/internal/vector"
)

const (
	replyHeaderSize = 8
	// EntryHeaderSize is the fixed per-entry header of a query reply.
	EntryHeaderSize = 64
	nameSize        = 52
)

// QueryReplySize returns the exact encoded size of a reply for entries.
// Nil entries are holes and carry no node info.
func QueryReplySize(entries []*vector.Entry) int {
	n := replyHeaderSize + len(entries)*EntryHeaderSize
	for _, e := range entries {
		if e != nil {
			n += vector.HeaderSize + len(e.Info.Payload)
		}
	}
	return n
}

// PackQueryReply encodes entries into buf when it is large enough, or into
// a new buffer of exactly the right size.
func PackQueryReply(entries []*vector.Entry, buf []byte) ([]byte, error) {
	total := QueryReplySize(entries)
	b := buf[:0]
	if cap(buf) < total {
		b = make([]byte, 0, total)
	}

	b = binary.BigEndian.AppendUint32(b, uint32(len(entries)))
	b = binary.BigEndian.AppendUint32(b, uint32(total))
	for _, e := range entries {
		if e == nil {
			b = append(b, make([]byte, EntryHeaderSize)...)
			continue
		}
		var flags [4]byte
		flags[0] = 1
		if e.Dead {
			flags[1] = 1
		}
		addr := e.Info.IP.As4()
		var name [nameSize]byte
		copy(name[:nameSize-1], e.Name)

		b = append(b, flags[:]...)
		b = append(b, addr[:]...)
		b = binary.BigEndian.AppendUint32(b, uint32(vector.HeaderSize+len(e.Info.Payload)))
		b = append(b, name[:]...)
		b = e.Info.AppendHeader(b, e.Info.Timestamp)
		b = append(b, e.Info.Payload...)
	}
	if len(b) != total {
		return nil, fmt.Errorf("query reply: wrote %d of %d bytes: %w", len(b), total, ErrSizeMismatch)
	}
	return b, nil
}

// UnpackQueryReply decodes a query reply. Holes come back as nil entries.
func UnpackQueryReply(b []byte) ([]*vector.Entry, error) {
	if len(b) < replyHeaderSize {
		return nil, fmt.Errorf("reply header: %w", ErrTruncated)
	}
	count := int(binary.BigEndian.Uint32(b[0:]))
	if total := int(binary.BigEndian.Uint32(b[4:])); total != len(b) {
		return nil, fmt.Errorf("%w: header says %d bytes, have %d", ErrSizeMismatch, total, len(b))
	}
	if count > (len(b)-replyHeaderSize)/EntryHeaderSize {
		return nil, fmt.Errorf("%d entries: %w", count, ErrTruncated)
	}

	out := make([]*vector.Entry, count)
	off := replyHeaderSize
	for i := range out {
		if len(b)-off < EntryHeaderSize {
			return nil, fmt.Errorf("entry %d header: %w", i, ErrTruncated)
		}
		h := b[off : off+EntryHeaderSize]
		off += EntryHeaderSize
		if h[0] == 0 {
			continue
		}

		size := int(binary.BigEndian.Uint32(h[8:]))
		if size < vector.HeaderSize {
			return nil, fmt.Errorf("entry %d: size %d below header: %w", i, size, ErrSizeMismatch)
		}
		if len(b)-off < size {
			return nil, fmt.Errorf("entry %d body: %w", i, ErrTruncated)
		}
		info, ts, err := vector.ParseHeader(b[off:])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		info.Timestamp = ts
		info.IP = netip.AddrFrom4([4]byte(h[4:8]))
		info.Payload = append([]byte(nil), b[off+vector.HeaderSize:off+size]...)
		off += size

		name := h[12:]
		for j, c := range name {
			if c == 0 {
				name = name[:j]
				break
			}
		}
		out[i] = &vector.Entry{Name: string(name), Info: info, Dead: h[1] != 0}
	}
	if off != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSizeMismatch, len(b)-off)
	}
	return out, nil
}
