package wire

import (
	"encoding/binary"
	"fmt"

	"gossimon/internal/vector"
)

const (
	windowHeaderSize = 12
	entryPrefixSize  = 8
)

// Remote is one decoded window entry with its timestamp already converted
// back to local time.
type Remote struct {
	Info     vector.NodeInfo
	Size     int
	Priority int
}

// WindowSize returns the encoded size of a window message.
func WindowSize(entries []vector.OutEntry) int {
	n := windowHeaderSize
	for i := range entries {
		n += entryPrefixSize + vector.HeaderSize + len(entries[i].Info.Payload)
	}
	return n
}

// EncodeWindow builds a window message. Each entry's timestamp is sent as
// its age at now.
func EncodeWindow(sig uint32, entries []vector.OutEntry, now int64) []byte {
	total := WindowSize(entries)
	b := make([]byte, 0, total)
	b = binary.BigEndian.AppendUint32(b, sig)
	b = binary.BigEndian.AppendUint32(b, uint32(len(entries)))
	b = binary.BigEndian.AppendUint32(b, uint32(total))
	for i := range entries {
		info := &entries[i].Info
		b = binary.BigEndian.AppendUint32(b, uint32(vector.HeaderSize+len(info.Payload)))
		b = binary.BigEndian.AppendUint32(b, uint32(max(entries[i].Priority, 0)))
		b = info.AppendHeader(b, max(now-info.Timestamp, 0))
		b = append(b, info.Payload...)
	}
	return b
}

// DecodeWindow parses a window message. The whole message is rejected when
// its signature differs from sig or its framing is inconsistent.
func DecodeWindow(buf []byte, sig uint32, now int64) ([]Remote, error) {
	if len(buf) < windowHeaderSize {
		return nil, fmt.Errorf("window header: %w", ErrTruncated)
	}
	if got := binary.BigEndian.Uint32(buf[0:]); got != sig {
		return nil, fmt.Errorf("%w: got %#x, want %#x", ErrSchemaMismatch, got, sig)
	}
	count := int(binary.BigEndian.Uint32(buf[4:]))
	if total := int(binary.BigEndian.Uint32(buf[8:])); total != len(buf) {
		return nil, fmt.Errorf("%w: header says %d bytes, have %d", ErrSizeMismatch, total, len(buf))
	}

	// every entry needs at least a prefix and a header
	if count > (len(buf)-windowHeaderSize)/(entryPrefixSize+vector.HeaderSize) {
		return nil, fmt.Errorf("%d entries: %w", count, ErrTruncated)
	}

	out := make([]Remote, 0, count)
	off := windowHeaderSize
	for i := 0; i < count; i++ {
		if len(buf)-off < entryPrefixSize {
			return nil, fmt.Errorf("entry %d prefix: %w", i, ErrTruncated)
		}
		size := int(binary.BigEndian.Uint32(buf[off:]))
		prio := int(binary.BigEndian.Uint32(buf[off+4:]))
		off += entryPrefixSize
		if size < vector.HeaderSize {
			return nil, fmt.Errorf("entry %d: size %d below header: %w", i, size, ErrSizeMismatch)
		}
		if len(buf)-off < size {
			return nil, fmt.Errorf("entry %d body: %w", i, ErrTruncated)
		}

		info, age, err := vector.ParseHeader(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		info.Timestamp = now - age
		info.Payload = append([]byte(nil), buf[off+vector.HeaderSize:off+size]...)
		out = append(out, Remote{Info: info, Size: size, Priority: prio})
		off += size
	}
	if off != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSizeMismatch, len(buf)-off)
	}
	return out, nil
}

// ApplyWindow decodes buf against v and merges every entry that is not
// about the local node. It returns how many entries were applied.
func ApplyWindow(v *vector.Vector, buf []byte) (int, error) {
	remotes, err := DecodeWindow(buf, v.Signature(), v.Now())
	if err != nil {
		return 0, err
	}
	local := v.LocalIP()
	merged := 0
	for i := range remotes {
		r := &remotes[i]
		if r.Info.IP == local {
			continue
		}
		if v.Update(&r.Info, r.Size, r.Priority) {
			merged++
		}
	}
	return merged, nil
}
