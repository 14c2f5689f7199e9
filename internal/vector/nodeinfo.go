package vector

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// HeaderSize is the encoded size of the NodeInfo header.
const HeaderSize = 32

// Status is the bit set describing a node's state.
type Status uint16

const (
	StatusAlive Status = 1 << iota
	StatusProviderUp
)

// Cause records why an entry is in its current state.
type Cause uint16

const (
	CauseAlive Cause = iota
	CauseNoInfo
	CauseAgeTimeout
	CauseNoProvider
	CauseConnectFailed
	CauseVectorReset
	CauseRemoteDead
)

var causeNames = map[Cause]string{
	CauseAlive:         "alive",
	CauseNoInfo:        "no-info",
	CauseAgeTimeout:    "age-timeout",
	CauseNoProvider:    "no-provider",
	CauseConnectFailed: "connect-failed",
	CauseVectorReset:   "vector-reset",
	CauseRemoteDead:    "remote-dead",
}

// String returns the string representation of Cause.
func (c Cause) String() string {
	if s, ok := causeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("cause(%d)", uint16(c))
}

// NodeInfo is one node's resource state: a fixed header followed by an
// opaque payload owned by the local resource provider's schema.
type NodeInfo struct {
	ProtocolSize   uint16
	FullSize       uint32
	NodeID         uint32
	Status         Status
	Cause          Cause
	Param          uint16
	ExternalStatus uint8
	IP             netip.Addr
	Timestamp      int64 // milliseconds since epoch
	Payload        []byte
}

// NewNodeInfo builds an alive NodeInfo stamped with ts.
func NewNodeInfo(nodeID uint32, ip netip.Addr, ts int64, payload []byte) *NodeInfo {
	return &NodeInfo{
		ProtocolSize: HeaderSize,
		FullSize:     uint32(HeaderSize + len(payload)),
		NodeID:       nodeID,
		Status:       StatusAlive | StatusProviderUp,
		Cause:        CauseAlive,
		IP:           ip,
		Timestamp:    ts,
		Payload:      payload,
	}
}

// Alive reports whether the status carries the alive bit.
func (ni *NodeInfo) Alive() bool {
	return ni.Status&StatusAlive != 0
}

// Clone returns a deep copy.
func (ni *NodeInfo) Clone() NodeInfo {
	c := *ni
	c.Payload = append([]byte(nil), ni.Payload...)
	return c
}

// assign copies src into ni, reusing ni's payload buffer when it is large
// enough. The buffer only ever grows.
func (ni *NodeInfo) assign(src *NodeInfo) {
	n := len(src.Payload)
	if cap(ni.Payload) < n {
		ni.Payload = make([]byte, n)
	}
	ni.Payload = ni.Payload[:n]
	copy(ni.Payload, src.Payload)

	ni.ProtocolSize = src.ProtocolSize
	ni.FullSize = src.FullSize
	ni.NodeID = src.NodeID
	ni.Status = src.Status
	ni.Cause = src.Cause
	ni.Param = src.Param
	ni.ExternalStatus = src.ExternalStatus
	ni.Timestamp = src.Timestamp
}

// clearPayload zeroes the payload and empties it, keeping the buffer.
func (ni *NodeInfo) clearPayload() {
	clear(ni.Payload)
	ni.Payload = ni.Payload[:0]
	ni.FullSize = HeaderSize
}

// AppendHeader appends the encoded header to b with the timestamp slot
// holding ts. The wire codec passes an age instead of the absolute time.
func (ni *NodeInfo) AppendHeader(b []byte, ts int64) []byte {
	ip := ni.IP.As4()
	b = binary.BigEndian.AppendUint16(b, ni.ProtocolSize)
	b = binary.BigEndian.AppendUint32(b, ni.FullSize)
	b = binary.BigEndian.AppendUint32(b, ni.NodeID)
	b = binary.BigEndian.AppendUint16(b, uint16(ni.Status))
	b = binary.BigEndian.AppendUint16(b, uint16(ni.Cause))
	b = binary.BigEndian.AppendUint16(b, ni.Param)
	b = append(b, ni.ExternalStatus, 0)
	b = append(b, ip[:]...)
	b = binary.BigEndian.AppendUint64(b, uint64(ts))
	return append(b, 0, 0)
}

// ParseHeader decodes a header from b and returns the value found in the
// timestamp slot separately. The payload is left empty.
func ParseHeader(b []byte) (NodeInfo, int64, error) {
	if len(b) < HeaderSize {
		return NodeInfo{}, 0, fmt.Errorf("node info header: need %d bytes, have %d", HeaderSize, len(b))
	}
	ni := NodeInfo{
		ProtocolSize:   binary.BigEndian.Uint16(b[0:]),
		FullSize:       binary.BigEndian.Uint32(b[2:]),
		NodeID:         binary.BigEndian.Uint32(b[6:]),
		Status:         Status(binary.BigEndian.Uint16(b[10:])),
		Cause:          Cause(binary.BigEndian.Uint16(b[12:])),
		Param:          binary.BigEndian.Uint16(b[14:]),
		ExternalStatus: b[16],
		IP:             netip.AddrFrom4([4]byte(b[18:22])),
	}
	ts := int64(binary.BigEndian.Uint64(b[22:]))
	return ni, ts, nil
}

// ipv4Uint returns the address as a host-order integer.
func ipv4Uint(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uintIPv4(u uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], u)
	return netip.AddrFrom4(b)
}
