package provider

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Schema describes the LoadInfo payload layout. Peers compare its
// signature before merging each other's windows.
const Schema = "loadinfo/v1:load1,load5,load15:f64;totalram,freeram:u64;procs:u16;uptime:i64"

// LoadInfoSize is the encoded size of a LoadInfo.
const LoadInfoSize = 3*8 + 2*8 + 2 + 8

var (
	ErrUnsupported  = errors.New("resource provider not supported on this platform")
	ErrShortPayload = errors.New("payload too short for load info")
)

// Snapshot is one round's local payload and the priority to gossip it with.
type Snapshot struct {
	Payload  []byte
	Priority int
}

// Provider produces the local node's payload.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context) (Snapshot, error)

// Snapshot calls f.
func (f Func) Snapshot(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// LoadInfo is the payload gossiped for every node.
type LoadInfo struct {
	Load1    float64
	Load5    float64
	Load15   float64
	TotalRAM uint64
	FreeRAM  uint64
	Procs    uint16
	Uptime   int64 // seconds
}

// Encode returns the wire form of li.
func (li LoadInfo) Encode() []byte {
	b := make([]byte, 0, LoadInfoSize)
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(li.Load1))
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(li.Load5))
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(li.Load15))
	b = binary.BigEndian.AppendUint64(b, li.TotalRAM)
	b = binary.BigEndian.AppendUint64(b, li.FreeRAM)
	b = binary.BigEndian.AppendUint16(b, li.Procs)
	b = binary.BigEndian.AppendUint64(b, uint64(li.Uptime))
	return b
}

// DecodeLoadInfo parses a payload produced by Encode.
func DecodeLoadInfo(b []byte) (LoadInfo, error) {
	if len(b) < LoadInfoSize {
		return LoadInfo{}, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(b))
	}
	return LoadInfo{
		Load1:    math.Float64frombits(binary.BigEndian.Uint64(b[0:])),
		Load5:    math.Float64frombits(binary.BigEndian.Uint64(b[8:])),
		Load15:   math.Float64frombits(binary.BigEndian.Uint64(b[16:])),
		TotalRAM: binary.BigEndian.Uint64(b[24:]),
		FreeRAM:  binary.BigEndian.Uint64(b[32:]),
		Procs:    binary.BigEndian.Uint16(b[40:]),
		Uptime:   int64(binary.BigEndian.Uint64(b[42:])),
	}, nil
}

// Static always reports the same load.
type Static struct {
	Info     LoadInfo
	Priority int
}

// Snapshot returns the static payload.
func (s Static) Snapshot(ctx context.Context) (Snapshot, error) {
	return Snapshot{Payload: s.Info.Encode(), Priority: s.Priority}, nil
}

// urgency tracks the last load that was spread with priority and raises
// the priority when the load has moved by more than threshold since.
type urgency struct {
	threshold float64
	level     int
	reported  float64
	primed    bool
}

func (u *urgency) priority(load float64) int {
	if !u.primed {
		u.primed = true
		u.reported = load
		return u.level
	}
	if u.threshold > 0 && math.Abs(load-u.reported) > u.threshold {
		u.reported = load
		return u.level
	}
	return 0
}
