//go:build !linux

package provider

import "context"

// Sysinfo is only available on linux.
type Sysinfo struct{}

// NewSysinfo reports ErrUnsupported outside linux.
func NewSysinfo(threshold float64, urgency int) (*Sysinfo, error) {
	return nil, ErrUnsupported
}

// Snapshot always fails outside linux.
func (s *Sysinfo) Snapshot(ctx context.Context) (Snapshot, error) {
	return Snapshot{}, ErrUnsupported
}
