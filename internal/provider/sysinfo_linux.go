package provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// loadScale converts the kernel's fixed-point load averages.
const loadScale = 1 << 16

// Sysinfo reads the local load and memory with sysinfo(2).
type Sysinfo struct {
	mu  sync.Mutex
	urg urgency
}

// NewSysinfo returns a provider that gossips with priority urgency whenever
// the one-minute load moves by more than threshold.
func NewSysinfo(threshold float64, urgency int) (*Sysinfo, error) {
	s := &Sysinfo{}
	s.urg.threshold = threshold
	s.urg.level = urgency
	return s, nil
}

// Snapshot samples the kernel.
func (s *Sysinfo) Snapshot(ctx context.Context) (Snapshot, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return Snapshot{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	li := LoadInfo{
		Load1:    float64(si.Loads[0]) / loadScale,
		Load5:    float64(si.Loads[1]) / loadScale,
		Load15:   float64(si.Loads[2]) / loadScale,
		TotalRAM: uint64(si.Totalram) * unit,
		FreeRAM:  uint64(si.Freeram) * unit,
		Procs:    si.Procs,
		Uptime:   int64(si.Uptime),
	}

	s.mu.Lock()
	prio := s.urg.priority(li.Load1)
	s.mu.Unlock()
	return Snapshot{Payload: li.Encode(), Priority: prio}, nil
}
