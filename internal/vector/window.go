package vector

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"gossimon/internal/convergence"
)

// WindowMode selects how the window is sized.
type WindowMode int

const (
	// WindowFixed keeps 2K-1 slots and sends up to K-1 of them.
	WindowFixed WindowMode = iota
	// WindowUptoAge keeps a slot per node and sends every leading entry
	// younger than the cutoff, plus any entry still carrying priority.
	WindowUptoAge
)

// String returns the string representation of WindowMode.
func (m WindowMode) String() string {
	switch m {
	case WindowFixed:
		return "fixed"
	case WindowUptoAge:
		return "upto-age"
	default:
		return fmt.Sprintf("window(%d)", int(m))
	}
}

// ParseWindowMode parses "fixed" or "upto-age".
func ParseWindowMode(s string) (WindowMode, error) {
	switch strings.ToLower(s) {
	case "fixed":
		return WindowFixed, nil
	case "upto-age", "uptoage", "age":
		return WindowUptoAge, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidWindow, s)
}

// slot is one window position. An unused slot carries no index.
type slot struct {
	used      bool
	index     int
	priority  int
	timestamp int64
}

// before reports whether a sorts ahead of b: higher priority first, newer
// information breaking ties.
func before(a, b slot) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.timestamp > b.timestamp
}

func compareSlots(a, b slot) int {
	switch {
	case before(a, b):
		return -1
	case before(b, a):
		return 1
	}
	return 0
}

// window is the priority-ordered subset of vector positions offered to the
// next gossip exchange. Used slots always form a prefix.
type window struct {
	mode       WindowMode
	param      int
	k          int
	uptoMillis int64
	slots      []slot
}

// newWindow allocates a window for a vector of n entries. A zero param
// selects the auto-sized value for the cluster.
func newWindow(mode WindowMode, param, n int, round time.Duration) (window, error) {
	if param < 0 {
		return window{}, fmt.Errorf("%w: negative parameter %d", ErrInvalidWindow, param)
	}
	w := window{mode: mode, param: param}
	switch mode {
	case WindowFixed:
		w.k = param
		if w.k == 0 {
			w.k = convergence.AutoFixedK(n)
		}
		w.slots = make([]slot, 2*w.k-1)
	case WindowUptoAge:
		if param == 0 {
			if round <= 0 {
				round = time.Second
			}
			w.uptoMillis = convergence.AutoUptoAge(n, round).Milliseconds()
		} else {
			w.uptoMillis = int64(param) * 1000
		}
		w.slots = make([]slot, n)
	default:
		return window{}, fmt.Errorf("%w: unknown mode %d", ErrInvalidWindow, int(mode))
	}
	return w, nil
}

// update offers vector position idx to the window. It returns false when
// the window was left untouched.
func (w *window) update(idx, priority int, ts int64, localIdx int) bool {
	if idx == localIdx || len(w.slots) == 0 {
		return false
	}

	target := len(w.slots) - 1
	for i, s := range w.slots {
		if !s.used || s.index == idx {
			target = i
			break
		}
	}

	cand := slot{used: true, index: idx, priority: priority, timestamp: ts}
	occ := w.slots[target]
	if occ.used {
		if occ.index == idx {
			if cand.priority <= occ.priority && cand.timestamp <= occ.timestamp {
				return false
			}
			// a granted boost keeps decaying instead of being re-armed
			if occ.priority > 0 && occ.priority > cand.priority {
				cand.priority = occ.priority
			}
		} else if !before(cand, occ) {
			return false
		}
	}

	w.slots[target] = cand
	for i := target; i > 0 && before(w.slots[i], w.slots[i-1]); i-- {
		w.slots[i], w.slots[i-1] = w.slots[i-1], w.slots[i]
	}
	return true
}

// used returns the number of populated slots.
func (w *window) used() int {
	for i, s := range w.slots {
		if !s.used {
			return i
		}
	}
	return len(w.slots)
}

// sendSize returns how many leading slots go out with the next message.
func (w *window) sendSize(now int64) int {
	used := w.used()
	if w.mode == WindowFixed {
		return min(used, w.k-1)
	}
	n := 0
	for n < used {
		s := w.slots[n]
		if now-s.timestamp > w.uptoMillis && s.priority <= 0 {
			break
		}
		n++
	}
	return n
}

// decay lowers the priority of the first count slots by one and restores
// the ordering.
func (w *window) decay(count int) {
	for i := 0; i < count; i++ {
		if w.slots[i].priority > 0 {
			w.slots[i].priority--
		}
	}
	slices.SortStableFunc(w.slots[:w.used()], compareSlots)
}

func (w *window) clear() {
	clear(w.slots)
}

// WindowSlot is a read-only view of a populated window position.
type WindowSlot struct {
	IP        netip.Addr
	Priority  int
	Timestamp int64
}

// WindowConfig describes the active window.
type WindowConfig struct {
	Mode        WindowMode
	Param       int
	K           int
	UptoAge     time.Duration
	Capacity    int
	Used        int
	SendSize    int
	MaxPriority int
}

// Window returns the populated window prefix in send order.
func (v *Vector) Window() []WindowSlot {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := v.win.used()
	out := make([]WindowSlot, 0, n)
	for _, s := range v.win.slots[:n] {
		out = append(out, WindowSlot{
			IP:        v.entries[s.index].info.IP,
			Priority:  s.priority,
			Timestamp: s.timestamp,
		})
	}
	return out
}

// WindowConfig returns the active window settings.
func (v *Vector) WindowConfig() WindowConfig {
	v.mu.Lock()
	defer v.mu.Unlock()

	return WindowConfig{
		Mode:        v.win.mode,
		Param:       v.win.param,
		K:           v.win.k,
		UptoAge:     time.Duration(v.win.uptoMillis) * time.Millisecond,
		Capacity:    len(v.win.slots),
		Used:        v.win.used(),
		SendSize:    v.win.sendSize(v.observe()),
		MaxPriority: v.maxPriority,
	}
}

// SetWindow switches the window mode or parameter at runtime. The new
// window is rebuilt from the resident entries at priority zero.
func (v *Vector) SetWindow(mode WindowMode, param int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	w, err := newWindow(mode, param, len(v.entries), v.round)
	if err != nil {
		return err
	}
	for i := range v.entries {
		if ts := v.entries[i].info.Timestamp; ts > 0 {
			w.update(i, 0, ts, v.localIdx)
		}
	}
	v.win = w
	return nil
}

// OutEntry is one entry of an outbound window message.
type OutEntry struct {
	Priority int
	Info     NodeInfo
}

// OutboundWindow returns the entries to transmit this round: the local
// entry first, then the window's send-size prefix. Every transmitted
// priority decays by one.
func (v *Vector) OutboundWindow() []OutEntry {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	n := v.win.sendSize(now)
	out := make([]OutEntry, 0, n+1)
	out = append(out, OutEntry{Priority: v.localPriority, Info: v.entries[v.localIdx].info.Clone()})
	if v.localPriority > 0 {
		v.localPriority--
	}
	for _, s := range v.win.slots[:n] {
		out = append(out, OutEntry{Priority: s.priority, Info: v.entries[s.index].info.Clone()})
	}
	v.win.decay(n)
	v.lastSendSize = n
	return out
}
