package vector

import (
	"math/rand/v2"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossimon/internal/convergence"
)

func windowIPs(v *Vector) []netip.Addr {
	var out []netip.Addr
	for _, s := range v.Window() {
		out = append(out, s.IP)
	}
	return out
}

func requireWindowSorted(t *testing.T, v *Vector) {
	t.Helper()
	w := v.Window()
	seen := map[netip.Addr]bool{}
	for i, s := range w {
		require.NotEqual(t, v.LocalIP(), s.IP)
		require.False(t, seen[s.IP], "duplicate %s", s.IP)
		seen[s.IP] = true
		if i == 0 {
			continue
		}
		prev := w[i-1]
		require.GreaterOrEqual(t, prev.Priority, s.Priority, "slot %d", i)
		if prev.Priority == s.Priority {
			require.GreaterOrEqual(t, prev.Timestamp, s.Timestamp, "slot %d", i)
		}
	}
	require.LessOrEqual(t, len(w), v.WindowConfig().Capacity)
}

func TestParseWindowMode(t *testing.T) {
	m, err := ParseWindowMode("Fixed")
	require.NoError(t, err)
	assert.Equal(t, WindowFixed, m)

	m, err = ParseWindowMode("upto-age")
	require.NoError(t, err)
	assert.Equal(t, WindowUptoAge, m)
	assert.Equal(t, "upto-age", m.String())

	_, err = ParseWindowMode("sliding")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

// Scenario B: a punished node leads the window until its boost decays.
func TestPunishedNodeLeadsWindow(t *testing.T) {
	v, clk := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.2", 2, 0, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 0, 0))
	require.True(t, heard(t, v, "10.0.0.4", 4, 0, 0))

	clk.Advance(10 * time.Millisecond)
	require.True(t, v.Punish(ip("10.0.0.4"), CauseConnectFailed))

	w := v.Window()
	require.Len(t, w, 3)
	assert.Equal(t, ip("10.0.0.4"), w[0].IP)
	assert.Equal(t, convergence.MaxPriority(4), w[0].Priority)
	assert.Equal(t, 2, w[0].Priority)
	for _, s := range w[1:] {
		assert.Zero(t, s.Priority)
	}

	out := v.OutboundWindow()
	require.Len(t, out, 3, "local entry plus K-1 window entries")
	assert.Equal(t, ip("10.0.0.1"), out[0].Info.IP)
	assert.Equal(t, ip("10.0.0.4"), out[1].Info.IP)
	assert.Equal(t, 2, out[1].Priority)
	assert.Equal(t, 1, v.Window()[0].Priority)

	out = v.OutboundWindow()
	assert.Equal(t, 1, out[1].Priority)

	w = v.Window()
	assert.Equal(t, ip("10.0.0.4"), w[0].IP, "newest information still leads")
	for _, s := range w {
		assert.Zero(t, s.Priority)
	}
}

func TestWindowInheritsPriority(t *testing.T) {
	v, clk := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.2", 2, 0, 0))
	require.True(t, v.Punish(ip("10.0.0.2"), CauseConnectFailed))

	clk.Advance(10 * time.Millisecond)
	require.True(t, heard(t, v, "10.0.0.2", 2, 0, 0))

	w := v.Window()
	require.Len(t, w, 1)
	assert.Equal(t, 2, w[0].Priority, "ordinary gossip keeps the remaining boost")
	assert.Equal(t, v.Now(), w[0].Timestamp)
}

func TestWindowEvictsLowest(t *testing.T) {
	v, _ := newTestVector(t, 6, func(o *Options) { o.WindowParam = 2 })
	require.Equal(t, 3, v.WindowConfig().Capacity)

	require.True(t, heard(t, v, "10.0.0.2", 2, 400, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 300, 0))
	require.True(t, heard(t, v, "10.0.0.4", 4, 200, 0))
	assert.Equal(t, []netip.Addr{ip("10.0.0.4"), ip("10.0.0.3"), ip("10.0.0.2")}, windowIPs(v))

	require.True(t, heard(t, v, "10.0.0.5", 5, 100, 0))
	assert.Equal(t, []netip.Addr{ip("10.0.0.5"), ip("10.0.0.4"), ip("10.0.0.3")}, windowIPs(v))

	// accepted by the vector but too old to displace anything
	require.True(t, heard(t, v, "10.0.0.6", 6, 1000, 0))
	assert.Equal(t, []netip.Addr{ip("10.0.0.5"), ip("10.0.0.4"), ip("10.0.0.3")}, windowIPs(v))

	assert.Equal(t, 1, v.WindowConfig().SendSize)
}

func TestUptoAgeSendSizeBoundary(t *testing.T) {
	v, _ := newTestVector(t, 6, func(o *Options) {
		o.Window = WindowUptoAge
		o.WindowParam = 2
	})
	cfg := v.WindowConfig()
	require.Equal(t, 6, cfg.Capacity)
	require.Equal(t, 2*time.Second, cfg.UptoAge)

	require.True(t, heard(t, v, "10.0.0.2", 2, 0, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 2000, 0))
	require.True(t, heard(t, v, "10.0.0.4", 4, 2001, 0))
	require.True(t, heard(t, v, "10.0.0.5", 5, 4000, 0))

	assert.Equal(t, 4, v.WindowConfig().Used)
	assert.Equal(t, 2, v.WindowConfig().SendSize, "exactly at the cutoff is sent, the first older slot is not")

	out := v.OutboundWindow()
	require.Len(t, out, 3)
	assert.Equal(t, ip("10.0.0.2"), out[1].Info.IP)
	assert.Equal(t, ip("10.0.0.3"), out[2].Info.IP)
}

func TestUptoAgePriorityExemption(t *testing.T) {
	v, _ := newTestVector(t, 4, func(o *Options) {
		o.Window = WindowUptoAge
		o.WindowParam = 1
	})
	require.True(t, heard(t, v, "10.0.0.2", 2, 3000, 1))

	assert.Equal(t, 1, v.WindowConfig().SendSize)
	require.Len(t, v.OutboundWindow(), 2)
	assert.Equal(t, 0, v.WindowConfig().SendSize)
}

func TestWindowAutoSizing(t *testing.T) {
	v, _ := newTestVector(t, 100, func(o *Options) { o.WindowParam = 0 })
	cfg := v.WindowConfig()
	assert.Equal(t, convergence.AutoFixedK(100), cfg.K)
	assert.Equal(t, 2*cfg.K-1, cfg.Capacity)

	v, _ = newTestVector(t, 100, func(o *Options) {
		o.Window = WindowUptoAge
		o.WindowParam = 0
		o.RoundInterval = time.Second
	})
	cfg = v.WindowConfig()
	assert.Equal(t, convergence.AutoUptoAge(100, time.Second).Truncate(time.Millisecond), cfg.UptoAge)
	assert.Equal(t, 100, cfg.Capacity)
}

func TestSetWindowRebuilds(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.1", 1, 0, 0))
	require.True(t, heard(t, v, "10.0.0.2", 2, 100, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 50, 0))

	require.NoError(t, v.SetWindow(WindowUptoAge, 10))
	cfg := v.WindowConfig()
	assert.Equal(t, WindowUptoAge, cfg.Mode)
	assert.Equal(t, 10*time.Second, cfg.UptoAge)
	assert.Equal(t, 4, cfg.Capacity)
	assert.Equal(t, []netip.Addr{ip("10.0.0.3"), ip("10.0.0.2")}, windowIPs(v))

	assert.ErrorIs(t, v.SetWindow(WindowFixed, -1), ErrInvalidWindow)
	assert.Equal(t, WindowUptoAge, v.WindowConfig().Mode)
}

func TestWindowStaysOrdered(t *testing.T) {
	v, clk := newTestVector(t, 16, func(o *Options) {
		o.Window = WindowUptoAge
		o.WindowParam = 2
	})
	r := rand.New(rand.NewPCG(7, 7))

	for range 2000 {
		n := r.IntN(16) + 1
		addr := netip.AddrFrom4([4]byte{10, 0, 0, byte(n)})
		switch r.IntN(5) {
		case 0, 1:
			info := NewNodeInfo(uint32(n), addr, v.Now()-r.Int64N(4000), nil)
			if r.IntN(4) == 0 {
				info.Status &^= StatusAlive
			}
			v.Update(info, HeaderSize, r.IntN(4))
		case 2:
			v.Punish(addr, Cause(r.IntN(7)))
		case 3:
			v.OutboundWindow()
		case 4:
			clk.Advance(time.Duration(r.IntN(300)) * time.Millisecond)
			v.AllEntries()
		}
		requireWindowSorted(t, v)

		alive := 0
		for _, e := range v.AllEntries() {
			if !e.Dead {
				alive++
			}
		}
		require.Equal(t, alive, v.AliveCount())
	}
}
