package vector

import (
	"errors"
	"math/rand/v2"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossimon/internal/clock"
)

const testStart = 1_700_000_000_000

func ip(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func testNodes(n int) []Node {
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i] = Node{ID: uint32(i + 1), IP: netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)})}
	}
	return nodes
}

func newTestVector(t *testing.T, n int, mutate func(*Options)) (*Vector, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testStart)
	opts := Options{
		Nodes:       testNodes(n),
		LocalIP:     ip("10.0.0.1"),
		MaxAge:      5 * time.Second,
		Window:      WindowFixed,
		WindowParam: 3,
		Schema:      "load:f64,mem:u64",
		Clock:       clk,
		Rand:        rand.New(rand.NewPCG(1, 2)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	v, err := New(opts)
	require.NoError(t, err)
	return v, clk
}

// heard merges alive information for addr stamped age milliseconds ago.
func heard(t *testing.T, v *Vector, addr string, id uint32, age int64, priority int) bool {
	t.Helper()
	info := NewNodeInfo(id, ip(addr), v.Now()-age, []byte{1, 2, 3})
	return v.Update(info, int(info.FullSize), priority)
}

func TestNew(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)

	assert.Equal(t, 4, v.Len())
	assert.Equal(t, 0, v.AliveCount())
	assert.Equal(t, ip("10.0.0.1"), v.LocalIP())
	assert.Equal(t, uint32(1), v.LocalNodeID())
	assert.Equal(t, SchemaSignature("load:f64,mem:u64"), v.Signature())
	assert.Equal(t, int64(testStart), v.Now())

	for _, e := range v.AllEntries() {
		assert.True(t, e.Dead)
		assert.Equal(t, CauseNoInfo, e.Info.Cause)
		assert.Zero(t, e.Info.Timestamp)
		assert.Equal(t, e.Info.IP.String(), e.Name)
	}
}

func TestNewSortsByIP(t *testing.T) {
	nodes := []Node{
		{ID: 3, IP: ip("10.0.1.1")},
		{ID: 1, IP: ip("10.0.0.2")},
		{ID: 2, IP: ip("10.0.0.10")},
	}
	v, err := New(Options{Nodes: nodes, LocalIP: ip("10.0.0.10"), Clock: clock.NewManual(testStart)})
	require.NoError(t, err)

	entries := v.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, ip("10.0.0.2"), entries[0].Info.IP)
	assert.Equal(t, ip("10.0.0.10"), entries[1].Info.IP)
	assert.Equal(t, ip("10.0.1.1"), entries[2].Info.IP)
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{
			name: "empty universe",
			opts: Options{LocalIP: ip("10.0.0.1")},
			want: ErrEmptyUniverse,
		},
		{
			name: "local missing",
			opts: Options{Nodes: testNodes(3), LocalIP: ip("10.0.0.9")},
			want: ErrLocalNotInUniverse,
		},
		{
			name: "duplicate",
			opts: Options{Nodes: []Node{{ID: 1, IP: ip("10.0.0.1")}, {ID: 2, IP: ip("10.0.0.1")}}, LocalIP: ip("10.0.0.1")},
			want: ErrDuplicateIP,
		},
		{
			name: "ipv6 node",
			opts: Options{Nodes: []Node{{ID: 1, IP: ip("::1")}}, LocalIP: ip("10.0.0.1")},
			want: ErrNotIPv4,
		},
		{
			name: "negative window",
			opts: Options{Nodes: testNodes(3), LocalIP: ip("10.0.0.1"), WindowParam: -1},
			want: ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestResolverNames(t *testing.T) {
	v, _ := newTestVector(t, 2, func(o *Options) {
		o.Resolver = func(a netip.Addr) string {
			if a == ip("10.0.0.2") {
				return "node-two"
			}
			return ""
		}
	})

	entries := v.AllEntries()
	assert.Equal(t, "10.0.0.1", entries[0].Name)
	assert.Equal(t, "node-two", entries[1].Name)
}

func TestSchemaSignature(t *testing.T) {
	assert.Equal(t, uint32(0), SchemaSignature(""))
	assert.Equal(t, uint32(97), SchemaSignature("a"))
	assert.Equal(t, uint32(97*31+98), SchemaSignature("ab"))
	assert.NotEqual(t, SchemaSignature("load"), SchemaSignature("daol"))
}

// Scenario A: lazy age timeout on read.
func TestAgeTimeoutOnRead(t *testing.T) {
	v, clk := newTestVector(t, 4, nil)

	require.True(t, heard(t, v, "10.0.0.2", 2, 0, 0))
	entries := v.AllEntries()
	assert.False(t, entries[1].Dead)
	assert.Equal(t, CauseAlive, entries[1].Info.Cause)
	assert.True(t, entries[2].Dead)
	assert.Equal(t, 1, v.AliveCount())

	clk.Advance(6 * time.Second)
	entries = v.AllEntries()
	assert.True(t, entries[1].Dead)
	assert.False(t, entries[1].Info.Alive())
	assert.Equal(t, CauseAgeTimeout, entries[1].Info.Cause)
	assert.Equal(t, 0, v.AliveCount())
	assert.Equal(t, CauseNoInfo, entries[2].Info.Cause)
}

func TestFindByIP(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.3", 3, 10, 0))

	e, pos, ok := v.FindByIP(ip("10.0.0.3"))
	require.True(t, ok)
	assert.Equal(t, 2, pos)
	assert.Equal(t, uint32(3), e.Info.NodeID)
	assert.False(t, e.Dead)

	_, _, ok = v.FindByIP(ip("10.0.0.99"))
	assert.False(t, ok)
	_, _, ok = v.FindByIP(ip("::1"))
	assert.False(t, ok)
	assert.True(t, v.Contains(ip("10.0.0.4")))
	assert.False(t, v.Contains(ip("10.0.0.5")))
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	v, _ := newTestVector(t, 2, nil)
	require.True(t, heard(t, v, "10.0.0.2", 2, 0, 0))

	first := v.AllEntries()
	first[1].Info.Payload[0] = 99
	first[1].Dead = true

	second := v.AllEntries()
	assert.Equal(t, []byte{1, 2, 3}, second[1].Info.Payload)
	assert.False(t, second[1].Dead)
}

func TestEntriesByIP(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.2", 2, 0, 0))

	got := v.EntriesByIP([]netip.Addr{ip("10.0.0.2"), ip("10.9.9.9"), ip("10.0.0.4")})
	require.Len(t, got, 3)
	require.NotNil(t, got[0])
	assert.False(t, got[0].Dead)
	assert.Nil(t, got[1])
	require.NotNil(t, got[2])
	assert.True(t, got[2].Dead)
}

func TestEntriesInRange(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)

	got, err := v.EntriesInRange(ip("10.0.0.3"), 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, ip("10.0.0.3"), got[0].Info.IP)
	assert.Equal(t, ip("10.0.0.4"), got[1].Info.IP)
	assert.Nil(t, got[2])
	assert.Nil(t, got[3])

	got, err = v.EntriesInRange(ip("10.0.0.1"), 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEntriesInRangeBounds(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)

	got, err := v.EntriesInRange(ip("10.0.0.1"), MaxRangeCount)
	require.NoError(t, err)
	assert.Len(t, got, MaxRangeCount)

	_, err = v.EntriesInRange(ip("10.0.0.1"), MaxRangeCount+1)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = v.EntriesInRange(ip("10.0.0.1"), 1<<30)
	assert.ErrorIs(t, err, ErrInvalidRange)

	// The last two addresses fit; one more would wrap to 0.0.0.0.
	got, err = v.EntriesInRange(ip("255.255.255.254"), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	_, err = v.EntriesInRange(ip("255.255.255.254"), 3)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = v.EntriesInRange(netip.MustParseAddr("::1"), 1)
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestEntriesYoungerThan(t *testing.T) {
	v, clk := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.2", 2, 1000, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 3000, 0))

	got := v.EntriesYoungerThan(2 * time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, ip("10.0.0.2"), got[0].Info.IP)

	// 10.0.0.3 crosses the horizon and is punished on the way
	clk.Advance(2500 * time.Millisecond)
	got = v.EntriesYoungerThan(time.Hour)
	require.Len(t, got, 1)
	assert.Equal(t, ip("10.0.0.2"), got[0].Info.IP)
	assert.Equal(t, 1, v.AliveCount())
}

func TestStats(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.2", 2, 1000, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 3000, 0))

	st := v.Stats()
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.Alive)
	assert.InDelta(t, 2.0, st.AvgAge, 1e-9)
	assert.InDelta(t, 3.0, st.MaxAge, 1e-9)
}

func TestStatsEmpty(t *testing.T) {
	v, _ := newTestVector(t, 3, nil)
	assert.Equal(t, Stats{Total: 3}, v.Stats())
}

func TestRandomNode(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)

	seen := map[netip.Addr]bool{}
	for range 200 {
		got, ok := v.RandomNode(false)
		require.True(t, ok)
		require.NotEqual(t, ip("10.0.0.1"), got)
		seen[got] = true
	}
	assert.Len(t, seen, 3)

	_, ok := v.RandomNode(true)
	assert.False(t, ok)

	require.True(t, heard(t, v, "10.0.0.1", 1, 0, 0))
	_, ok = v.RandomNode(true)
	assert.False(t, ok, "local node alone is not a candidate")

	require.True(t, heard(t, v, "10.0.0.3", 3, 0, 0))
	for range 20 {
		got, ok := v.RandomNode(true)
		require.True(t, ok)
		assert.Equal(t, ip("10.0.0.3"), got)
	}
}

func TestRandomNodeSingleton(t *testing.T) {
	v, _ := newTestVector(t, 1, nil)
	_, ok := v.RandomNode(false)
	assert.False(t, ok)
}

func TestOldestAliveNode(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)
	_, ok := v.OldestAliveNode()
	assert.False(t, ok)

	require.True(t, heard(t, v, "10.0.0.1", 1, 4000, 0))
	require.True(t, heard(t, v, "10.0.0.2", 2, 100, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 3000, 0))

	got, ok := v.OldestAliveNode()
	require.True(t, ok)
	assert.Equal(t, ip("10.0.0.3"), got)
}

func TestMeasurements(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)

	require.NoError(t, v.EnableMeasurement(MeasureMessageSize, 2))
	v.Sample(100)
	v.Sample(200)
	v.Sample(300)

	m := v.Measurements()
	require.Len(t, m, 4)
	assert.Equal(t, MeasureMessageSize, m[MeasureMessageSize].Kind)
	assert.True(t, m[MeasureMessageSize].Enabled)
	assert.Equal(t, 2, m[MeasureMessageSize].Samples)
	assert.InDelta(t, 150.0, m[MeasureMessageSize].Average, 1e-9)
	assert.False(t, m[MeasureAge].Enabled)
	assert.Zero(t, m[MeasureAge].Samples)

	require.NoError(t, v.DisableMeasurement(MeasureMessageSize))
	assert.False(t, v.Measurements()[MeasureMessageSize].Enabled)

	assert.ErrorIs(t, v.EnableMeasurement(MeasureKind(42), 0), ErrUnknownMeasurement)
}

func TestMeasureAgeAndUptoAge(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.2", 2, 1000, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 3000, 0))

	require.NoError(t, v.EnableMeasurement(MeasureAge, 0))
	require.NoError(t, v.EnableMeasurement(MeasureUptoAge, 0))
	v.SetUptoAgeThreshold(2 * time.Second)
	v.Sample(0)

	m := v.Measurements()
	assert.InDelta(t, 2000.0, m[MeasureAge].Average, 1e-9)
	assert.InDelta(t, 1.0, m[MeasureUptoAge].Average, 1e-9)
}

func TestMeasureWindowSizeResetsBetweenRounds(t *testing.T) {
	v, _ := newTestVector(t, 4, nil)
	require.True(t, heard(t, v, "10.0.0.2", 2, 0, 0))
	require.True(t, heard(t, v, "10.0.0.3", 3, 0, 0))
	require.True(t, heard(t, v, "10.0.0.4", 4, 0, 0))
	require.NoError(t, v.EnableMeasurement(MeasureWindowSize, 0))

	out := v.OutboundWindow()
	require.Len(t, out, 3)
	v.Sample(0)
	// no window went out this round
	v.Sample(0)

	m := v.Measurements()[MeasureWindowSize]
	assert.Equal(t, 2, m.Samples)
	assert.InDelta(t, 1.0, m.Average, 1e-9)
}

func TestParseMeasureKind(t *testing.T) {
	k, err := ParseMeasureKind("Window-Size")
	require.NoError(t, err)
	assert.Equal(t, MeasureWindowSize, k)
	assert.Equal(t, "message-size", MeasureMessageSize.String())

	_, err = ParseMeasureKind("latency")
	assert.ErrorIs(t, err, ErrUnknownMeasurement)
}
