package vector

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"slices"
	"sync"
	"time"

	"gossimon/internal/clock"
	"gossimon/internal/convergence"
)

// DefaultMaxAge is the retention horizon when Options leaves it unset.
const DefaultMaxAge = 60 * time.Second

// Node is one member of the cluster universe.
type Node struct {
	ID uint32
	IP netip.Addr
}

// Entry is a snapshot of one vector position.
type Entry struct {
	Name string
	Info NodeInfo
	Dead bool
}

// Age returns how old the entry's information is at now, in milliseconds.
func (e *Entry) Age(now int64) int64 {
	return max(now-e.Info.Timestamp, 0)
}

// Options configures a Vector.
type Options struct {
	Nodes       []Node
	LocalIP     netip.Addr
	MaxAge      time.Duration
	Window      WindowMode
	WindowParam int
	Schema      string

	// RoundInterval is the gossip tick, used to auto-size an up-to-age window.
	RoundInterval time.Duration

	DeathLogCapacity int
	Clock            clock.Clock
	Rand             *rand.Rand

	// Resolver returns a display name for a node. Nil or an empty result
	// falls back to the dotted address.
	Resolver func(netip.Addr) string
}

type entry struct {
	name string
	info NodeInfo
	dead bool
}

// Vector is the information vector of one node.
type Vector struct {
	mu sync.Mutex

	entries  []entry
	index    ipIndex
	localIdx int
	alive    int

	win           window
	maxPriority   int
	localPriority int
	lastSendSize  int

	maxAge   int64
	currTime int64
	round    time.Duration
	sig      uint32

	deaths   deathLog
	measures [numMeasures]accumulator
	uptoAge  int64

	clock clock.Clock
	intN  func(int) int
}

// New builds a vector over the given universe. Every entry starts dead with
// no information.
func New(opts Options) (*Vector, error) {
	if len(opts.Nodes) == 0 {
		return nil, ErrEmptyUniverse
	}
	if !opts.LocalIP.Is4() {
		return nil, fmt.Errorf("local %s: %w", opts.LocalIP, ErrNotIPv4)
	}

	nodes := slices.Clone(opts.Nodes)
	for _, n := range nodes {
		if !n.IP.Is4() {
			return nil, fmt.Errorf("node %d (%s): %w", n.ID, n.IP, ErrNotIPv4)
		}
	}
	slices.SortFunc(nodes, func(a, b Node) int { return cmp.Compare(ipv4Uint(a.IP), ipv4Uint(b.IP)) })

	ips := make([]uint32, len(nodes))
	for i, n := range nodes {
		ips[i] = ipv4Uint(n.IP)
		if i > 0 && ips[i] == ips[i-1] {
			return nil, fmt.Errorf("%s: %w", n.IP, ErrDuplicateIP)
		}
	}

	v := &Vector{
		entries:     make([]entry, len(nodes)),
		index:       buildIndex(ips),
		localIdx:    -1,
		maxPriority: convergence.MaxPriority(len(nodes)),
		maxAge:      DefaultMaxAge.Milliseconds(),
		round:       opts.RoundInterval,
		sig:         SchemaSignature(opts.Schema),
		deaths:      newDeathLog(opts.DeathLogCapacity),
		clock:       opts.Clock,
		intN:        rand.IntN,
	}
	if opts.MaxAge > 0 {
		v.maxAge = opts.MaxAge.Milliseconds()
	}
	if v.clock == nil {
		v.clock = clock.System{}
	}
	if opts.Rand != nil {
		v.intN = opts.Rand.IntN
	}

	for i, n := range nodes {
		name := ""
		if opts.Resolver != nil {
			name = opts.Resolver(n.IP)
		}
		if name == "" {
			name = n.IP.String()
		}
		v.entries[i] = entry{
			name: name,
			info: NodeInfo{
				ProtocolSize: HeaderSize,
				FullSize:     HeaderSize,
				NodeID:       n.ID,
				Cause:        CauseNoInfo,
				IP:           n.IP,
			},
			dead: true,
		}
		if n.IP == opts.LocalIP {
			v.localIdx = i
		}
	}
	if v.localIdx < 0 {
		return nil, fmt.Errorf("%s: %w", opts.LocalIP, ErrLocalNotInUniverse)
	}

	win, err := newWindow(opts.Window, opts.WindowParam, len(nodes), opts.RoundInterval)
	if err != nil {
		return nil, err
	}
	v.win = win
	v.uptoAge = win.uptoMillis
	v.currTime = v.clock.NowMillis()
	return v, nil
}

// SchemaSignature hashes a schema description. Peers with different
// signatures never merge each other's windows.
func SchemaSignature(desc string) uint32 {
	var h uint32
	for i := 0; i < len(desc); i++ {
		h = h*31 + uint32(desc[i])
	}
	return h
}

// observe reads the clock and returns the latest time seen, so reads never
// move backward. Caller holds v.mu.
func (v *Vector) observe() int64 {
	if now := v.clock.NowMillis(); now > v.currTime {
		v.currTime = now
	}
	return v.currTime
}

func (v *Vector) snapshot(pos int) *Entry {
	e := &v.entries[pos]
	return &Entry{Name: e.name, Info: e.info.Clone(), Dead: e.dead}
}

// FindByIP returns a snapshot of the entry for ip and its position.
func (v *Vector) FindByIP(ip netip.Addr) (*Entry, int, bool) {
	if !ip.Is4() {
		return nil, 0, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	pos := v.index.lookup(ipv4Uint(ip))
	if pos < 0 {
		return nil, 0, false
	}
	return v.snapshot(pos), pos, true
}

// AllEntries returns every entry in IP order. Entries older than the
// retention horizon are punished first.
func (v *Vector) AllEntries() []*Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	out := make([]*Entry, len(v.entries))
	for i := range v.entries {
		v.punishStale(i, now)
		out[i] = v.snapshot(i)
	}
	return out
}

// EntriesByIP returns the entries for ips, with nil for addresses outside
// the universe.
func (v *Vector) EntriesByIP(ips []netip.Addr) []*Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	out := make([]*Entry, len(ips))
	for i, ip := range ips {
		if !ip.Is4() {
			continue
		}
		if pos := v.index.lookup(ipv4Uint(ip)); pos >= 0 {
			v.punishStale(pos, now)
			out[i] = v.snapshot(pos)
		}
	}
	return out
}

// MaxRangeCount bounds the number of addresses one range query may span.
const MaxRangeCount = 1 << 16

// EntriesInRange returns the entries for count consecutive addresses
// starting at base, with nil holes. The range may not pass
// 255.255.255.255 or span more than MaxRangeCount addresses.
func (v *Vector) EntriesInRange(base netip.Addr, count int) ([]*Entry, error) {
	if !base.Is4() {
		return nil, fmt.Errorf("range base %s: %w", base, ErrNotIPv4)
	}
	if count <= 0 {
		return nil, nil
	}
	if count > MaxRangeCount {
		return nil, fmt.Errorf("%w: count %d above %d", ErrInvalidRange, count, MaxRangeCount)
	}
	start := ipv4Uint(base)
	if uint64(start)+uint64(count) > 1<<32 {
		return nil, fmt.Errorf("%w: %s+%d passes the end of the address space", ErrInvalidRange, base, count)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	out := make([]*Entry, count)
	for i := range out {
		if pos := v.index.lookup(start + uint32(i)); pos >= 0 {
			v.punishStale(pos, now)
			out[i] = v.snapshot(pos)
		}
	}
	return out, nil
}

// EntriesYoungerThan returns the alive entries strictly younger than age.
func (v *Vector) EntriesYoungerThan(age time.Duration) []*Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	limit := age.Milliseconds()
	var out []*Entry
	for i := range v.entries {
		v.punishStale(i, now)
		if !v.entries[i].dead && v.age(i, now) < limit {
			out = append(out, v.snapshot(i))
		}
	}
	return out
}

// Stats summarizes the vector. Ages are in seconds over alive entries.
type Stats struct {
	Total  int
	Alive  int
	AvgAge float64
	MaxAge float64
}

// Stats returns the vector summary.
func (v *Vector) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	st := Stats{Total: len(v.entries), Alive: v.alive}
	var sum float64
	var n int
	for i := range v.entries {
		if v.entries[i].dead {
			continue
		}
		age := float64(v.age(i, now)) / 1000
		sum += age
		st.MaxAge = max(st.MaxAge, age)
		n++
	}
	if n > 0 {
		st.AvgAge = sum / float64(n)
	}
	return st
}

// RandomNode picks a peer uniformly at random. With onlyAlive set only
// alive peers qualify. The local node is never returned.
func (v *Vector) RandomNode(onlyAlive bool) (netip.Addr, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := len(v.entries)
	if !onlyAlive {
		if n < 2 {
			return netip.Addr{}, false
		}
		pos := v.intN(n - 1)
		if pos >= v.localIdx {
			pos++
		}
		return v.entries[pos].info.IP, true
	}

	candidates := make([]int, 0, v.alive)
	for i := range v.entries {
		if i != v.localIdx && !v.entries[i].dead {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return netip.Addr{}, false
	}
	return v.entries[candidates[v.intN(len(candidates))]].info.IP, true
}

// OldestAliveNode returns the alive peer with the oldest information.
func (v *Vector) OldestAliveNode() (netip.Addr, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	best, bestAge := -1, int64(-1)
	for i := range v.entries {
		if i == v.localIdx || v.entries[i].dead {
			continue
		}
		if age := v.age(i, now); age > bestAge {
			best, bestAge = i, age
		}
	}
	if best < 0 {
		return netip.Addr{}, false
	}
	return v.entries[best].info.IP, true
}

// Signature returns the schema signature carried by window messages.
func (v *Vector) Signature() uint32 {
	return v.sig
}

// LocalIP returns the local node's address.
func (v *Vector) LocalIP() netip.Addr {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.entries[v.localIdx].info.IP
}

// LocalNodeID returns the local node's ID.
func (v *Vector) LocalNodeID() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.entries[v.localIdx].info.NodeID
}

// Contains reports whether ip is part of the universe.
func (v *Vector) Contains(ip netip.Addr) bool {
	if !ip.Is4() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.index.lookup(ipv4Uint(ip)) >= 0
}

// Now returns the vector's current time in milliseconds.
func (v *Vector) Now() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.observe()
}

// MaxAge returns the retention horizon.
func (v *Vector) MaxAge() time.Duration {
	return time.Duration(v.maxAge) * time.Millisecond
}

// Len returns the universe size.
func (v *Vector) Len() int {
	return len(v.entries)
}

// AliveCount returns the number of alive entries.
func (v *Vector) AliveCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alive
}

// EnableMeasurement (re)starts an accumulator. maxSamples == 0 collects
// without limit.
func (v *Vector) EnableMeasurement(kind MeasureKind, maxSamples int) error {
	if kind < 0 || kind >= numMeasures {
		return fmt.Errorf("%w: %d", ErrUnknownMeasurement, int(kind))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.measures[kind].reset(max(maxSamples, 0))
	return nil
}

// DisableMeasurement stops an accumulator, keeping its last average.
func (v *Vector) DisableMeasurement(kind MeasureKind) error {
	if kind < 0 || kind >= numMeasures {
		return fmt.Errorf("%w: %d", ErrUnknownMeasurement, int(kind))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.measures[kind].enabled = false
	return nil
}

// SetUptoAgeThreshold sets the age under which the upto-age measurement
// counts an entry.
func (v *Vector) SetUptoAgeThreshold(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.uptoAge = d.Milliseconds()
}

// Measurements returns every accumulator.
func (v *Vector) Measurements() []Measurement {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Measurement, numMeasures)
	for k := range numMeasures {
		a := v.measures[k]
		out[k] = Measurement{Kind: k, Enabled: a.enabled, Samples: a.samples, MaxSamples: a.max, Average: a.avg}
	}
	return out
}

// Sample feeds one round into the enabled accumulators. msgSize is the
// size of the window message sent this round.
func (v *Vector) Sample(msgSize int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	if a := &v.measures[MeasureAge]; a.enabled {
		var sum float64
		var n int
		for i := range v.entries {
			if !v.entries[i].dead {
				sum += float64(v.age(i, now))
				n++
			}
		}
		if n > 0 {
			a.add(sum / float64(n))
		}
	}
	v.measures[MeasureWindowSize].add(float64(v.lastSendSize))
	// rounds that push nothing sample zero
	v.lastSendSize = 0
	if a := &v.measures[MeasureUptoAge]; a.enabled {
		var n int
		for i := range v.entries {
			if !v.entries[i].dead && v.age(i, now) <= v.uptoAge {
				n++
			}
		}
		a.add(float64(n))
	}
	v.measures[MeasureMessageSize].add(float64(msgSize))
}
