package gossip

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gossimon/internal/clock"
	"gossimon/internal/vector"
)

const testStart = 1_700_000_000_000

func addr(last byte) netip.Addr {
	return netip.AddrFrom4([4]byte{10, 0, 0, last})
}

func newVector(t *testing.T, n int, local byte, clk clock.Clock) *vector.Vector {
	t.Helper()
	nodes := make([]vector.Node, n)
	for i := range nodes {
		nodes[i] = vector.Node{ID: uint32(i + 1), IP: addr(byte(i + 1))}
	}
	v, err := vector.New(vector.Options{
		Nodes:       nodes,
		LocalIP:     addr(local),
		MaxAge:      10 * time.Second,
		Window:      vector.WindowFixed,
		WindowParam: 3,
		Schema:      "test",
		Clock:       clk,
		Rand:        rand.New(rand.NewPCG(3, 4)),
	})
	require.NoError(t, err)
	return v
}

func markAlive(t *testing.T, v *vector.Vector, last byte) {
	t.Helper()
	info := vector.NewNodeInfo(uint32(last), addr(last), v.Now(), []byte{last})
	require.True(t, v.Update(info, int(info.FullSize), 0))
}

// fakeTransport records pushes and serves pulls from a fixed table.
type fakeTransport struct {
	mu     sync.Mutex
	pushes map[netip.Addr][][]byte
	pulls  map[netip.Addr][]byte
	fail   map[netip.Addr]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		pushes: make(map[netip.Addr][][]byte),
		pulls:  make(map[netip.Addr][]byte),
		fail:   make(map[netip.Addr]bool),
	}
}

var errUnreachable = errors.New("unreachable")

func (f *fakeTransport) Push(ctx context.Context, target netip.Addr, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[target] {
		return errUnreachable
	}
	f.pushes[target] = append(f.pushes[target], msg)
	return nil
}

func (f *fakeTransport) Pull(ctx context.Context, target netip.Addr) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[target] {
		return nil, errUnreachable
	}
	msg, ok := f.pulls[target]
	if !ok {
		return nil, errUnreachable
	}
	return msg, nil
}

func (f *fakeTransport) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msgs := range f.pushes {
		n += len(msgs)
	}
	return n
}
