package node

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"

	"gossimon/internal/clock"
	"gossimon/internal/config"
	"gossimon/internal/gossip"
	"gossimon/internal/provider"
	"gossimon/internal/vector"
)

func testConfig(nodes, local string) config.Config {
	cfg := config.Default()
	cfg.Nodes = nodes
	cfg.LocalIP = local
	cfg.TickInterval = 50 * time.Millisecond
	return cfg
}

func TestNewFromInlineNodes(t *testing.T) {
	cfg := testConfig("1=127.0.0.1,2=127.0.0.2,3=127.0.0.3", "127.0.0.2")

	n, err := New(cfg, WithProvider(provider.Static{}))
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("127.0.0.2"), n.LocalIP())
	require.NotNil(t, n.Vector())
	assert.Equal(t, 3, n.Vector().Len())
	assert.Equal(t, uint32(2), n.Vector().LocalNodeID())
	assert.Equal(t, vector.SchemaSignature(provider.Schema), n.Vector().Signature())
	assert.Equal(t, "push-random", n.Scheduler().StepName())
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   error
	}{
		{
			name:   "local outside universe",
			mutate: func(c *config.Config) { c.LocalIP = "127.0.0.9" },
			want:   vector.ErrLocalNotInUniverse,
		},
		{
			name:   "unknown step",
			mutate: func(c *config.Config) { c.Step = "flood" },
			want:   gossip.ErrUnknownStep,
		},
		{
			name:   "bad node list",
			mutate: func(c *config.Config) { c.Nodes = "1=not-an-ip" },
			want:   config.ErrInvalidNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("1=127.0.0.1,2=127.0.0.2", "127.0.0.1")
			tt.mutate(&cfg)
			_, err := New(cfg, WithProvider(provider.Static{}))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewUsesConfiguredSchemaAndWindow(t *testing.T) {
	cfg := testConfig("1=127.0.0.1,2=127.0.0.2", "127.0.0.1")
	cfg.Schema = "custom"
	cfg.Window = config.WindowConfig{Mode: "upto-age", Param: 7}
	cfg.MaxAge = 30 * time.Second

	n, err := New(cfg, WithProvider(provider.Static{}), WithClock(clock.NewManual(1_700_000_000_000)))
	require.NoError(t, err)

	v := n.Vector()
	assert.Equal(t, vector.SchemaSignature("custom"), v.Signature())
	wc := v.WindowConfig()
	assert.Equal(t, vector.WindowUptoAge, wc.Mode)
	assert.Equal(t, 7*time.Second, wc.UptoAge)
	assert.Equal(t, 30*time.Second, v.MaxAge())
	assert.Equal(t, int64(1_700_000_000_000), v.Now())
}

func TestNewFromMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	doc := "ranges:\n  - base: 127.0.0.1\n    count: 4\n    first_id: 10\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg := testConfig("", "127.0.0.3")
	cfg.MapFile = path

	n, err := New(cfg, WithProvider(provider.Static{}))
	require.NoError(t, err)
	assert.Equal(t, 4, n.Vector().Len())
	assert.Equal(t, uint32(12), n.Vector().LocalNodeID())
}

func TestOnMapChanged(t *testing.T) {
	cfg := testConfig("1=127.0.0.1,2=127.0.0.2", "127.0.0.1")
	n, err := New(cfg, WithProvider(provider.Static{}))
	require.NoError(t, err)
	before := n.Vector()

	// Without the local address the map is ignored.
	n.onMapChanged([]vector.Node{{ID: 5, IP: netip.MustParseAddr("127.0.0.5")}})
	assert.Same(t, before, n.Vector())

	n.onMapChanged([]vector.Node{
		{ID: 1, IP: netip.MustParseAddr("127.0.0.1")},
		{ID: 2, IP: netip.MustParseAddr("127.0.0.2")},
		{ID: 3, IP: netip.MustParseAddr("127.0.0.3")},
	})
	after := n.Vector()
	assert.NotSame(t, before, after)
	assert.Equal(t, 3, after.Len())
	assert.True(t, after.Contains(netip.MustParseAddr("127.0.0.3")))
}

func TestReverseLookup(t *testing.T) {
	orig := lookupAddr
	t.Cleanup(func() { lookupAddr = orig })

	lookupAddr = func(ctx context.Context, addr string) ([]string, error) {
		if addr == "127.0.0.1" {
			return []string{"alpha.cluster.local."}, nil
		}
		return nil, errors.New("no PTR record")
	}

	assert.Equal(t, "alpha.cluster.local", reverseLookup(netip.MustParseAddr("127.0.0.1")))
	assert.Equal(t, "", reverseLookup(netip.MustParseAddr("127.0.0.2")))

	cfg := testConfig("1=127.0.0.1,2=127.0.0.2", "127.0.0.1")
	cfg.ResolveNames = true
	n, err := New(cfg, WithProvider(provider.Static{}))
	require.NoError(t, err)

	entries := n.Vector().AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha.cluster.local", entries[0].Name)
	assert.Equal(t, "127.0.0.2", entries[1].Name)
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return port
}

func TestRunServesControl(t *testing.T) {
	cfg := testConfig("1=127.0.0.1,2=127.0.0.2", "127.0.0.1")
	cfg.Port = freeTCPPort(t)

	n, err := New(cfg, WithProvider(provider.Static{Info: provider.LoadInfo{Load1: 0.5}}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case <-n.Ready():
	case err := <-done:
		t.Fatalf("node exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not start")
	}

	client, cc, err := gossip.DialControl("127.0.0.1", cfg.Port)
	require.NoError(t, err)
	defer cc.Close()

	// The scheduler stamps the local entry on its first tick.
	require.Eventually(t, func() bool {
		rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
		defer rcancel()
		st, err := client.Stats(rctx, &emptypb.Empty{})
		return err == nil && st.Fields["alive"].GetNumberValue() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}
