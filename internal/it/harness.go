package it

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"gossimon/internal/config"
	"gossimon/internal/gossip"
	"gossimon/internal/node"
	"gossimon/internal/provider"
	"gossimon/internal/vector"
	"gossimon/internal/wire"
)

// ErrNoLoopbackAliases means the host cannot bind 127.0.0.2 and above, so
// nodes cannot get distinct addresses.
var ErrNoLoopbackAliases = errors.New("extra loopback addresses are not bindable")

// Options tunes every node of a cluster.
type Options struct {
	Tick    time.Duration
	MaxAge  time.Duration
	Step    string
	UDPPush bool
}

// Cluster is a set of in-process daemons on 127.0.0.1, 127.0.0.2, ...
// sharing one port.
type Cluster struct {
	mu    sync.Mutex
	nodes []*Member
	port  int
	opts  Options
}

// Member is one daemon of the cluster.
type Member struct {
	ID   uint32
	IP   netip.Addr
	Load float64

	node    *node.Node
	cancel  context.CancelFunc
	done    chan error
	conn    *grpc.ClientConn
	control *gossip.ControlClient
}

// NewCluster reserves a port for a cluster of size nodes. Nodes are not
// started.
func NewCluster(size int, opts Options) (*Cluster, error) {
	if opts.Tick <= 0 {
		opts.Tick = 50 * time.Millisecond
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 2 * time.Second
	}
	if opts.Step == "" {
		opts.Step = "push-random"
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to reserve port: %w", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	c := &Cluster{port: port, opts: opts}
	for i := 0; i < size; i++ {
		ip := netip.AddrFrom4([4]byte{127, 0, 0, byte(i + 1)})
		probe, err := net.Listen("tcp", netip.AddrPortFrom(ip, 0).String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoLoopbackAliases, err)
		}
		probe.Close()
		c.nodes = append(c.nodes, &Member{ID: uint32(i + 1), IP: ip, Load: float64(i+1) / 4})
	}
	return c, nil
}

func (c *Cluster) nodeList() string {
	parts := make([]string, len(c.nodes))
	for i, m := range c.nodes {
		parts[i] = fmt.Sprintf("%d=%s", m.ID, m.IP)
	}
	return strings.Join(parts, ",")
}

// StartCluster starts every node and waits until each accepts connections.
func (c *Cluster) StartCluster(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.nodes {
		if err := c.start(ctx, m); err != nil {
			c.stopAll()
			return err
		}
	}
	return nil
}

func (c *Cluster) start(ctx context.Context, m *Member) error {
	cfg := config.Default()
	cfg.Nodes = c.nodeList()
	cfg.LocalIP = m.IP.String()
	cfg.Port = c.port
	cfg.TickInterval = c.opts.Tick
	cfg.MaxAge = c.opts.MaxAge
	cfg.Step = c.opts.Step
	cfg.UDPPush = c.opts.UDPPush
	if err := cfg.Validate(); err != nil {
		return err
	}

	p := provider.Static{Info: provider.LoadInfo{Load1: m.Load, Procs: uint16(m.ID)}}
	n, err := node.New(cfg, node.WithProvider(p))
	if err != nil {
		return fmt.Errorf("failed to create node %s: %w", m.IP, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(runCtx) }()

	select {
	case <-n.Ready():
	case err := <-done:
		cancel()
		return fmt.Errorf("node %s exited during startup: %w", m.IP, err)
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}

	control, conn, err := gossip.DialControl(m.IP.String(), c.port)
	if err != nil {
		cancel()
		<-done
		return err
	}

	m.node, m.cancel, m.done = n, cancel, done
	m.conn, m.control = conn, control
	return nil
}

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopAll()
}

func (c *Cluster) stopAll() {
	for _, m := range c.nodes {
		m.Stop()
	}
}

// Stop stops a single node. Stopping a stopped node is a no-op.
func (m *Member) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.conn.Close()
	m.cancel, m.node, m.control, m.conn = nil, nil, nil, nil
}

// Control returns the control client of a running node.
func (m *Member) Control() *gossip.ControlClient {
	return m.control
}

// Vector returns the node's live vector.
func (m *Member) Vector() *vector.Vector {
	if m.node == nil {
		return nil
	}
	return m.node.Vector()
}

// Nodes returns the cluster members in address order.
func (c *Cluster) Nodes() []*Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Member(nil), c.nodes...)
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(id uint32) *Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.nodes {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// KillNode stops a specific node.
func (c *Cluster) KillNode(id uint32) error {
	m := c.GetNode(id)
	if m == nil {
		return fmt.Errorf("node %d not found", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Stop()
	return nil
}

// RestartNode starts a stopped node again with a fresh vector.
func (c *Cluster) RestartNode(ctx context.Context, id uint32) error {
	m := c.GetNode(id)
	if m == nil {
		return fmt.Errorf("node %d not found", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Stop()
	return c.start(ctx, m)
}

// Query asks a node for its whole vector over the control service.
func (m *Member) Query(ctx context.Context) ([]*vector.Entry, error) {
	if m.control == nil {
		return nil, fmt.Errorf("node %s is not running", m.IP)
	}
	reply, err := m.control.Query(ctx, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	return wire.UnpackQueryReply(reply.GetValue())
}

// Knows reports whether the node holds a live entry for peer carrying the
// peer's load.
func (m *Member) Knows(ctx context.Context, peer *Member) bool {
	entries, err := m.Query(ctx)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e == nil || e.Info.IP != peer.IP || e.Dead {
			continue
		}
		li, err := provider.DecodeLoadInfo(e.Info.Payload)
		return err == nil && li.Load1 == peer.Load
	}
	return false
}
