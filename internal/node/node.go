package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"gossimon/internal/clock"
	"gossimon/internal/config"
	"gossimon/internal/convergence"
	"gossimon/internal/gossip"
	"gossimon/internal/mapper"
	"gossimon/internal/provider"
	"gossimon/internal/transport"
	"gossimon/internal/vector"
)

// Node is a running gossimon daemon.
type Node struct {
	cfg      config.Config
	clk      clock.Clock
	provider provider.Provider
	resolver func(netip.Addr) string
	localIP  netip.Addr

	vec   *vector.Vector
	vecMu sync.RWMutex // Protects vector swaps on map changes

	clientMgr  *gossip.ClientManager
	scheduler  *gossip.Scheduler
	grpcServer *grpc.Server
	udp        *transport.UDP
	ready      chan struct{}
}

// Option customizes a Node.
type Option func(*Node)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clk = c }
}

// WithProvider replaces the local resource provider.
func WithProvider(p provider.Provider) Option {
	return func(n *Node) { n.provider = p }
}

// New builds a node from cfg. The universe comes from the map file when
// one is configured, otherwise from the inline node list.
func New(cfg config.Config, opts ...Option) (*Node, error) {
	nodes, err := loadUniverse(cfg)
	if err != nil {
		return nil, err
	}
	local, err := mapper.ResolveLocalIP(nodes, cfg.LocalIP)
	if err != nil {
		return nil, err
	}
	step, err := gossip.NewStep(cfg.Step)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:       cfg,
		clk:       clock.System{},
		localIP:   local,
		clientMgr: gossip.NewClientManager(cfg.Port),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.provider == nil {
		n.provider = defaultProvider(cfg, len(nodes))
	}
	if cfg.ResolveNames {
		n.resolver = reverseLookup
	}

	n.vec, err = n.buildVector(nodes)
	if err != nil {
		return nil, err
	}
	n.scheduler = gossip.NewScheduler(n.Vector, n.provider, n, step, cfg.TickInterval)
	return n, nil
}

func loadUniverse(cfg config.Config) ([]vector.Node, error) {
	if cfg.MapFile != "" {
		return mapper.LoadFile(cfg.MapFile)
	}
	return config.ParseNodes(cfg.Nodes)
}

func defaultProvider(cfg config.Config, size int) provider.Provider {
	p, err := provider.NewSysinfo(cfg.LoadThreshold, convergence.MaxPriority(size))
	if err != nil {
		log.Printf("Local load unavailable (%v), gossiping static information", err)
		return provider.Static{}
	}
	return p
}

func (n *Node) buildVector(nodes []vector.Node) (*vector.Vector, error) {
	schema := n.cfg.Schema
	if schema == "" {
		schema = provider.Schema
	}
	return vector.New(vector.Options{
		Nodes:            nodes,
		LocalIP:          n.localIP,
		MaxAge:           n.cfg.MaxAge,
		Window:           n.cfg.WindowMode(),
		WindowParam:      n.cfg.Window.Param,
		Schema:           schema,
		RoundInterval:    n.cfg.TickInterval,
		DeathLogCapacity: n.cfg.DeathLogCapacity,
		Clock:            n.clk,
		Resolver:         n.resolver,
	})
}

// Vector returns the current information vector.
func (n *Node) Vector() *vector.Vector {
	n.vecMu.RLock()
	defer n.vecMu.RUnlock()
	return n.vec
}

// LocalIP returns the address the node gossips as.
func (n *Node) LocalIP() netip.Addr {
	return n.localIP
}

// Scheduler returns the gossip scheduler.
func (n *Node) Scheduler() *gossip.Scheduler {
	return n.scheduler
}

// Ready is closed once the node accepts connections.
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// Push sends a window over UDP when enabled, otherwise over gRPC.
func (n *Node) Push(ctx context.Context, target netip.Addr, msg []byte) error {
	if n.udp != nil {
		return n.udp.Push(ctx, target, msg)
	}
	return n.clientMgr.Push(ctx, target, msg)
}

// Pull always goes over gRPC.
func (n *Node) Pull(ctx context.Context, target netip.Addr) ([]byte, error) {
	return n.clientMgr.Pull(ctx, target)
}

// Run serves gossip and control requests and drives the scheduler until
// ctx is done or one of them fails.
func (n *Node) Run(ctx context.Context) error {
	listenAddr := net.JoinHostPort(n.localIP.String(), strconv.Itoa(n.cfg.Port))
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	n.grpcServer = grpc.NewServer()
	gossip.RegisterGossipServer(n.grpcServer, gossip.NewServer(n.Vector))
	gossip.RegisterControlServer(n.grpcServer, gossip.NewControl(n.Vector, n.scheduler))

	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	if n.cfg.UDPPush {
		udp, err := transport.Listen(n.localIP, n.cfg.Port, n.Vector, n.clientMgr)
		if err != nil {
			lis.Close()
			return err
		}
		n.udp = udp
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := n.grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return n.scheduler.Run(gctx)
	})
	if n.udp != nil {
		g.Go(func() error {
			return n.udp.Serve(gctx)
		})
	}
	if n.cfg.MapFile != "" {
		g.Go(func() error {
			return mapper.Watch(gctx, n.cfg.MapFile, n.onMapChanged)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		n.stop()
		return nil
	})

	log.Printf("[%s] Starting node on %s (%d nodes, window %s, step %s)",
		n.localIP, listenAddr, n.Vector().Len(), n.cfg.WindowMode(), n.scheduler.StepName())
	close(n.ready)

	err = g.Wait()
	n.clientMgr.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) stop() {
	log.Printf("[%s] Stopping node", n.localIP)
	n.grpcServer.GracefulStop()
	if n.udp != nil {
		n.udp.Close()
	}
}

// onMapChanged replaces the vector with one built over the new universe.
// Gossiped state, measurements and the death log start over.
func (n *Node) onMapChanged(nodes []vector.Node) {
	local, err := mapper.ResolveLocalIP(nodes, n.cfg.LocalIP)
	if err != nil {
		log.Printf("[%s] Ignoring cluster map: %v", n.localIP, err)
		return
	}
	if local != n.localIP {
		log.Printf("[%s] Ignoring cluster map: local address moved to %s, restart required", n.localIP, local)
		return
	}

	vec, err := n.buildVector(nodes)
	if err != nil {
		log.Printf("[%s] Ignoring cluster map: %v", n.localIP, err)
		return
	}

	n.vecMu.Lock()
	n.vec = vec
	n.vecMu.Unlock()

	log.Printf("[%s] Cluster map changed: vector rebuilt with %d nodes", n.localIP, len(nodes))
}
