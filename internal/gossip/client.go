package gossip

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ClientManager caches gRPC connections to peer daemons.
type ClientManager struct {
	mu    sync.RWMutex
	port  int
	conns map[netip.Addr]*grpc.ClientConn
}

// NewClientManager creates a client manager dialing peers on port.
func NewClientManager(port int) *ClientManager {
	return &ClientManager{
		port:  port,
		conns: make(map[netip.Addr]*grpc.ClientConn),
	}
}

// conn returns the connection to ip, creating it on first use.
func (cm *ClientManager) conn(ip netip.Addr) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	cc, exists := cm.conns[ip]
	cm.mu.RUnlock()

	if exists {
		return cc, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if cc, exists := cm.conns[ip]; exists {
		return cc, nil
	}

	addr := netip.AddrPortFrom(ip, uint16(cm.port)).String()
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	cm.conns[ip] = cc
	return cc, nil
}

// GossipClient returns a Gossip client for the peer at ip.
func (cm *ClientManager) GossipClient(ip netip.Addr) (*GossipClient, error) {
	cc, err := cm.conn(ip)
	if err != nil {
		return nil, err
	}
	return NewGossipClient(cc), nil
}

// Push implements Transport over gRPC.
func (cm *ClientManager) Push(ctx context.Context, target netip.Addr, msg []byte) error {
	client, err := cm.GossipClient(target)
	if err != nil {
		return err
	}
	_, err = client.Push(ctx, wrapperspb.Bytes(msg))
	return err
}

// Pull implements Transport over gRPC.
func (cm *ClientManager) Pull(ctx context.Context, target netip.Addr) ([]byte, error) {
	client, err := cm.GossipClient(target)
	if err != nil {
		return nil, err
	}
	resp, err := client.Pull(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	return resp.GetValue(), nil
}

// Close closes every cached connection.
func (cm *ClientManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, cc := range cm.conns {
		cc.Close()
	}
	cm.conns = make(map[netip.Addr]*grpc.ClientConn)
}

// DialControl connects to the control service of the daemon at host:port.
// The caller closes the returned connection.
func DialControl(host string, port int) (*ControlClient, *grpc.ClientConn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return NewControlClient(cc), cc, nil
}
