package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"

	"gossimon/internal/vector"
	"gossimon/internal/wire"
)

// MaxDatagram is the largest window message sent as a single datagram.
const MaxDatagram = 1400

const readTimeout = 1 * time.Second

// Fallback carries what UDP cannot.
type Fallback interface {
	Push(ctx context.Context, target netip.Addr, msg []byte) error
	Pull(ctx context.Context, target netip.Addr) ([]byte, error)
}

// UDP pushes window messages as datagrams and merges the ones it receives.
type UDP struct {
	local        netip.Addr
	port         int
	conn         *net.UDPConn
	pc           *ipv4.PacketConn
	fallback     Fallback
	vectorGetter func() *vector.Vector
}

// Listen binds local:port. Inbound windows are merged into the vector
// returned by vectorGetter.
func Listen(local netip.Addr, port int, vectorGetter func() *vector.Vector, fallback Fallback) (*UDP, error) {
	if !local.Is4() {
		return nil, fmt.Errorf("udp transport %s: %w", local, vector.ErrNotIPv4)
	}
	conn, err := listenUDP(local, port)
	if err != nil {
		return nil, err
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagSrc|ipv4.FlagDst, true); err != nil {
		log.Printf("[%s] UDP control messages unavailable: %v", local, err)
	}

	return &UDP{
		local:        local,
		port:         port,
		conn:         conn,
		pc:           pc,
		fallback:     fallback,
		vectorGetter: vectorGetter,
	}, nil
}

// Push sends msg to target, using the fallback when it is too large.
func (u *UDP) Push(ctx context.Context, target netip.Addr, msg []byte) error {
	if len(msg) > MaxDatagram {
		if u.fallback == nil {
			return fmt.Errorf("window of %d bytes exceeds datagram limit", len(msg))
		}
		return u.fallback.Push(ctx, target, msg)
	}
	if deadline, ok := ctx.Deadline(); ok {
		u.conn.SetWriteDeadline(deadline)
	}
	dst := &net.UDPAddr{IP: target.AsSlice(), Port: u.port}
	if _, err := u.pc.WriteTo(msg, nil, dst); err != nil {
		return fmt.Errorf("udp push to %s: %w", target, err)
	}
	return nil
}

// Pull is always served by the fallback.
func (u *UDP) Pull(ctx context.Context, target netip.Addr) ([]byte, error) {
	if u.fallback == nil {
		return nil, errors.New("udp transport cannot pull")
	}
	return u.fallback.Pull(ctx, target)
}

// Serve reads datagrams until ctx is done. Datagrams from addresses outside
// the universe are dropped.
func (u *UDP) Serve(ctx context.Context) error {
	buf := make([]byte, 64*1024)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		u.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, cm, src, err := u.pc.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[%s] Error reading UDP message: %v", u.local, err)
			continue
		}

		sender, ok := senderAddr(cm, src)
		if !ok {
			continue
		}
		u.handle(sender, buf[:n])
	}
}

func (u *UDP) handle(sender netip.Addr, msg []byte) {
	v := u.vectorGetter()
	if v == nil {
		return
	}
	if !v.Contains(sender) {
		log.Printf("[%s] Dropped window from %s: not a cluster member", u.local, sender)
		return
	}
	if _, err := wire.ApplyWindow(v, msg); err != nil {
		log.Printf("[%s] Rejected window from %s: %v", u.local, sender, err)
	}
}

// senderAddr prefers the source reported in the control message.
func senderAddr(cm *ipv4.ControlMessage, src net.Addr) (netip.Addr, bool) {
	if cm != nil && cm.Src != nil {
		if ip, ok := netip.AddrFromSlice(cm.Src); ok {
			return ip.Unmap(), true
		}
	}
	if ua, ok := src.(*net.UDPAddr); ok {
		if ip, ok := netip.AddrFromSlice(ua.IP); ok {
			return ip.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

// Close closes the socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}
