//go:build linux || darwin || freebsd || netbsd || openbsd

package transport

import (
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

// listenUDP creates a UDP socket with SO_REUSEPORT enabled so a restarted
// daemon can rebind while the old socket drains.
func listenUDP(local netip.Addr, port int) (*net.UDPConn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		log.Printf("Warning: Failed to enable SO_REUSEPORT: %v", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: local.As4()}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind %s:%d: %w", local, port, err)
	}

	file := os.NewFile(uintptr(fd), "")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create connection from file: %w", err)
	}

	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("failed to convert to UDP connection")
	}
	return udpConn, nil
}
