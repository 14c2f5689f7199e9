//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package transport

import (
	"net"
	"net/netip"
)

func listenUDP(local netip.Addr, port int) (*net.UDPConn, error) {
	return net.ListenUDP("udp4", net.UDPAddrFromAddrPort(netip.AddrPortFrom(local, uint16(port))))
}
