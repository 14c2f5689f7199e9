package mapper

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"gossimon/internal/vector"
)

var (
	ErrEmptyMap      = errors.New("cluster map lists no nodes")
	ErrInvalidRange  = errors.New("invalid node range")
	ErrLocalNotFound = errors.New("no local address belongs to the cluster map")
)

// NodeSpec is a single node in the cluster map.
type NodeSpec struct {
	ID uint32 `yaml:"id"`
	IP string `yaml:"ip"`
}

// RangeSpec is count consecutive addresses starting at Base, numbered from
// FirstID.
type RangeSpec struct {
	Base    string `yaml:"base"`
	Count   int    `yaml:"count"`
	FirstID uint32 `yaml:"first_id"`
}

// Map is the cluster map file.
type Map struct {
	Nodes  []NodeSpec  `yaml:"nodes"`
	Ranges []RangeSpec `yaml:"ranges"`
}

// LoadFile reads and expands a cluster map.
func LoadFile(path string) ([]vector.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read map file: %w", err)
	}
	return Parse(data)
}

// Parse expands a cluster map document into the node universe.
func Parse(data []byte) ([]vector.Node, error) {
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse map file: %w", err)
	}
	return m.Expand()
}

// Expand returns every node the map describes, in file order.
func (m *Map) Expand() ([]vector.Node, error) {
	var nodes []vector.Node
	for _, n := range m.Nodes {
		ip, err := netip.ParseAddr(n.IP)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", n.ID, err)
		}
		if !ip.Is4() {
			return nil, fmt.Errorf("node %d: %w", n.ID, vector.ErrNotIPv4)
		}
		nodes = append(nodes, vector.Node{ID: n.ID, IP: ip})
	}

	for _, r := range m.Ranges {
		base, err := netip.ParseAddr(r.Base)
		if err != nil || !base.Is4() {
			return nil, fmt.Errorf("%w: base %q", ErrInvalidRange, r.Base)
		}
		if r.Count <= 0 {
			return nil, fmt.Errorf("%w: %s count %d", ErrInvalidRange, r.Base, r.Count)
		}
		ip := base
		for i := 0; i < r.Count; i++ {
			if !ip.IsValid() || !ip.Is4() {
				return nil, fmt.Errorf("%w: %s+%d leaves the IPv4 space", ErrInvalidRange, r.Base, r.Count)
			}
			nodes = append(nodes, vector.Node{ID: r.FirstID + uint32(i), IP: ip})
			ip = ip.Next()
		}
	}

	if len(nodes) == 0 {
		return nil, ErrEmptyMap
	}
	return nodes, nil
}

// interfaceAddrs lists the host's addresses.
var interfaceAddrs = net.InterfaceAddrs

// ResolveLocalIP picks the local node's address. A configured address must
// belong to the universe; otherwise the first interface address that does
// is used.
func ResolveLocalIP(nodes []vector.Node, configured string) (netip.Addr, error) {
	member := make(map[netip.Addr]bool, len(nodes))
	for _, n := range nodes {
		member[n.IP] = true
	}

	if configured != "" {
		ip, err := netip.ParseAddr(configured)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("local ip: %w", err)
		}
		if !member[ip] {
			return netip.Addr{}, fmt.Errorf("%s: %w", ip, vector.ErrLocalNotInUniverse)
		}
		return ip, nil
	}

	addrs, err := interfaceAddrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		if ip = ip.Unmap(); member[ip] {
			return ip, nil
		}
	}
	return netip.Addr{}, ErrLocalNotFound
}
