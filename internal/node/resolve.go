package node

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"
)

const lookupTimeout = 200 * time.Millisecond

var lookupAddr = net.DefaultResolver.LookupAddr

// reverseLookup returns the first PTR name of ip, or "" when there is none
// within lookupTimeout.
func reverseLookup(ip netip.Addr) string {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	names, err := lookupAddr(ctx, ip.String())
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
