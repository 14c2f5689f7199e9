package vector

// ipRun is a maximal range of consecutive addresses mapped to consecutive
// vector positions.
type ipRun struct {
	start  uint32
	pos    int
	length int
}

// ipIndex resolves an address to its vector position. Lookups first try the
// position after the last hit, which makes sequential scans O(1), and then
// scan the runs. Cluster layouts are mostly a few contiguous subnets, so the
// run list stays short.
type ipIndex struct {
	ips  []uint32 // sorted, unique
	runs []ipRun
	last int
}

// buildIndex builds the run list over sorted, unique addresses.
func buildIndex(ips []uint32) ipIndex {
	x := ipIndex{ips: ips, last: -1}
	for i, ip := range ips {
		if n := len(x.runs); n > 0 {
			r := &x.runs[n-1]
			if r.start+uint32(r.length) == ip {
				r.length++
				continue
			}
		}
		x.runs = append(x.runs, ipRun{start: ip, pos: i, length: 1})
	}
	return x
}

// lookup returns the vector position of ip, or -1.
func (x *ipIndex) lookup(ip uint32) int {
	if next := x.last + 1; next > 0 && next < len(x.ips) && x.ips[next] == ip {
		x.last = next
		return next
	}
	for _, r := range x.runs {
		if ip >= r.start && ip-r.start < uint32(r.length) {
			pos := r.pos + int(ip-r.start)
			x.last = pos
			return pos
		}
	}
	return -1
}

// runCount returns the number of contiguous runs.
func (x *ipIndex) runCount() int {
	return len(x.runs)
}
