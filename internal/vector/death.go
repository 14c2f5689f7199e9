package vector

import "net/netip"

// DefaultDeathLogCapacity bounds the death log when Options leaves it unset.
const DefaultDeathLogCapacity = 100

// DeathRecord is one observed death and how long the news took to arrive.
type DeathRecord struct {
	IP                netip.Addr
	PropagationMillis int64
}

// deathLog keeps the most recent deaths, oldest first.
type deathLog struct {
	records  []DeathRecord
	capacity int
}

func newDeathLog(capacity int) deathLog {
	if capacity <= 0 {
		capacity = DefaultDeathLogCapacity
	}
	return deathLog{records: make([]DeathRecord, 0, capacity), capacity: capacity}
}

func (d *deathLog) add(r DeathRecord) {
	if len(d.records) == d.capacity {
		copy(d.records, d.records[1:])
		d.records = d.records[:len(d.records)-1]
	}
	d.records = append(d.records, r)
}

// kill marks the entry at pos dead and logs the propagation time relative
// to the entry's current timestamp. Caller holds v.mu.
func (v *Vector) kill(pos int, now int64) {
	e := &v.entries[pos]
	if !e.dead {
		v.alive--
	}
	e.dead = true
	v.deaths.add(DeathRecord{IP: e.info.IP, PropagationMillis: now - e.info.Timestamp})
}

// Punish declares the node at ip dead for the given cause. An alive entry is
// stamped with the current time, emptied, killed and pushed into the window
// with the maximum priority so the news spreads fast. A dead entry only has
// its cause refreshed, and an age timeout never overwrites a cause that is
// already recorded.
func (v *Vector) Punish(ip netip.Addr, cause Cause) bool {
	if !ip.Is4() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.observe()
	pos := v.index.lookup(ipv4Uint(ip))
	if pos < 0 {
		return false
	}
	return v.punish(pos, cause, now)
}

// punish is Punish with v.mu held.
func (v *Vector) punish(pos int, cause Cause, now int64) bool {
	e := &v.entries[pos]
	if e.dead {
		if cause == CauseAgeTimeout {
			return false
		}
		e.info.Status &^= StatusAlive
		e.info.Cause = cause
		return true
	}

	e.info.Timestamp = now
	e.info.Status &^= StatusAlive
	e.info.Cause = cause
	e.info.clearPayload()
	v.kill(pos, now)

	if pos == v.localIdx {
		v.localPriority = v.maxPriority
	} else {
		v.win.update(pos, v.maxPriority, now, v.localIdx)
	}
	return true
}

// punishStale punishes alive entries older than the retention horizon.
// Caller holds v.mu.
func (v *Vector) punishStale(pos int, now int64) {
	e := &v.entries[pos]
	if !e.dead && now-e.info.Timestamp > v.maxAge {
		v.punish(pos, CauseAgeTimeout, now)
	}
}

// DeathLog returns a copy of the death log, oldest first.
func (v *Vector) DeathLog() []DeathRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]DeathRecord(nil), v.deaths.records...)
}

// ClearDeathLog empties the death log.
func (v *Vector) ClearDeathLog() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deaths.records = v.deaths.records[:0]
}

// age returns how old the entry at pos is.
func (v *Vector) age(pos int, now int64) int64 {
	d := now - v.entries[pos].info.Timestamp
	if d < 0 {
		return 0
	}
	return d
}
