package vector

// Update merges information about one node into the vector. declaredSize is
// the size the sender announced for info, and priority the urgency it
// carried. It returns false when the information was rejected; rejection
// is routine and not an error.
func (v *Vector) Update(info *NodeInfo, declaredSize, priority int) bool {
	if info == nil || declaredSize <= 0 || int(info.FullSize) > declaredSize || !info.IP.Is4() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.NowMillis()
	if now < v.currTime {
		v.reset(now)
		return false
	}
	v.currTime = now

	if info.Timestamp > now || now-v.maxAge > info.Timestamp {
		return false
	}
	pos := v.index.lookup(ipv4Uint(info.IP))
	if pos < 0 {
		return false
	}
	e := &v.entries[pos]
	if e.info.Timestamp >= info.Timestamp {
		return false
	}

	wasDead := e.dead
	e.info.assign(info)
	priority = min(max(priority, 0), v.maxPriority)
	if pos == v.localIdx && priority > 0 {
		v.localPriority = priority
	}

	switch {
	case info.Alive() && wasDead:
		e.dead = false
		e.info.Cause = CauseAlive
		v.alive++
	case !info.Alive():
		if e.info.Cause == CauseAlive {
			e.info.Cause = CauseRemoteDead
		}
		if !wasDead {
			v.kill(pos, now)
		}
	}

	v.win.update(pos, priority, info.Timestamp, v.localIdx)
	return true
}

// reset marks every entry dead after the clock moved backward. All
// timestamps are forgotten so that fresh gossip is accepted again.
// Caller holds v.mu.
func (v *Vector) reset(now int64) {
	for i := range v.entries {
		e := &v.entries[i]
		e.dead = true
		e.info.Status &^= StatusAlive
		e.info.Cause = CauseVectorReset
		e.info.Timestamp = 0
		e.info.clearPayload()
	}
	v.alive = 0
	v.localPriority = 0
	v.win.clear()
	v.currTime = now
}
