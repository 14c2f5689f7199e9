package gossip

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gossimon/internal/provider"
	"gossimon/internal/vector"
	"gossimon/internal/wire"
)

// Transport moves window messages between daemons.
type Transport interface {
	Push(ctx context.Context, target netip.Addr, msg []byte) error
	Pull(ctx context.Context, target netip.Addr) ([]byte, error)
}

// Round reports what one tick did.
type Round struct {
	Action  Action
	Sent    int
	Merged  int
	Refresh bool
}

// Scheduler drives one gossip round per tick.
type Scheduler struct {
	mu           sync.RWMutex
	vectorGetter func() *vector.Vector
	provider     provider.Provider
	transport    Transport
	step         Step
	interval     time.Duration

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. The vector is read through vectorGetter
// on every tick so the owner can swap it.
func NewScheduler(vectorGetter func() *vector.Vector, p provider.Provider, t Transport, step Step, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 1 * time.Second
	}
	if step == nil {
		step = pushRandom{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		vectorGetter: vectorGetter,
		provider:     p,
		transport:    t,
		step:         step,
		interval:     interval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetStep switches the step algorithm by name.
func (s *Scheduler) SetStep(name string) error {
	step, err := NewStep(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = step
	return nil
}

// StepName returns the active step algorithm.
func (s *Scheduler) StepName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step.Name()
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start runs the tick loop in the background until Stop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Run(s.ctx)
	}()
}

// Stop stops a loop started with Start.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				log.Printf("[%s] gossip round: %v", s.localName(), err)
			}
		}
	}
}

func (s *Scheduler) localName() string {
	if v := s.vectorGetter(); v != nil {
		return v.LocalIP().String()
	}
	return "-"
}

// Tick runs one round: refresh the local entry, exchange a window with the
// peer chosen by the step, and feed the measurements. A failed exchange
// punishes the peer and is reported as an error.
func (s *Scheduler) Tick(ctx context.Context) (Round, error) {
	v := s.vectorGetter()
	if v == nil {
		return Round{}, nil
	}

	var round Round
	round.Refresh = s.refreshLocal(ctx, v)

	s.mu.RLock()
	step := s.step
	s.mu.RUnlock()
	round.Action = step.Next(v)

	// one round never outlives its tick
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	var err error
	switch round.Action.Kind {
	case Push:
		round.Sent, err = s.push(ctx, v, round.Action.Target)
	case Pull:
		round.Merged, err = s.pull(ctx, v, round.Action.Target)
	}
	v.Sample(round.Sent)
	return round, err
}

// refreshLocal stamps fresh local information into the vector. A provider
// failure declares the local node dead.
func (s *Scheduler) refreshLocal(ctx context.Context, v *vector.Vector) bool {
	if s.provider == nil {
		return false
	}
	snap, err := s.provider.Snapshot(ctx)
	if err != nil {
		log.Printf("[%s] local provider failed: %v", v.LocalIP(), err)
		v.Punish(v.LocalIP(), vector.CauseNoProvider)
		return false
	}
	info := vector.NewNodeInfo(v.LocalNodeID(), v.LocalIP(), v.Now(), snap.Payload)
	return v.Update(info, int(info.FullSize), snap.Priority)
}

func (s *Scheduler) push(ctx context.Context, v *vector.Vector, target netip.Addr) (int, error) {
	msg := wire.EncodeWindow(v.Signature(), v.OutboundWindow(), v.Now())
	if err := s.transport.Push(ctx, target, msg); err != nil {
		s.punishUnreachable(v, target, err)
		return 0, fmt.Errorf("push to %s: %w", target, err)
	}
	return len(msg), nil
}

func (s *Scheduler) pull(ctx context.Context, v *vector.Vector, target netip.Addr) (int, error) {
	msg, err := s.transport.Pull(ctx, target)
	if err != nil {
		s.punishUnreachable(v, target, err)
		return 0, fmt.Errorf("pull from %s: %w", target, err)
	}
	merged, err := wire.ApplyWindow(v, msg)
	if err != nil {
		return 0, fmt.Errorf("window from %s: %w", target, err)
	}
	return merged, nil
}

func (s *Scheduler) punishUnreachable(v *vector.Vector, target netip.Addr, err error) {
	if !unreachable(err) {
		return
	}
	v.Punish(target, vector.CauseConnectFailed)
}

// unreachable reports whether err means the peer could not be reached.
// A peer that answered, even to refuse the message, is reachable.
func unreachable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		// not a gRPC status: a socket or dial error
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
