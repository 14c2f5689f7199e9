package gossip

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"gossimon/internal/vector"
)

// ErrUnknownStep is returned for a step name that is not registered.
var ErrUnknownStep = errors.New("unknown gossip step")

// ActionKind is what a round does.
type ActionKind int

const (
	Idle ActionKind = iota
	Push
	Pull
)

// String returns the string representation of ActionKind.
func (k ActionKind) String() string {
	switch k {
	case Idle:
		return "IDLE"
	case Push:
		return "PUSH"
	case Pull:
		return "PULL"
	default:
		return "UNKNOWN"
	}
}

// Action is one round's exchange.
type Action struct {
	Kind   ActionKind
	Target netip.Addr
}

// Step picks the exchange for the next round.
type Step interface {
	Name() string
	Next(v *vector.Vector) Action
}

var steps = map[string]func() Step{
	"push-random": func() Step { return pushRandom{} },
	"push-any":    func() Step { return pushAny{} },
	"pull-oldest": func() Step { return pullOldest{} },
	"push-pull":   func() Step { return &pushPull{} },
}

// NewStep returns a fresh instance of the named step.
func NewStep(name string) (Step, error) {
	ctor, ok := steps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStep, name)
	}
	return ctor(), nil
}

// StepNames lists the registered steps.
func StepNames() []string {
	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// pushRandom pushes to a random alive peer, or to any peer while nobody
// else is known to be alive.
type pushRandom struct{}

func (pushRandom) Name() string { return "push-random" }

func (pushRandom) Next(v *vector.Vector) Action {
	if ip, ok := v.RandomNode(true); ok {
		return Action{Kind: Push, Target: ip}
	}
	if ip, ok := v.RandomNode(false); ok {
		return Action{Kind: Push, Target: ip}
	}
	return Action{}
}

// pushAny pushes to any peer, which lets dead nodes rejoin on their own.
type pushAny struct{}

func (pushAny) Name() string { return "push-any" }

func (pushAny) Next(v *vector.Vector) Action {
	if ip, ok := v.RandomNode(false); ok {
		return Action{Kind: Push, Target: ip}
	}
	return Action{}
}

// pullOldest pulls from the alive peer whose information is the oldest.
type pullOldest struct{}

func (pullOldest) Name() string { return "pull-oldest" }

func (pullOldest) Next(v *vector.Vector) Action {
	if ip, ok := v.OldestAliveNode(); ok {
		return Action{Kind: Pull, Target: ip}
	}
	return pushRandom{}.Next(v)
}

// pushPull alternates between push-random and pull-oldest rounds.
type pushPull struct {
	mu   sync.Mutex
	pull bool
}

func (*pushPull) Name() string { return "push-pull" }

func (s *pushPull) Next(v *vector.Vector) Action {
	s.mu.Lock()
	pull := s.pull
	s.pull = !s.pull
	s.mu.Unlock()

	if pull {
		return pullOldest{}.Next(v)
	}
	return pushRandom{}.Next(v)
}
