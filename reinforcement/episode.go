package reinforcement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"conquest/game_state"
	"conquest/value_table"

	"github.com/rs/zerolog/log"
)

var (
	// ErrStaleSnapshot is returned by Step for a snapshot no newer than the last one stepped.
	ErrStaleSnapshot = errors.New("snapshot is not newer than the last decision")
	// ErrStaleGame is returned by Step for a snapshot read before the last Reset.
	ErrStaleGame = errors.New("snapshot belongs to an earlier game")
)

// Transition is an action awaiting the next snapshot to be scored and learned.
type Transition struct {
	Key      value_table.StateKey
	Action   game_state.Action
	Snapshot *game_state.Snapshot
}

// Outcome describes one decision cycle.
type Outcome struct {
	Key    value_table.StateKey
	Action game_state.Action
	// Learned is set when the previous transition was credited with Reward.
	Learned bool
	Reward  float64
}

// EmitFunc hands a chosen action to the dispatcher, blocking while it is full.
type EmitFunc func(ctx context.Context, action game_state.Action) error

// Episode is the per-game learning state: at most one pending transition. Steps are
// serialized, so the pending transition is always credited against the snapshot of
// the step directly after it and consumed exactly once.
//
// Every Reset starts a new generation. A caller reads Generation before it reads the
// snapshot to step, and Step refuses the pair if a Reset came in between, so a
// snapshot of a finished game never becomes pending in the next one.
type Episode struct {
	policy *Policy

	mu         sync.Mutex
	generation uint64
	pending    *Transition
	lastTick   int64
	stepped    bool
}

func (p *Policy) NewEpisode() *Episode {
	return &Episode{policy: p}
}

// Generation identifies the game the episode is currently learning.
func (e *Episode) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Step runs one decision cycle for snap, read during generation: discretize, enumerate,
// select, emit the action, learn the pending transition against snap, then make this
// cycle's action the pending one and decay epsilon. If emit fails, nothing is learned
// or recorded and its error is returned.
func (e *Episode) Step(
	ctx context.Context,
	generation uint64,
	snap *game_state.Snapshot,
	emit EmitFunc,
) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if generation != e.generation {
		return Outcome{}, ErrStaleGame
	}
	if e.stepped && snap.Tick <= e.lastTick {
		return Outcome{}, ErrStaleSnapshot
	}

	p := e.policy
	key := p.Discretize(snap)
	actions := p.EnumerateActions(snap)
	action := p.SelectAction(key, actions)

	if err := emit(ctx, action); err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Key: key, Action: action}
	if prev := e.pending; prev != nil {
		outcome.Reward = p.Reward(prev.Snapshot, snap, prev.Action)
		p.Learn(prev.Key, prev.Action.Key(), outcome.Reward, key)
		outcome.Learned = true
	}

	e.pending = &Transition{Key: key, Action: action, Snapshot: snap}
	e.lastTick = snap.Tick
	e.stepped = true
	eps := p.DecayEpsilon()

	log.Debug().
		Int64("tick", snap.Tick).
		Str("action", fmt.Sprint(action)).
		Float64("reward", outcome.Reward).
		Float64("epsilon", eps).
		Msg("decision")
	return outcome, nil
}

// Pending returns the transition awaiting credit, if any.
func (e *Episode) Pending() *Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Reset drops the pending transition and starts a new generation, for a terminal
// state or a new game.
func (e *Episode) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.pending = nil
	e.lastTick = 0
	e.stepped = false
}
