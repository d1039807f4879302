package reinforcement

import (
	"math"
	"sync"
	"time"

	"conquest/atomic_float"
	"conquest/game_state"
	"conquest/value_table"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
)

// Policy is the epsilon-greedy tabular policy. One Policy is shared by every session
// in the process: the table and the exploration rate are global, while each session
// tracks its own pending transition in an Episode.
type Policy struct {
	table  *value_table.Table
	params Params
	reward RewardFunc
	cost   CostFunc

	// epsilon decays across all sessions' decisions.
	epsilon *atomic_float.AtomicFloat64

	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Policy)

// WithReward replaces ShapedReward(DefaultRewardConfig()).
func WithReward(fn RewardFunc) Option {
	return func(p *Policy) {
		p.reward = fn
	}
}

// WithSeed makes exploration reproducible.
func WithSeed(seed uint64) Option {
	return func(p *Policy) {
		p.rng = rand.New(rand.NewSource(seed))
	}
}

// WithCostFunc replaces the flat BuildCosts pricing.
func WithCostFunc(fn CostFunc) Option {
	return func(p *Policy) {
		p.cost = fn
	}
}

func NewPolicy(table *value_table.Table, params Params, opts ...Option) *Policy {
	p := &Policy{
		table:   table,
		params:  params,
		reward:  ShapedReward(DefaultRewardConfig()),
		cost:    flatCosts(params.BuildCosts),
		epsilon: atomic_float.NewAtomicFloat64(params.Epsilon),
		rng:     rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) Table() *value_table.Table {
	return p.table
}

func (p *Policy) Params() Params {
	return p.params
}

// Epsilon is the current exploration rate.
func (p *Policy) Epsilon() float64 {
	return p.epsilon.AtomicRead()
}

// DecayEpsilon applies one multiplicative decay step, floored at EpsilonMin, and
// returns the new rate.
func (p *Policy) DecayEpsilon() float64 {
	decay, floor := p.params.EpsilonDecay, p.params.EpsilonMin
	return p.epsilon.Apply(func(eps float64) float64 {
		return math.Max(floor, eps*decay)
	})
}

// SelectAction picks one of actions for state key.
//
// Every (key, action) pair is seeded at zero first, so a state is remembered even
// when this decision explores. With probability epsilon a uniformly random action is
// returned. Otherwise the action with the highest stored value wins, ties going to the
// earlier action. A key never seen before borrows the values of its nearest known
// key; if none of actions is known under that key, the choice is random.
func (p *Policy) SelectAction(key value_table.StateKey, actions []game_state.Action) game_state.Action {
	if len(actions) == 0 {
		return game_state.Wait{}
	}
	keys := game_state.Keys(actions)

	lookup := key
	if !p.table.Contains(key) {
		if near, ok := p.table.Nearest(key); ok {
			log.Debug().Msgf("unseen state %+v, using nearest %+v", key, near)
			lookup = near
		}
	}
	p.table.EnsureKeysExist(key, keys)

	if p.randFloat() < p.Epsilon() {
		// Exploration: do something random
		return actions[p.intn(len(actions))]
	}

	// Exploitation: take the max-valued action, first one wins ties.
	values, present := p.table.Values(lookup, keys)
	best := -1
	for i := range actions {
		if present[i] && (best < 0 || values[i] > values[best]) {
			best = i
		}
	}
	if best < 0 {
		return actions[p.intn(len(actions))]
	}
	return actions[best]
}

// Learn applies the one-step update Q += alpha * (reward + gamma * max Q(newKey) - Q)
// to (prevKey, prevAction). The bootstrap term is zero for an unseen newKey; nearest
// key matching is only for action selection. It returns the updated value.
func (p *Policy) Learn(
	prevKey value_table.StateKey,
	prevAction game_state.ActionKey,
	reward float64,
	newKey value_table.StateKey,
) float64 {
	alpha, gamma := p.params.Alpha, p.params.Gamma
	next := p.table.Max(newKey)
	return p.table.Update(prevKey, prevAction, func(q float64) float64 {
		return q + alpha*(reward+gamma*next-q)
	})
}

// Reward scores a transition with the configured RewardFunc.
func (p *Policy) Reward(old, new *game_state.Snapshot, action game_state.Action) float64 {
	return p.reward(old, new, action)
}

func (p *Policy) randFloat() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64()
}

func (p *Policy) intn(n int) int {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Intn(n)
}
