// value_table holds the learned action values shared by every policy routine in the process.
package value_table

import (
	"math"
	"sync"

	"conquest/game_state"

	"github.com/rs/zerolog/log"
)

// NeighborSlots is the number of adjacent opponents encoded in a StateKey.
const NeighborSlots = 3

// StateKey is a discretized game situation. It is a comparable value so it can key a
// map directly, and it is gob-encodable so it can be persisted as-is.
type StateKey struct {
	Placement  bool
	Population int8
	Territory  int8
	Neighbors  [NeighborSlots]int8
	CanBuild   bool
}

// Features is the fixed numeric vector used for nearest-key matching.
func (k StateKey) Features() []float64 {
	f := make([]float64, 0, 4+NeighborSlots)
	f = append(f, boolFeature(k.Placement), float64(k.Population), float64(k.Territory))
	for _, n := range k.Neighbors {
		f = append(f, float64(n))
	}
	return append(f, boolFeature(k.CanBuild))
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Table maps StateKey -> ActionKey -> value. Every operation takes the single table
// mutex: updates are O(actions) and rare compared to network I/O, so a coarse lock
// costs nothing and keeps get/update pairs from interleaving.
// Entries are never deleted; memory grows with the number of distinct states seen.
type Table struct {
	path string

	mu     sync.Mutex
	values map[StateKey]map[game_state.ActionKey]float64
	// order records first-seen order of state keys, for deterministic nearest-key ties.
	order []StateKey
	dirty bool
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Table{}
)

// Open returns the process-wide table persisted at path, creating and loading it on
// first use. Load failures are logged and leave the table empty.
func Open(path string) *Table {
	registryMu.Lock()
	defer registryMu.Unlock()

	if t, ok := registry[path]; ok {
		return t
	}
	t := New(path)
	if err := t.Load(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("value table load failed, starting fresh")
	}
	registry[path] = t
	return t
}

// New returns an empty, unregistered table persisted at path. Independent tables on the
// same path behave like cooperating processes: each Save merges with the others' work.
func New(path string) *Table {
	return &Table{
		path:   path,
		values: map[StateKey]map[game_state.ActionKey]float64{},
	}
}

func (t *Table) Path() string {
	return t.path
}

// Get returns the value of (state, action), zero when absent.
func (t *Table) Get(state StateKey, action game_state.ActionKey) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[state][action]
}

// Max returns the largest action value stored for state, zero when the state is
// unseen or has no actions.
func (t *Table) Max(state StateKey) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxLocked(state)
}

func (t *Table) maxLocked(state StateKey) float64 {
	actions, ok := t.values[state]
	if !ok || len(actions) == 0 {
		return 0
	}
	max := math.Inf(-1)
	for _, v := range actions {
		if v > max {
			max = v
		}
	}
	return max
}

// Set overwrites the value of (state, action), creating either key as needed.
func (t *Table) Set(state StateKey, action game_state.ActionKey, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actionsLocked(state)[action] = value
	t.dirty = true
}

// Update replaces the value of (state, action) with fn(current), current being zero
// when absent, as one atomic step. It returns the stored value.
func (t *Table) Update(
	state StateKey,
	action game_state.ActionKey,
	fn func(current float64) float64,
) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	actions := t.actionsLocked(state)
	actions[action] = fn(actions[action])
	t.dirty = true
	return actions[action]
}

// EnsureKeysExist seeds every missing (state, action) pair at zero. Existing values are
// left alone, so repeated calls are no-ops.
func (t *Table) EnsureKeysExist(state StateKey, actions []game_state.ActionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.values[state]; !seen {
		log.Debug().Msgf("new state %+v, total states %d", state, len(t.values)+1)
	}
	known := t.actionsLocked(state)
	for _, a := range actions {
		if _, ok := known[a]; !ok {
			known[a] = 0
			t.dirty = true
		}
	}
}

// Values returns, for each action in order, its value under state and whether it exists.
func (t *Table) Values(
	state StateKey,
	actions []game_state.ActionKey,
) (values []float64, present []bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	values = make([]float64, len(actions))
	present = make([]bool, len(actions))
	known := t.values[state]
	for i, a := range actions {
		values[i], present[i] = known[a]
	}
	return
}

// Contains reports whether state has ever been recorded.
func (t *Table) Contains(state StateKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.values[state]
	return ok
}

// Len is the number of distinct states.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}

// actionsLocked returns the action map of state, creating and ordering it if new.
func (t *Table) actionsLocked(state StateKey) map[game_state.ActionKey]float64 {
	actions, ok := t.values[state]
	if !ok {
		actions = map[game_state.ActionKey]float64{}
		t.values[state] = actions
		t.order = append(t.order, state)
		t.dirty = true
	}
	return actions
}
