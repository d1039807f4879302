package value_table

import "math"

// Nearest returns the known state closest to state by Euclidean distance over
// StateKey.Features, or false when the table is empty. Ties go to the state seen
// first. A known state is its own nearest match.
//
// This is a linear scan over every known state, O(states) per call. A k-d tree over
// the feature vectors would make it logarithmic if tables grow past a few hundred
// thousand states; the first-seen tie-break must be kept if that happens.
func (t *Table) Nearest(state StateKey) (StateKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.order) == 0 {
		return StateKey{}, false
	}

	target := state.Features()
	best := t.order[0]
	bestDist := math.Inf(1)
	for _, candidate := range t.order {
		d := sqDistance(target, candidate.Features())
		if d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best, true
}

// sqDistance is the squared Euclidean distance; ordering is the same as the
// distance itself so the root is skipped.
func sqDistance(a, b []float64) (d float64) {
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return
}
