package reinforcement

import (
	"math"

	"conquest/game_state"
	"conquest/value_table"
)

// Discretize maps a snapshot to its StateKey. It is a pure function of the snapshot
// and the policy params: equal snapshots always give equal keys, which is what makes
// table hits possible at all.
//
// Continuous quantities are binned so the key space stays finite:
//   - population ratio and territory percent into PopulationBins/TerritoryBins bins
//   - each of the strongest NeighborSlots adjacent opponents into a strength bucket
//     in [-StrengthBuckets, +StrengthBuckets], see strengthBucket
//   - empty neighbor slots hold noNeighbor, one past the strongest bucket
func (p *Policy) Discretize(snap *game_state.Snapshot) value_table.StateKey {
	key := value_table.StateKey{
		Placement:  snap.InSpawnPhase,
		Population: bin(snap.PopulationRatio(), p.params.PopulationBins),
		Territory:  bin(snap.Me.ConquestPercent/100, p.params.TerritoryBins),
		CanBuild:   len(p.affordable(snap)) > 0,
	}

	opponents := snap.Opponents()
	army := snap.Army()
	for i := range key.Neighbors {
		if i < len(opponents) {
			key.Neighbors[i] = strengthBucket(army, opponents[i].Troops, p.params.StrengthBuckets, p.params.StrengthRange)
		} else {
			key.Neighbors[i] = p.noNeighbor()
		}
	}
	return key
}

func (p *Policy) noNeighbor() int8 {
	return int8(p.params.StrengthBuckets + 1)
}

// bin places a [0,1] fraction into one of n bins; values outside the range clamp.
func bin(frac float64, n int) int8 {
	if n <= 1 || math.IsNaN(frac) {
		return 0
	}
	b := int(frac * float64(n))
	if b < 0 {
		b = 0
	}
	if b > n-1 {
		b = n - 1
	}
	return int8(b)
}

// strengthBucket buckets log(own/enemy), clamped to [-span, span], into
// [-buckets, buckets]. Zero troops on either side maps straight to the extreme
// bucket instead of taking a log of zero: an enemy without troops is the weakest
// possible opponent, and without troops of our own every enemy is the strongest.
func strengthBucket(own, enemy int64, buckets int, span float64) int8 {
	switch {
	case enemy <= 0:
		return int8(buckets)
	case own <= 0:
		return int8(-buckets)
	}

	ratio := math.Log(float64(own) / float64(enemy))
	ratio = math.Max(-span, math.Min(span, ratio))
	return int8(math.Round(ratio / span * float64(buckets)))
}
