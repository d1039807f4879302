package reinforcement

import (
	"sort"

	"conquest/game_state"
)

// CostFunc prices a structure for the given snapshot. ok is false for kinds that
// cannot be built at all.
type CostFunc func(snap *game_state.Snapshot, kind game_state.BuildKind) (cost int64, ok bool)

// flatCosts prices every kind at its configured cost, regardless of how many exist.
func flatCosts(costs map[game_state.BuildKind]int64) CostFunc {
	return func(_ *game_state.Snapshot, kind game_state.BuildKind) (int64, bool) {
		cost, ok := costs[kind]
		return cost, ok
	}
}

// EnumerateActions lists the legal actions for snap, in priority order. Wait is always
// first. During placement, an agent that has not placed yet may spawn on any unclaimed
// neighbor. Once active, affordable builds come next, then one attack per target and
// ratio, enemy-owned targets before unclaimed ones, cut off at MaxFanOut attacks.
// The order is deterministic for a given snapshot, and is the tie-break order of
// SelectAction.
func (p *Policy) EnumerateActions(snap *game_state.Snapshot) []game_state.Action {
	actions := []game_state.Action{game_state.Wait{}}

	if snap.InSpawnPhase {
		if snap.HasPlaced() {
			return actions
		}
		for i, tile := range snap.Candidates.EmptyNeighbors {
			if i == p.params.MaxFanOut {
				break
			}
			actions = append(actions, game_state.Spawn{X: tile.X, Y: tile.Y})
		}
		return actions
	}

	for _, kind := range p.affordable(snap) {
		actions = append(actions, game_state.Build{Kind: kind})
	}

	budget := p.params.MaxFanOut
	for _, targets := range [][]game_state.Tile{snap.Candidates.EnemyNeighbors, snap.Candidates.EmptyNeighbors} {
		for _, tile := range targets {
			for _, ratio := range p.params.AttackRatios {
				if budget == 0 {
					return actions
				}
				actions = append(actions, game_state.Attack{Target: tile, Ratio: ratio})
				budget--
			}
		}
	}
	return actions
}

// affordable returns the structure kinds the agent's gold covers, by name.
func (p *Policy) affordable(snap *game_state.Snapshot) []game_state.BuildKind {
	if snap.InSpawnPhase || !snap.HasPlaced() {
		return nil
	}

	kinds := make([]game_state.BuildKind, 0, len(p.params.BuildCosts))
	for kind := range p.params.BuildCosts {
		if cost, ok := p.cost(snap, kind); ok && int64(snap.Me.Gold) >= cost {
			kinds = append(kinds, kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// AutoSpawn picks a placement without consulting the table: a random unclaimed
// neighbor when the host offered any, otherwise a random coordinate on the map.
// It is used on entry to the placement phase so initial placement is never forfeited.
// With neither candidates nor a map size there is nowhere to aim, and ok is false.
func (p *Policy) AutoSpawn(snap *game_state.Snapshot) (spawn game_state.Spawn, ok bool) {
	if empty := snap.Candidates.EmptyNeighbors; len(empty) > 0 {
		tile := empty[p.intn(len(empty))]
		return game_state.Spawn{X: tile.X, Y: tile.Y}, true
	}

	w, h := snap.Map.Width, snap.Map.Height
	if w <= 0 || h <= 0 {
		return game_state.Spawn{}, false
	}
	return game_state.Spawn{X: p.intn(w), Y: p.intn(h)}, true
}
