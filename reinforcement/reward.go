package reinforcement

import "conquest/game_state"

// RewardFunc scores the transition from old to new, given the action taken at old.
type RewardFunc func(old, new *game_state.Snapshot, action game_state.Action) float64

// RewardConfig holds the shaping weights of ShapedReward.
type RewardConfig struct {
	// Step is added on every transition, to discourage stalling.
	Step float64
	// SpawnSuccess is paid when a spawn results in the host assigning us a small id.
	SpawnSuccess float64
	// MissedSpawn is paid for any non-spawn action while placement was still possible.
	MissedSpawn float64
	// TerritoryGain and TerritoryLoss scale the change in owned tiles.
	TerritoryGain float64
	TerritoryLoss float64
}

func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		Step:          -0.1,
		SpawnSuccess:  150,
		MissedSpawn:   -150,
		TerritoryGain: 10,
		TerritoryLoss: 10,
	}
}

// ShapedReward is the default reward: a small step cost, a one-off bonus for a
// successful placement and a penalty for letting placement slip, and a per-tile
// payment for territory gained or lost. Placement success means the host assigned
// a small id between old and new.
func ShapedReward(cfg RewardConfig) RewardFunc {
	return func(old, new *game_state.Snapshot, action game_state.Action) float64 {
		reward := cfg.Step

		switch action.(type) {
		case game_state.Spawn:
			if old.Me.SmallID == 0 && new.Me.SmallID != 0 {
				reward += cfg.SpawnSuccess
			}
		case game_state.Wait, game_state.Attack, game_state.Build:
			if old.InSpawnPhase && !old.HasPlaced() && len(old.Candidates.EmptyNeighbors) > 0 {
				reward += cfg.MissedSpawn
			}
		}

		gained := new.Me.OwnedCount - old.Me.OwnedCount
		if gained > 0 {
			reward += float64(gained) * cfg.TerritoryGain
		} else {
			reward += float64(gained) * cfg.TerritoryLoss
		}
		return reward
	}
}
