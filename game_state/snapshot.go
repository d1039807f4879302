package game_state

import "sort"

// Snapshot is one decoded world tick as reported by the game host. A Snapshot is
// replaced wholesale every tick and must be treated as immutable once handed to
// the Store; readers that need to change anything copy first.
type Snapshot struct {
	Tick         int64      `json:"tick"`
	InSpawnPhase bool       `json:"inSpawnPhase"`
	Me           Me         `json:"me"`
	Candidates   Candidates `json:"candidates"`
	Players      []Player   `json:"players"`
	Map          MapInfo    `json:"map"`
}

// Me holds the agent's own metrics for the tick.
type Me struct {
	SmallID         int       `json:"smallID"`
	PlayerID        string    `json:"playerID"`
	Population      Count     `json:"population"`
	MaxPopulation   Count     `json:"maxPopulation"`
	Troops          Count     `json:"troops"`
	Gold            Count     `json:"gold"`
	ConquestPercent float64   `json:"conquestPercent"`
	OwnedCount      Count     `json:"ownedCount"`
	Rank            int       `json:"rank"`
	Buildings       Buildings `json:"buildings"`
}

type Buildings struct {
	Cities int `json:"cities"`
}

// Candidates are the tiles adjacent to the agent's border. Enemy neighbors are owned
// by another player, empty neighbors are unclaimed.
type Candidates struct {
	EnemyNeighbors []Tile `json:"enemyNeighbors"`
	EmptyNeighbors []Tile `json:"emptyNeighbors"`
}

// Tile is an attack or spawn candidate. OwnerSmallID is zero for unclaimed land.
type Tile struct {
	X             int    `json:"x"`
	Y             int    `json:"y"`
	OwnerSmallID  int    `json:"ownerSmallID"`
	OwnerPlayerID string `json:"ownerPlayerID,omitempty"`
	Troops        Count  `json:"troops"`
}

// Player is a roster entry.
type Player struct {
	SmallID  int    `json:"smallID"`
	PlayerID string `json:"playerID"`
	Name     string `json:"name,omitempty"`
	Troops   Count  `json:"troops"`
	Tiles    Count  `json:"tilesOwned"`
	Alive    bool   `json:"isAlive"`
}

type MapInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Opponent is an adjacent enemy player, aggregated from its border tiles.
type Opponent struct {
	SmallID int
	Troops  int64
}

// PopulationRatio is population over max population, zero when the max is unknown.
func (s *Snapshot) PopulationRatio() float64 {
	if s.Me.MaxPopulation <= 0 {
		return 0
	}
	return float64(s.Me.Population) / float64(s.Me.MaxPopulation)
}

// HasPlaced reports whether the host has accepted the agent's initial placement.
func (s *Snapshot) HasPlaced() bool {
	return s.Me.SmallID != 0 || s.Me.OwnedCount > 0
}

// Army is the troop count available for attacks. Hosts that do not report troops
// separately fold them into population.
func (s *Snapshot) Army() int64 {
	if s.Me.Troops > 0 {
		return int64(s.Me.Troops)
	}
	return int64(s.Me.Population)
}

// PlayerIDBySmallID resolves a roster small id to the host's player id.
func (s *Snapshot) PlayerIDBySmallID(smallID int) (string, bool) {
	for _, p := range s.Players {
		if p.SmallID == smallID {
			return p.PlayerID, true
		}
	}
	return "", false
}

// FindCandidate looks up an adjacent tile by coordinate, enemy tiles first.
func (s *Snapshot) FindCandidate(x, y int) (Tile, bool) {
	for _, t := range s.Candidates.EnemyNeighbors {
		if t.X == x && t.Y == y {
			return t, true
		}
	}
	for _, t := range s.Candidates.EmptyNeighbors {
		if t.X == x && t.Y == y {
			return t, true
		}
	}
	return Tile{}, false
}

// Opponents aggregates enemy neighbor tiles by owner. An owner's strength is its
// roster troop count when reported, otherwise the largest troop count seen on one
// of its border tiles. The result is ordered strongest first, ties by small id,
// so equal snapshots always yield equal orderings.
func (s *Snapshot) Opponents() []Opponent {
	byOwner := map[int]int64{}
	for _, t := range s.Candidates.EnemyNeighbors {
		if t.OwnerSmallID == 0 {
			continue
		}
		if cur, seen := byOwner[t.OwnerSmallID]; !seen || int64(t.Troops) > cur {
			byOwner[t.OwnerSmallID] = int64(t.Troops)
		}
	}
	for _, p := range s.Players {
		if _, ok := byOwner[p.SmallID]; ok && p.Troops > 0 {
			byOwner[p.SmallID] = int64(p.Troops)
		}
	}

	opponents := make([]Opponent, 0, len(byOwner))
	for id, troops := range byOwner {
		opponents = append(opponents, Opponent{SmallID: id, Troops: troops})
	}
	sort.Slice(opponents, func(i, j int) bool {
		if opponents[i].Troops != opponents[j].Troops {
			return opponents[i].Troops > opponents[j].Troops
		}
		return opponents[i].SmallID < opponents[j].SmallID
	})
	return opponents
}
