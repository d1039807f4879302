package protocol

import (
	"fmt"
	"math"

	"conquest/game_state"
)

// HELLO (client -> host)
type HelloMsg struct {
	Type         string `json:"type"`
	ClientID     string `json:"clientID"`
	PersistentID string `json:"persistentID"`
	Username     string `json:"username"`
}

func NewHello(clientID, persistentID, username string) HelloMsg {
	return HelloMsg{
		Type:         TypeHello,
		ClientID:     clientID,
		PersistentID: persistentID,
		Username:     username,
	}
}

// INTENT (client -> host) wraps one of the *Intent payloads.
type IntentMsg struct {
	Type     string      `json:"type"`
	ClientID string      `json:"clientID"`
	GameID   string      `json:"gameID"`
	Intent   interface{} `json:"intent"`
}

type SpawnIntent struct {
	Type       string  `json:"type"`
	ClientID   string  `json:"clientID"`
	PlayerID   string  `json:"playerID"`
	Flag       *string `json:"flag"`
	Name       string  `json:"name"`
	PlayerType string  `json:"playerType"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
}

// AttackIntent targets a player; TargetID is null for unclaimed land.
type AttackIntent struct {
	Type       string  `json:"type"`
	ClientID   string  `json:"clientID"`
	AttackerID string  `json:"attackerID"`
	TargetID   *string `json:"targetID"`
	Troops     int64   `json:"troops"`
}

type BuildIntent struct {
	Type     string `json:"type"`
	ClientID string `json:"clientID"`
	PlayerID string `json:"playerID"`
	Unit     string `json:"unit"`
}

type PingMsg struct {
	Type string `json:"type"`
}

func NewPing() PingMsg {
	return PingMsg{Type: TypePing}
}

// ActionMsg is the bare action frame sent to a plugin connected in server mode.
// Coordinates are always present: 0 is a valid row and column.
type ActionMsg struct {
	Type  string  `json:"type"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Ratio float64 `json:"ratio"`
	Unit  string  `json:"unit,omitempty"`
}

// Game identifies the agent within the current game.
type Game struct {
	ID       string
	PlayerID string
}

// Encoder turns an action into its outbound frame. Wait encodes to nil: there is
// nothing to send.
type Encoder interface {
	Encode(game Game, action game_state.Action, snap *game_state.Snapshot) (interface{}, error)
}

// IntentEncoder encodes actions as intents, for a client connected to the game host.
type IntentEncoder struct {
	ClientID string
	Username string
}

func (enc IntentEncoder) Encode(
	game Game,
	action game_state.Action,
	snap *game_state.Snapshot,
) (interface{}, error) {
	var intent interface{}
	switch act := action.(type) {
	case game_state.Wait:
		return nil, nil
	case game_state.Spawn:
		intent = SpawnIntent{
			Type:       "spawn",
			ClientID:   enc.ClientID,
			PlayerID:   game.PlayerID,
			Name:       enc.Username,
			PlayerType: "BOT",
			X:          act.X,
			Y:          act.Y,
		}
	case game_state.Attack:
		intent = AttackIntent{
			Type:       "attack",
			ClientID:   enc.ClientID,
			AttackerID: game.PlayerID,
			TargetID:   targetPlayer(act, snap),
			Troops:     AttackTroops(act.Ratio, snap),
		}
	case game_state.Build:
		intent = BuildIntent{
			Type:     "build_unit",
			ClientID: enc.ClientID,
			PlayerID: game.PlayerID,
			Unit:     string(act.Kind),
		}
	default:
		return nil, fmt.Errorf("encode: unknown action %T", action)
	}

	return IntentMsg{
		Type:     TypeIntent,
		ClientID: enc.ClientID,
		GameID:   game.ID,
		Intent:   intent,
	}, nil
}

// ActionEncoder encodes actions as bare action frames, for server mode.
type ActionEncoder struct{}

func (ActionEncoder) Encode(
	_ Game,
	action game_state.Action,
	_ *game_state.Snapshot,
) (interface{}, error) {
	switch act := action.(type) {
	case game_state.Wait:
		return nil, nil
	case game_state.Spawn:
		return ActionMsg{Type: "spawn", X: act.X, Y: act.Y}, nil
	case game_state.Attack:
		return ActionMsg{Type: "attack", X: act.Target.X, Y: act.Target.Y, Ratio: act.Ratio}, nil
	case game_state.Build:
		return ActionMsg{Type: "build", Unit: string(act.Kind)}, nil
	}
	return nil, fmt.Errorf("encode: unknown action %T", action)
}

// AttackTroops is ratio of the army in snap, the ratio clamped to [0, 1].
func AttackTroops(ratio float64, snap *game_state.Snapshot) int64 {
	if snap == nil {
		return 0
	}
	ratio = math.Max(0, math.Min(1, ratio))
	return int64(ratio * float64(snap.Army()))
}

// targetPlayer resolves the current owner of the attacked tile through the roster.
// Ownership is read from snap, which may be newer than the snapshot the attack was
// chosen on.
func targetPlayer(act game_state.Attack, snap *game_state.Snapshot) *string {
	if snap == nil {
		return nil
	}
	owner := act.Target.OwnerSmallID
	if tile, ok := snap.FindCandidate(act.Target.X, act.Target.Y); ok {
		owner = tile.OwnerSmallID
	}
	if owner == 0 {
		return nil
	}
	if id, ok := snap.PlayerIDBySmallID(owner); ok {
		return &id
	}
	return nil
}
