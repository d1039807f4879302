package session

import (
	"errors"

	"conquest/game_state"
)

// Session-fatal conditions. Each ends the session cleanly; the supervisor reconnects.
var (
	ErrSessionClosed = errors.New("session connection closed")
	ErrEliminated    = errors.New("eliminated")
	ErrVictory       = errors.New("victory")
	ErrMissedSpawn   = errors.New("placement phase ended without a spawn")
)

// TerminalFunc inspects each accepted snapshot, with the one before it (nil for the
// first of a game), and returns a session-fatal error when the game is over for us.
type TerminalFunc func(prev, cur *game_state.Snapshot) error

// DefaultVictoryPercent is the share of land that wins a game.
const DefaultVictoryPercent = 80

// Terminal detects a missed placement, elimination (all territory lost after having
// some), and victory at victoryPercent of the map.
func Terminal(victoryPercent float64) TerminalFunc {
	return func(prev, cur *game_state.Snapshot) error {
		if cur.InSpawnPhase || prev == nil {
			return nil
		}
		switch {
		case prev.InSpawnPhase && !cur.HasPlaced():
			return ErrMissedSpawn
		case prev.Me.OwnedCount > 0 && cur.Me.OwnedCount == 0:
			return ErrEliminated
		case cur.Me.ConquestPercent >= victoryPercent:
			return ErrVictory
		}
		return nil
	}
}

// outcome names how a session ended, for game records.
func outcome(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, ErrEliminated):
		return "eliminated"
	case errors.Is(err, ErrVictory):
		return "victory"
	case errors.Is(err, ErrMissedSpawn):
		return "missed_spawn"
	case errors.Is(err, ErrSessionClosed):
		return "disconnected"
	}
	return "aborted"
}
