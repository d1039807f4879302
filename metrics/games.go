// metrics tracks per-game learning progress: the summed reward (score) and length of
// every finished game, optionally persisted to a sqlite history.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"conquest/atomic_float"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GameRecord is one finished game.
type GameRecord struct {
	ID       string    `json:"id"`
	GameID   string    `json:"gameID"`
	Outcome  string    `json:"outcome"`
	Score    float64   `json:"score"`
	Duration int64     `json:"duration"`
	EndTick  int64     `json:"endTick"`
	EndedAt  time.Time `json:"endedAt"`
}

// Summary aggregates every game ended in this process.
type Summary struct {
	TotalGames  int        `json:"totalGames"`
	AvgScore    float64    `json:"avgScore"`
	AvgDuration float64    `json:"avgDuration"`
	Last        GameRecord `json:"last"`
}

// Game accumulates one game's metrics. Rewards and ticks may be reported from
// different goroutines.
type Game struct {
	gameID    string
	startTick atomic.Int64
	started   atomic.Bool
	score     *atomic_float.AtomicFloat64
}

// UpdateTick records tick as the game's start if it is the first one seen.
func (g *Game) UpdateTick(tick int64) {
	if g.started.CompareAndSwap(false, true) {
		g.startTick.Store(tick)
	}
}

func (g *Game) AddReward(reward float64) {
	g.score.Apply(func(score float64) float64 {
		return score + reward
	})
}

func (g *Game) Score() float64 {
	return g.score.AtomicRead()
}

// Recorder collects finished games for the process.
type Recorder struct {
	history *History

	mu            sync.Mutex
	games         int
	totalScore    float64
	totalDuration int64
	last          GameRecord
}

// NewRecorder returns a Recorder; history may be nil.
func NewRecorder(history *History) *Recorder {
	return &Recorder{history: history}
}

func (r *Recorder) StartGame(gameID string) *Game {
	return &Game{
		gameID: gameID,
		score:  atomic_float.NewAtomicFloat64(0),
	}
}

// EndGame closes g at finalTick. The duration counts from the first tick seen, or
// from zero if none was. History write failures are logged only.
func (r *Recorder) EndGame(ctx context.Context, g *Game, finalTick int64, outcome string) GameRecord {
	duration := finalTick
	if g.started.Load() {
		duration = finalTick - g.startTick.Load()
	}
	rec := GameRecord{
		ID:       uuid.NewString(),
		GameID:   g.gameID,
		Outcome:  outcome,
		Score:    g.Score(),
		Duration: duration,
		EndTick:  finalTick,
		EndedAt:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.games++
	r.totalScore += rec.Score
	r.totalDuration += rec.Duration
	r.last = rec
	summary := r.summaryLocked()
	r.mu.Unlock()

	log.Info().
		Str("game", rec.GameID).
		Str("outcome", rec.Outcome).
		Float64("score", rec.Score).
		Int64("duration", rec.Duration).
		Msgf("game ended; total games: %d, avg score: %.2f, avg duration: %.1f ticks",
			summary.TotalGames, summary.AvgScore, summary.AvgDuration)

	if r.history != nil {
		if err := r.history.Record(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("failed to record game history")
		}
	}
	return rec
}

func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *Recorder) summaryLocked() Summary {
	if r.games == 0 {
		return Summary{}
	}
	return Summary{
		TotalGames:  r.games,
		AvgScore:    r.totalScore / float64(r.games),
		AvgDuration: float64(r.totalDuration) / float64(r.games),
		Last:        r.last,
	}
}

// History returns the sqlite history, nil when disabled.
func (r *Recorder) History() *History {
	return r.history
}
