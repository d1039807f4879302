// session runs one connected game session: ingesting state frames, deciding, and
// dispatching actions as concurrent loops bound to the connection's lifetime.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"conquest/game_state"
	"conquest/metrics"
	"conquest/protocol"
	"conquest/reinforcement"

	"github.com/google/uuid"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Transport is the connection a session runs over. Receive must be released by Close.
type Transport interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, v interface{}) error
	Close() error
}

// Phase is the session's view of the game.
type Phase int

const (
	AwaitingFirstState Phase = iota
	Placement
	Active
	TerminalPhase
)

func (p Phase) String() string {
	switch p {
	case AwaitingFirstState:
		return "awaiting-first-state"
	case Placement:
		return "placement"
	case Active:
		return "active"
	case TerminalPhase:
		return "terminal"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Config struct {
	// Encoder turns actions into frames for this connection's peer.
	Encoder protocol.Encoder
	// QueueSize bounds the action channel.
	QueueSize int
	// KeepAlive is the ping period; zero disables pings.
	KeepAlive time.Duration
	// AutoSpawn places the agent on entry to placement, without the policy.
	AutoSpawn bool
	// Terminal ends the session on game over; nil never ends it.
	Terminal TerminalFunc
	// GameID is used until the host announces one.
	GameID string
}

func DefaultConfig() Config {
	return Config{
		Encoder:   protocol.ActionEncoder{},
		QueueSize: 1,
		KeepAlive: 20 * time.Second,
		AutoSpawn: true,
		Terminal:  Terminal(DefaultVictoryPercent),
	}
}

// Session owns the per-connection state. The policy and its table are shared with
// every other session in the process.
type Session struct {
	conn     Transport
	policy   *reinforcement.Policy
	recorder *metrics.Recorder
	cfg      Config

	store   *game_state.Store
	actions *ActionChannel
	episode *reinforcement.Episode

	// mu guards the per-game fields below, which ingest writes and dispatch reads.
	mu      sync.Mutex
	game    protocol.Game
	spawned bool
	phase   Phase
	tracker *metrics.Game
}

func New(conn Transport, policy *reinforcement.Policy, recorder *metrics.Recorder, cfg Config) *Session {
	if cfg.Encoder == nil {
		cfg.Encoder = protocol.ActionEncoder{}
	}
	return &Session{
		conn:     conn,
		policy:   policy,
		recorder: recorder,
		cfg:      cfg,
		store:    game_state.NewStore(),
		actions:  NewActionChannel(cfg.QueueSize),
		episode:  policy.NewEpisode(),
		game:     protocol.Game{ID: cfg.GameID, PlayerID: newPlayerID()},
		tracker:  recorder.StartGame(cfg.GameID),
	}
}

// Run plays until the connection closes, the game ends for us, or ctx is done.
//
// Ingest runs on the calling goroutine and is authoritative: when it returns, the
// decision, dispatch and keep-alive loops are cancelled and awaited, then the value
// table is saved and the game recorded. Run returns the ingest error, which is nil
// only when ctx was cancelled.
func (s *Session) Run(ctx context.Context) error {
	// Receive only returns early if the connection closes.
	stopClose := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stopClose()

	loopCtx, cancelLoops := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(loopCtx)
	// A loop failing on its own also has to unblock ingest.
	stopLoopClose := context.AfterFunc(groupCtx, func() { _ = s.conn.Close() })
	defer stopLoopClose()

	group.Go(func() error { return s.decide(groupCtx) })
	group.Go(func() error { return s.dispatch(groupCtx) })
	if s.cfg.KeepAlive > 0 {
		group.Go(func() error { return s.keepAlive(groupCtx) })
	}

	err := s.ingest(loopCtx)
	if ctx.Err() != nil {
		err = nil
	}

	cancelLoops()
	if loopErr := group.Wait(); loopErr != nil {
		log.Warn().Err(loopErr).Msg("session loop failed")
	}
	_ = s.conn.Close()

	s.finish(err)
	return err
}

// finish flushes the table and records the game, if one was played.
func (s *Session) finish(err error) {
	s.mu.Lock()
	s.phase = TerminalPhase
	game := s.tracker
	s.mu.Unlock()
	s.episode.Reset()

	if saveErr := s.policy.Table().Save(); saveErr != nil {
		log.Error().Err(saveErr).Msg("failed to save value table at session end")
	}

	if snap := s.store.Current(); snap != nil {
		s.recorder.EndGame(context.Background(), game, snap.Tick, outcome(err))
	}
}

// ingest consumes inbound frames until the connection fails or the game ends.
// Malformed frames are skipped.
func (s *Session) ingest(ctx context.Context) error {
	for {
		data, err := s.conn.Receive(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}

		in, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping inbound frame")
			continue
		}

		switch in.Type {
		case protocol.TypeCreated:
			s.newGame(ctx, in.Created.GameID)
		case protocol.TypeStart:
			log.Info().Str("game", s.currentGame().ID).Msg("game started")
		case protocol.TypeState:
			if err := s.ingestState(ctx, in.State); err != nil {
				return err
			}
		}
	}
}

func (s *Session) ingestState(ctx context.Context, snap *game_state.Snapshot) error {
	if !s.store.Update(snap) {
		log.Debug().Int64("tick", snap.Tick).Msg("dropping repeated or stale tick")
		return nil
	}
	prev := s.store.Previous()

	next := Active
	if snap.InSpawnPhase {
		next = Placement
	}

	s.mu.Lock()
	from := s.phase
	s.phase = next
	game := s.tracker
	s.mu.Unlock()
	game.UpdateTick(snap.Tick)

	if from != next {
		log.Info().Stringer("from", from).Stringer("to", next).Int64("tick", snap.Tick).Msg("phase change")
	}

	// Entering placement: claim a spot right away rather than wait on the policy.
	if next == Placement && from != Placement && s.cfg.AutoSpawn && !snap.HasPlaced() {
		if spawn, ok := s.policy.AutoSpawn(snap); ok {
			log.Info().Int("x", spawn.X).Int("y", spawn.Y).Msg("auto-spawn")
			if err := s.actions.Push(ctx, spawn); err != nil {
				return fmt.Errorf("%w: %v", ErrSessionClosed, err)
			}
		} else {
			log.Warn().Int64("tick", snap.Tick).Msg("no spawn candidates, leaving placement to the policy")
		}
	}

	if s.cfg.Terminal != nil {
		if err := s.cfg.Terminal(prev, snap); err != nil {
			log.Info().Err(err).Int64("tick", snap.Tick).Msg("game over")
			return err
		}
	}
	return nil
}

// newGame resets every per-game counter for a game announced on this connection.
func (s *Session) newGame(ctx context.Context, gameID string) {
	var finalTick int64
	if snap := s.store.Current(); snap != nil {
		finalTick = snap.Tick
	}
	s.store.Reset()
	s.episode.Reset()

	s.mu.Lock()
	prev := s.tracker
	s.game = protocol.Game{ID: gameID, PlayerID: newPlayerID()}
	s.spawned = false
	s.phase = AwaitingFirstState
	s.tracker = s.recorder.StartGame(gameID)
	s.mu.Unlock()

	if finalTick > 0 {
		s.recorder.EndGame(ctx, prev, finalTick, "replaced")
	}
	log.Info().Str("game", gameID).Msg("new game")
}

// decide runs a decision cycle for every snapshot it observes. Snapshots arriving
// faster than decisions are coalesced: each cycle takes the latest one.
//
// The episode generation is read before the snapshot. newGame resets the store
// before the episode, so a snapshot of the previous game is always paired with the
// previous generation and refused.
func (s *Session) decide(ctx context.Context) error {
	changed := s.store.Changed()
	generation := s.episode.Generation()
	snap := s.store.Current()
	for {
		if snap != nil {
			s.step(ctx, generation, snap)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
		changed = s.store.Changed()
		generation = s.episode.Generation()
		snap = s.store.Current()
	}
}

func (s *Session) step(ctx context.Context, generation uint64, snap *game_state.Snapshot) {
	out, err := s.episode.Step(ctx, generation, snap, s.actions.Push)
	switch {
	case errors.Is(err, reinforcement.ErrStaleSnapshot), errors.Is(err, reinforcement.ErrStaleGame):
		return
	case err != nil:
		if ctx.Err() == nil {
			log.Warn().Err(err).Int64("tick", snap.Tick).Msg("decision failed")
		}
		return
	}

	if out.Learned {
		s.mu.Lock()
		game := s.tracker
		s.mu.Unlock()
		game.AddReward(out.Reward)
	}
}

// dispatch forwards queued actions to the peer in order. An action is only taken off
// the channel once the previous send has returned, so the channel's capacity is the
// whole backlog between decisions and the peer.
func (s *Session) dispatch(ctx context.Context) error {
	for {
		action, err := s.actions.Pop(ctx)
		if err != nil {
			return nil
		}
		s.send(ctx, action)
	}
}

// send encodes and sends one action. Wait is dropped, and only the first spawn of a
// game is sent. Send failures are logged; the action is not retried.
func (s *Session) send(ctx context.Context, action game_state.Action) {
	switch action.(type) {
	case game_state.Wait:
		return
	case game_state.Spawn:
		s.mu.Lock()
		already := s.spawned
		s.spawned = true
		s.mu.Unlock()
		if already {
			log.Warn().Msg("already spawned this game, dropping spawn")
			return
		}
	case game_state.Attack, game_state.Build:
	}

	frame, err := s.cfg.Encoder.Encode(s.currentGame(), action, s.store.Current())
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode action")
		return
	}
	if frame == nil {
		return
	}
	if err := s.conn.Send(ctx, frame); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("action", fmt.Sprint(action)).Msg("failed to send action")
	}
}

// keepAlive pings the peer periodically.
func (s *Session) keepAlive(ctx context.Context) error {
	for range channerics.NewTicker(ctx.Done(), s.cfg.KeepAlive) {
		if err := s.conn.Send(ctx, protocol.NewPing()); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("ping failed")
		}
	}
	return nil
}

func (s *Session) currentGame() protocol.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game
}

// Phase reports where the session is in the game.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Store exposes the session's snapshots, read-only by convention.
func (s *Session) Store() *game_state.Store {
	return s.store
}

func newPlayerID() string {
	return uuid.NewString()[:8]
}
