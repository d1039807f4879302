// supervisor keeps the agent connected to the game host: dial, hello, one session,
// and reconnect with exponential backoff when the session ends for any reason.
package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"conquest/metrics"
	"conquest/protocol"
	"conquest/reinforcement"
	"conquest/session"
	"conquest/transport"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	initialInterval = 500 * time.Millisecond
	maxInterval     = 10 * time.Second
)

// Dialer opens a connection to the host.
type Dialer func(ctx context.Context, url string) (session.Transport, error)

func dialWebsocket(ctx context.Context, url string) (session.Transport, error) {
	return transport.Dial(ctx, url)
}

type Config struct {
	URL string
	// Username is announced in hello and spawn intents. Empty derives one from the
	// client id of each connection.
	Username string
	// PersistentID identifies this process to the host across reconnects.
	PersistentID string
	Session      session.Config
}

type Option func(*Supervisor)

// WithDialer replaces the websocket dialer.
func WithDialer(dial Dialer) Option {
	return func(s *Supervisor) {
		s.dial = dial
	}
}

// WithBackoff overrides the reconnect intervals.
func WithBackoff(initial, max time.Duration) Option {
	return func(s *Supervisor) {
		s.initial = initial
		s.max = max
	}
}

type Supervisor struct {
	cfg      Config
	policy   *reinforcement.Policy
	recorder *metrics.Recorder
	dial     Dialer
	initial  time.Duration
	max      time.Duration

	connections atomic.Int64
}

func New(
	cfg Config,
	policy *reinforcement.Policy,
	recorder *metrics.Recorder,
	opts ...Option,
) *Supervisor {
	if cfg.PersistentID == "" {
		cfg.PersistentID = newID()
	}
	s := &Supervisor{
		cfg:      cfg,
		policy:   policy,
		recorder: recorder,
		dial:     dialWebsocket,
		initial:  initialInterval,
		max:      maxInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newBackOff doubles from the initial interval up to the cap and never gives up.
func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	b.MaxInterval = s.max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run connects and reconnects until ctx is done, which is the only way it returns.
func (s *Supervisor) Run(ctx context.Context) error {
	b := s.newBackOff()
	for {
		connected, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		log.Warn().Err(err).Dur("retry", wait).Msg("disconnected from host")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Connections is the number of sessions started so far.
func (s *Supervisor) Connections() int64 {
	return s.connections.Load()
}

// connectOnce dials, says hello and plays one session. connected reports whether the
// session got as far as running.
func (s *Supervisor) connectOnce(ctx context.Context) (connected bool, err error) {
	conn, err := s.dial(ctx, s.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	clientID := newID()
	username := s.cfg.Username
	if username == "" {
		username = "rl-bot-" + clientID[:4]
	}

	hello := protocol.NewHello(clientID, s.cfg.PersistentID, username)
	if err := conn.Send(ctx, hello); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("hello: %w", err)
	}
	log.Info().
		Str("url", s.cfg.URL).
		Str("clientID", clientID).
		Str("username", username).
		Msg("connected")

	cfg := s.cfg.Session
	cfg.Encoder = protocol.IntentEncoder{ClientID: clientID, Username: username}
	s.connections.Add(1)
	return true, session.New(conn, s.policy, s.recorder, cfg).Run(ctx)
}

func newID() string {
	return uuid.NewString()[:8]
}
