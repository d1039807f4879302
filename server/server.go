// server is the inbound mode: a game plugin connects to us, says hello, and streams
// state frames; we answer with bare action frames. Every connection runs its own
// session over the process-wide policy.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"conquest/metrics"
	"conquest/protocol"
	"conquest/reinforcement"
	"conquest/session"
	"conquest/transport"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed for a plugin to say hello after connecting.
	helloWait = 10 * time.Second
	// Time allowed for in-flight requests on shutdown.
	shutdownGracePeriod = 5 * time.Second
)

// Stats is the /stats payload.
type Stats struct {
	States         int             `json:"states"`
	Epsilon        float64         `json:"epsilon"`
	ActiveSessions int64           `json:"activeSessions"`
	Games          metrics.Summary `json:"games"`
}

type Server struct {
	addr     string
	policy   *reinforcement.Policy
	recorder *metrics.Recorder
	cfg      session.Config
	router   *mux.Router
	// liveResolution paces /live updates.
	liveResolution time.Duration

	sessions sync.WaitGroup
	active   atomic.Int64
}

// NewServer builds the routes. Sessions use cfg with the raw action encoder.
func NewServer(
	addr string,
	policy *reinforcement.Policy,
	recorder *metrics.Recorder,
	cfg session.Config,
) *Server {
	cfg.Encoder = protocol.ActionEncoder{}
	server := &Server{
		addr:     addr,
		policy:   policy,
		recorder: recorder,
		cfg:      cfg,
		router:   mux.NewRouter(),

		liveResolution: liveResolution,
	}
	server.router.HandleFunc("/bot", server.serveBot).Methods(http.MethodGet)
	server.router.HandleFunc("/stats", server.serveStats).Methods(http.MethodGet)
	server.router.HandleFunc("/live", server.serveLive).Methods(http.MethodGet)
	return server
}

func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve listens until ctx is done, then shuts down and waits for sessions to save.
func (server *Server) Serve(ctx context.Context) (err error) {
	srv := &http.Server{
		Addr:              server.addr,
		Handler:           server.router,
		ReadHeaderTimeout: 5 * time.Second,
		// Sessions outlive their request on a hijacked connection; they end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Info().Str("addr", server.addr).Msg("listening for plugins")
	if err = srv.ListenAndServe(); errors.Is(err, http.ErrServerClosed) {
		err = nil
	} else if err != nil {
		err = fmt.Errorf("serve: %w", err)
	}

	server.sessions.Wait()
	return
}

// serveBot runs one session for the lifetime of the plugin's websocket.
func (server *Server) serveBot(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	server.sessions.Add(1)
	defer server.sessions.Done()
	server.active.Add(1)
	defer server.active.Add(-1)

	ctx := r.Context()
	if err := server.readHello(ctx, conn); err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("plugin left before hello")
		_ = conn.Close()
		return
	}

	err = session.New(conn, server.policy, server.recorder, server.cfg).Run(ctx)
	log.Info().Err(err).Str("remote", r.RemoteAddr).Msg("plugin session ended")
}

// readHello waits for the plugin's first frame. An unreadable hello is logged and
// tolerated; a closed or silent connection is not.
func (server *Server) readHello(ctx context.Context, conn *transport.Conn) error {
	timer := time.AfterFunc(helloWait, func() { _ = conn.Close() })
	defer timer.Stop()

	data, err := conn.Receive(ctx)
	if err != nil {
		return err
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(data, &hello); err != nil {
		log.Warn().Err(err).Msg("unreadable hello from plugin")
		return nil
	}
	log.Info().
		Str("clientID", hello.ClientID).
		Str("username", hello.Username).
		Msg("plugin connected")
	return nil
}

func (server *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	stats := server.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Warn().Err(err).Msg("failed to write stats")
	}
}

func (server *Server) Stats() Stats {
	return Stats{
		States:         server.policy.Table().Len(),
		Epsilon:        server.policy.Epsilon(),
		ActiveSessions: server.active.Load(),
		Games:          server.recorder.Summary(),
	}
}
