package server

import (
	"context"
	"net/http"
	"time"

	"conquest/transport"

	channerics "github.com/niceyeti/channerics/channels"
	"github.com/rs/zerolog/log"
)

// liveResolution is the fastest rate stats are pushed to a viewer.
const liveResolution = time.Second

// serveLive publishes Stats to a viewer over a websocket: once on connect, then
// whenever they change, checked once per resolution. Unchanged stats are dropped.
func (server *Server) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The viewer never sends; reading only notices it leaving.
	go func() {
		defer cancel()
		for {
			if _, err := conn.Receive(ctx); err != nil {
				return
			}
		}
	}()

	last := server.Stats()
	if err := conn.Send(ctx, last); err != nil {
		return
	}
	for range channerics.NewTicker(ctx.Done(), server.liveResolution) {
		stats := server.Stats()
		if stats == last {
			continue
		}
		if err := conn.Send(ctx, stats); err != nil {
			log.Debug().Err(err).Msg("live viewer gone")
			return
		}
		last = stats
	}
}
