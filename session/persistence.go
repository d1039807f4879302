package session

import (
	"context"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
	"github.com/rs/zerolog/log"
)

// Saver is the persistence side of the value table.
type Saver interface {
	Save() error
}

// RunPersistence saves table every period until ctx is done. It runs once per process,
// independent of sessions coming and going. Failed saves are logged; the next tick
// tries again with whatever has been learned since.
func RunPersistence(ctx context.Context, table Saver, period time.Duration) error {
	if period <= 0 {
		<-ctx.Done()
		return nil
	}
	for range channerics.NewTicker(ctx.Done(), period) {
		if err := table.Save(); err != nil {
			log.Error().Err(err).Msg("autosave failed")
		}
	}
	return nil
}
