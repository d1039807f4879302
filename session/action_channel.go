package session

import (
	"context"

	"conquest/game_state"
)

// ActionChannel is the bounded FIFO between the decision loop and the dispatcher.
// Push blocks while it is full, which is what paces decisions to the send rate.
type ActionChannel struct {
	ch chan game_state.Action
}

func NewActionChannel(size int) *ActionChannel {
	if size < 1 {
		size = 1
	}
	return &ActionChannel{ch: make(chan game_state.Action, size)}
}

// Push enqueues a, blocking until there is room or ctx is done.
func (q *ActionChannel) Push(ctx context.Context, a game_state.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the oldest action, blocking until there is one or ctx is done.
func (q *ActionChannel) Pop(ctx context.Context) (game_state.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case a := <-q.ch:
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *ActionChannel) Len() int {
	return len(q.ch)
}
