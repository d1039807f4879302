// transport carries JSON frames over a websocket, in either direction: dialed out to
// the game host, or upgraded from a plugin connecting in.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Maximum message size allowed from peer. State frames list every border tile.
	maxMessageSize = 4 << 20
	// How long a writer may wait for another writer to finish.
	writeDeadline = time.Second
)

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("connection closed")

var upgrader = websocket.Upgrader{
	// Plugins connect from the game's page, whose origin is not ours.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn serializes reads and writes to the websocket, whose requirements are that there
// may be only one concurrent reader and one concurrent writer at a time.
type Conn struct {
	// These are merely mutexes, but channel semantics are cleaner.
	readSem  chan struct{}
	writeSem chan struct{}
	ws       *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{
		readSem:  make(chan struct{}, 1),
		writeSem: make(chan struct{}, 1),
		ws:       ws,
		closed:   make(chan struct{}),
	}
}

// Dial connects to the game host at url.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newConn(ws), nil
}

// Upgrade accepts an inbound websocket on an http request. On failure an error
// response has already been written.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(ws), nil
}

// Receive blocks for the next text frame. Read errors are permanent: the connection
// is unusable afterward. A blocked Receive is released by Close, not by ctx.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err := c.usable(ctx); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	case c.readSem <- struct{}{}:
		defer func() { <-c.readSem }()
	}

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if isClosure(err) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Send writes v as one JSON frame.
func (c *Conn) Send(ctx context.Context, v interface{}) error {
	if err := c.usable(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	case c.writeSem <- struct{}{}:
		defer func() { <-c.writeSem }()
	case <-time.After(writeDeadline):
		return ErrSockCongestion
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set deadline: %T %w", err, err)
	}
	if err := c.ws.WriteJSON(v); err != nil {
		if isError(err) {
			return fmt.Errorf("send failed: %T %v", err, err)
		}
		return err
	}
	return nil
}

// Close sends a close frame if no write is in flight, and closes the socket, which
// releases a blocked Receive. It is safe to call more than once and concurrently.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		select {
		case c.writeSem <- struct{}{}:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			<-c.writeSem
		case <-time.After(writeWait):
		}
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
		return nil
	}
}

func isError(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}
