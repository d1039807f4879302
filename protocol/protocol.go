// protocol defines the JSON frames exchanged with the game host: inbound lifecycle and
// state frames, outbound hello/intent/ping frames, and the raw action frames of the
// inbound server mode.
package protocol

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"conquest/game_state"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Message types.
const (
	TypeCreated = "created"
	TypeStart   = "start"
	TypeState   = "state"
	TypeHello   = "hello"
	TypeIntent  = "intent"
	TypePing    = "ping"
)

// ErrInvalidFrame marks an inbound frame that could not be decoded or failed validation.
// It is never fatal to a session: the frame is logged and skipped.
var ErrInvalidFrame = errors.New("invalid frame")

//go:embed schemas/state.schema.json
var stateSchemaJSON string

var stateSchema = jsonschema.MustCompileString("state.schema.json", stateSchemaJSON)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// CreatedMsg announces a new game on the connection.
type CreatedMsg struct {
	Type   string `json:"type"`
	GameID string `json:"gameID"`
}

// Inbound is one routed inbound frame. Exactly one of Created or State is set for those
// types; start and unknown types carry only Type.
type Inbound struct {
	Type    string
	Created *CreatedMsg
	State   *game_state.Snapshot
}

// Decode routes an inbound frame by type. State frames are validated against the
// state schema before decoding. Unknown types are returned without error for the
// caller to ignore.
func Decode(b []byte) (Inbound, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	in := Inbound{Type: base.Type}
	switch base.Type {
	case TypeCreated:
		created := &CreatedMsg{}
		if err := json.Unmarshal(b, created); err != nil {
			return in, fmt.Errorf("%w: created: %v", ErrInvalidFrame, err)
		}
		in.Created = created
	case TypeState:
		snap, err := DecodeState(b)
		if err != nil {
			return in, err
		}
		in.State = snap
	}
	return in, nil
}

// DecodeState validates and decodes one state frame.
func DecodeState(b []byte) (*game_state.Snapshot, error) {
	var doc interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: state: %v", ErrInvalidFrame, err)
	}
	if err := stateSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: state: %v", ErrInvalidFrame, err)
	}

	snap := &game_state.Snapshot{}
	if err := json.Unmarshal(b, snap); err != nil {
		return nil, fmt.Errorf("%w: state: %v", ErrInvalidFrame, err)
	}
	return snap, nil
}
