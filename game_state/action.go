package game_state

import "fmt"

// ActionKey is the stable string identity of an Action in the value table.
type ActionKey string

// Action is one discrete move per tick. The set of variants is closed: Wait, Spawn,
// Attack and Build are the only implementations, and consumers switch over them
// exhaustively. Actions are values and never mutated after creation.
type Action interface {
	Key() ActionKey
	isAction()
}

// BuildKind names a structure the agent may construct.
type BuildKind string

const (
	City BuildKind = "city"
)

// WaitKey is the key of the no-op action.
const WaitKey ActionKey = "none"

// Wait does nothing this tick. It is never sent to the host.
type Wait struct{}

// Spawn claims the initial territory at X,Y during the placement phase.
type Spawn struct {
	X, Y int
}

// Attack sends Ratio of the agent's army toward Target.
type Attack struct {
	Target Tile
	Ratio  float64
}

// Build constructs a structure of the given kind.
type Build struct {
	Kind BuildKind
}

func (Wait) isAction()   {}
func (Spawn) isAction()  {}
func (Attack) isAction() {}
func (Build) isAction()  {}

func (Wait) Key() ActionKey { return WaitKey }

func (a Spawn) Key() ActionKey {
	return ActionKey(fmt.Sprintf("spawn:%d,%d", a.X, a.Y))
}

// Attack keys identify the target by coordinate only; the owner may change between
// ticks without making the action a different one.
func (a Attack) Key() ActionKey {
	return ActionKey(fmt.Sprintf("attack:%d,%d|ratio:%g", a.Target.X, a.Target.Y, a.Ratio))
}

func (a Build) Key() ActionKey {
	return ActionKey("build:" + string(a.Kind))
}

func (Wait) String() string    { return "wait" }
func (a Spawn) String() string { return string(a.Key()) }
func (a Attack) String() string {
	return fmt.Sprintf("attack (%d,%d) owner=%d ratio=%.0f%%", a.Target.X, a.Target.Y, a.Target.OwnerSmallID, a.Ratio*100)
}
func (a Build) String() string { return string(a.Key()) }

// Keys maps actions to their keys, preserving order.
func Keys(actions []Action) []ActionKey {
	keys := make([]ActionKey, len(actions))
	for i, a := range actions {
		keys[i] = a.Key()
	}
	return keys
}
