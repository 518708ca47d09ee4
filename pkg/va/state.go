package va

import "fmt"

// LifecycleState is the session lifecycle. Closed is both the initial state
// and the state every close cycle or fatal fault ends in.
type LifecycleState int

const (
	Closed LifecycleState = iota
	Opening
	Opened
	Closing
)

// String returns the lower-case state name.
func (s LifecycleState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Opened:
		return "opened"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("LifecycleState(%d)", int(s))
	}
}

// DialogState is the dialog sub-state. Active is only valid while the
// lifecycle state is Opened.
type DialogState int

const (
	Idle DialogState = iota
	Active
)

// String returns the lower-case state name.
func (s DialogState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("DialogState(%d)", int(s))
	}
}
