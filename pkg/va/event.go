package va

import "time"

// EventType names a VA event delivered through [Observer.OnEvent].
type EventType string

const (
	// EventActive fires when a dialog is admitted and the microphone enters
	// VA mode.
	EventActive EventType = "va_active"

	// EventComplete fires when a dialog produced a result.
	EventComplete EventType = "va_complete"

	// EventCanceled fires when a dialog was stopped, superseded or aborted by
	// close.
	EventCanceled EventType = "va_canceled"

	// EventError fires for asynchronous faults that are not tied to a single
	// dialog or operation.
	EventError EventType = "va_error"
)

// Event is an immutable record delivered to the observer in emission order.
type Event struct {
	Type      EventType
	Message   string
	Timestamp time.Time
}

func newEvent(typ EventType, msg string) Event {
	return Event{Type: typ, Message: msg, Timestamp: time.Now()}
}
