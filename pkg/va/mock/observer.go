package mock

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrWong99/dmva/pkg/va"
)

var _ va.Observer = (*Observer)(nil)

// Notification is one recorded observer call.
type Notification struct {
	// Kind is one of "state", "dialog_result", "vocabulary", "started",
	// "stopped" or "event".
	Kind    string
	State   va.LifecycleState
	Code    va.ResultCode
	Message string
	Payload json.RawMessage
	Event   va.Event
}

// String renders the notification compactly for test failure messages.
func (n Notification) String() string {
	switch n.Kind {
	case "state":
		return fmt.Sprintf("state(%s,%s)", n.State, n.Code)
	case "dialog_result":
		return fmt.Sprintf("dialog_result(%s)", n.Code)
	case "vocabulary":
		return fmt.Sprintf("vocabulary(%s)", n.Code)
	case "event":
		return fmt.Sprintf("event(%s)", n.Event.Type)
	default:
		return n.Kind
	}
}

// Observer records every notification in delivery order.
type Observer struct {
	mu    sync.Mutex
	calls []Notification
}

// NewObserver returns an empty recording observer.
func NewObserver() *Observer { return &Observer{} }

func (o *Observer) add(n Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, n)
}

// OnStateChanged implements [va.Observer].
func (o *Observer) OnStateChanged(state va.LifecycleState, code va.ResultCode, message string) {
	o.add(Notification{Kind: "state", State: state, Code: code, Message: message})
}

// OnDialogResult implements [va.Observer].
func (o *Observer) OnDialogResult(payload json.RawMessage, code va.ResultCode, message string) {
	o.add(Notification{Kind: "dialog_result", Payload: payload, Code: code, Message: message})
}

// OnVocabularyResult implements [va.Observer].
func (o *Observer) OnVocabularyResult(code va.ResultCode, message string) {
	o.add(Notification{Kind: "vocabulary", Code: code, Message: message})
}

// OnDialogStarted implements [va.Observer].
func (o *Observer) OnDialogStarted() { o.add(Notification{Kind: "started"}) }

// OnDialogStopped implements [va.Observer].
func (o *Observer) OnDialogStopped() { o.add(Notification{Kind: "stopped"}) }

// OnEvent implements [va.Observer].
func (o *Observer) OnEvent(ev va.Event) {
	o.add(Notification{Kind: "event", Event: ev, Message: ev.Message})
}

// All returns a copy of every recorded notification.
func (o *Observer) All() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Notification, len(o.calls))
	copy(out, o.calls)
	return out
}

// OfKind returns the recorded notifications of one kind.
func (o *Observer) OfKind(kind string) []Notification {
	var out []Notification
	for _, n := range o.All() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Kinds returns the String form of every notification, handy for comparing
// delivery order.
func (o *Observer) Kinds() []string {
	all := o.All()
	out := make([]string, len(all))
	for i, n := range all {
		out[i] = n.String()
	}
	return out
}

// Reset drops every recorded notification.
func (o *Observer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = nil
}
