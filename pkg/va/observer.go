package va

import "encoding/json"

// Observer receives asynchronous notifications from a [Controller]. Methods
// are invoked one at a time, in emission order, on the dispatcher goroutine;
// they never run inside an admission call.
//
// Implementations should return quickly. A panicking observer is recovered
// and logged; delivery continues with the next notification.
type Observer interface {
	// OnStateChanged reports lifecycle transitions to Opened and Closed.
	OnStateChanged(state LifecycleState, code ResultCode, message string)

	// OnDialogResult delivers the outcome of exactly one admitted prompt.
	// payload is the server's opaque JSON result; see [Payload].
	OnDialogResult(payload json.RawMessage, code ResultCode, message string)

	// OnVocabularyResult reports the outcome of an upload or clear of
	// concept/entity values.
	OnVocabularyResult(code ResultCode, message string)

	// OnDialogStarted fires when a prompt is admitted and the dialog becomes
	// active.
	OnDialogStarted()

	// OnDialogStopped fires when the active dialog ends for any reason.
	OnDialogStopped()

	// OnEvent delivers a VA event.
	OnEvent(ev Event)
}

// ObserverFuncs adapts optional functions to the [Observer] interface.
// Nil fields are skipped.
type ObserverFuncs struct {
	StateChanged     func(state LifecycleState, code ResultCode, message string)
	DialogResult     func(payload json.RawMessage, code ResultCode, message string)
	VocabularyResult func(code ResultCode, message string)
	DialogStarted    func()
	DialogStopped    func()
	Event            func(ev Event)
}

var _ Observer = ObserverFuncs{}

func (f ObserverFuncs) OnStateChanged(state LifecycleState, code ResultCode, message string) {
	if f.StateChanged != nil {
		f.StateChanged(state, code, message)
	}
}

func (f ObserverFuncs) OnDialogResult(payload json.RawMessage, code ResultCode, message string) {
	if f.DialogResult != nil {
		f.DialogResult(payload, code, message)
	}
}

func (f ObserverFuncs) OnVocabularyResult(code ResultCode, message string) {
	if f.VocabularyResult != nil {
		f.VocabularyResult(code, message)
	}
}

func (f ObserverFuncs) OnDialogStarted() {
	if f.DialogStarted != nil {
		f.DialogStarted()
	}
}

func (f ObserverFuncs) OnDialogStopped() {
	if f.DialogStopped != nil {
		f.DialogStopped()
	}
}

func (f ObserverFuncs) OnEvent(ev Event) {
	if f.Event != nil {
		f.Event(ev)
	}
}

// observerSlot is the unit swapped atomically by the dispatcher. A fresh slot
// per registration lets [Registration.Unregister] detect whether it is still
// current.
type observerSlot struct {
	obs Observer
}

// Registration is the handle returned when an observer is installed. The
// controller holds no other reference to the observer; after Unregister no
// further notifications reach it.
type Registration struct {
	d    *Dispatcher
	slot *observerSlot
}

// Unregister removes the observer if it is still the current one. Calling it
// more than once, or after another observer replaced it, is a no-op.
func (r *Registration) Unregister() {
	if r == nil || r.d == nil {
		return
	}
	r.d.current.CompareAndSwap(r.slot, nil)
}

// Active reports whether this registration is still the current observer.
func (r *Registration) Active() bool {
	return r != nil && r.d != nil && r.d.current.Load() == r.slot
}
