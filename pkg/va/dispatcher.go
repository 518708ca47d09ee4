package va

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Dispatcher delivers notifications on a single goroutine in the order they
// were enqueued. The queue is unbounded so that enqueueing never blocks the
// controller's serialization point.
//
// The observer is read atomically at delivery time, so a notification goes
// to whichever observer is registered when it is delivered.
type Dispatcher struct {
	current atomic.Pointer[observerSlot]
	rec     Recorder
	q       *workQueue
}

// NewDispatcher creates a dispatcher. rec may be nil. The delivery goroutine
// starts lazily with the first enqueued notification.
func NewDispatcher(rec Recorder) *Dispatcher {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Dispatcher{rec: rec, q: newWorkQueue()}
}

// Register installs obs as the current observer, replacing any previous one.
// A nil obs clears the current observer and returns a nil registration.
func (d *Dispatcher) Register(obs Observer) *Registration {
	if obs == nil {
		d.current.Store(nil)
		return nil
	}
	slot := &observerSlot{obs: obs}
	d.current.Store(slot)
	return &Registration{d: d, slot: slot}
}

// notify queues an observer call.
func (d *Dispatcher) notify(kind string, fn func(Observer)) {
	ok := d.q.push(func() { d.deliver(kind, fn) })
	if !ok {
		slog.Debug("va: dispatcher closed, dropping notification", "kind", kind)
	}
}

// run queues a function that does not need the observer, such as an
// operation completion.
func (d *Dispatcher) run(kind string, fn func()) {
	d.notify(kind, func(Observer) { fn() })
}

// Flush blocks until every notification enqueued before the call has been
// delivered. It must not be called from an observer.
func (d *Dispatcher) Flush() {
	ch := make(chan struct{})
	if !d.q.push(func() { close(ch) }) {
		<-d.q.done
		return
	}
	<-ch
}

// Close stops accepting notifications and returns once everything already
// queued has been delivered.
func (d *Dispatcher) Close() {
	d.q.close()
}

func (d *Dispatcher) deliver(kind string, fn func(Observer)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("va: observer panicked", "kind", kind, "panic", fmt.Sprint(r))
		}
	}()

	var obs Observer = ObserverFuncs{}
	if slot := d.current.Load(); slot != nil {
		obs = slot.obs
	}
	fn(obs)
	d.rec.Notification(kind)
}
