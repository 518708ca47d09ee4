package va

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxPending bounds the tracker when no capacity is configured.
const DefaultMaxPending = 64

const tracerName = "github.com/MrWong99/dmva/pkg/va"

// PendingOperation correlates one outstanding asynchronous request with its
// eventual resolution. A nil Completion is the fire-and-forget variant: the
// tracker still accounts for it, but nothing is delivered on resolution.
type PendingOperation struct {
	ID         string
	Kind       OperationKind
	Target     string
	Completion func(error)
	CreatedAt  time.Time

	seq  uint64
	span trace.Span
}

// Tracker is the registry of pending operations. Each operation leaves the
// registry exactly once, either through Resolve or DiscardAll. The tracker
// never invokes completions itself; callers hand them to the dispatcher.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	ops      map[string]*PendingOperation
	capacity int
	seq      uint64
	rec      Recorder
	tracer   trace.Tracer
}

// NewTracker creates a tracker holding at most capacity operations. A
// non-positive capacity selects [DefaultMaxPending]. rec may be nil.
func NewTracker(capacity int, rec Recorder) *Tracker {
	if capacity <= 0 {
		capacity = DefaultMaxPending
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Tracker{
		ops:      make(map[string]*PendingOperation),
		capacity: capacity,
		rec:      rec,
		tracer:   otel.Tracer(tracerName),
	}
}

// Register records a new operation and returns it with a fresh ID. It fails
// with InternalError when the tracker is at capacity.
func (t *Tracker) Register(ctx context.Context, kind OperationKind, target string, completion func(error)) (*PendingOperation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.ops) >= t.capacity {
		return nil, newFault(InternalError, "too many pending operations (limit %d)", t.capacity)
	}

	t.seq++
	op := &PendingOperation{
		seq:        t.seq,
		ID:         uuid.NewString(),
		Kind:       kind,
		Target:     target,
		Completion: completion,
		CreatedAt:  time.Now(),
	}
	_, op.span = t.tracer.Start(ctx, "va.operation",
		trace.WithAttributes(
			attribute.String("va.operation.id", op.ID),
			attribute.String("va.operation.kind", kind.String()),
			attribute.String("va.operation.target", target),
		),
	)
	t.ops[op.ID] = op
	t.rec.PendingOperations(1)
	return op, nil
}

// Resolve removes the operation id and finishes its span with err. Unknown
// ids (already resolved, discarded, or never issued) are logged and ignored,
// which makes duplicate acknowledgements from the transport harmless.
func (t *Tracker) Resolve(id string, err error) (*PendingOperation, bool) {
	t.mu.Lock()
	op, ok := t.ops[id]
	if ok {
		delete(t.ops, id)
	}
	t.mu.Unlock()

	if !ok {
		slog.Debug("va: resolve for unknown operation ignored", "operation_id", id, "err", err)
		return nil, false
	}
	t.finish(op, err)
	return op, true
}

// Cancel removes the operation id without reporting it as failed to the
// span. It behaves like Resolve with a Canceled fault.
func (t *Tracker) Cancel(id string) (*PendingOperation, bool) {
	return t.Resolve(id, ErrCanceled)
}

// DiscardAll empties the registry and returns every operation that was
// pending in registration order. reason is recorded on each span.
func (t *Tracker) DiscardAll(reason error) []*PendingOperation {
	t.mu.Lock()
	ops := make([]*PendingOperation, 0, len(t.ops))
	for _, op := range t.ops {
		ops = append(ops, op)
	}
	clear(t.ops)
	t.mu.Unlock()

	slices.SortFunc(ops, func(a, b *PendingOperation) int {
		return cmp.Compare(a.seq, b.seq)
	})
	for _, op := range ops {
		t.finish(op, reason)
	}
	return ops
}

// Len returns the number of pending operations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Pending reports whether id is still outstanding.
func (t *Tracker) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ops[id]
	return ok
}

func (t *Tracker) finish(op *PendingOperation, err error) {
	code := CodeOf(err)
	t.rec.PendingOperations(-1)
	t.rec.OperationDone(op.Kind, code, time.Since(op.CreatedAt))

	if op.span == nil {
		return
	}
	op.span.SetAttributes(attribute.String("va.result", code.String()))
	if err != nil && code != Canceled {
		op.span.RecordError(err)
		op.span.SetStatus(codes.Error, err.Error())
	}
	op.span.End()
}
