package va

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/dmva/pkg/vocab"
)

// Default timeouts for engine confirmations.
const (
	DefaultOpenTimeout  = 30 * time.Second
	DefaultCloseTimeout = 10 * time.Second
)

// canceledPayload is delivered as the dialog result of every aborted dialog.
var canceledPayload = json.RawMessage(`{"taskState":"aborted"}`)

// Option configures a [Controller].
type Option func(*Controller)

// WithRecorder installs a measurement sink. See [Recorder].
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithMaxPending bounds the number of outstanding operations.
func WithMaxPending(n int) Option {
	return func(c *Controller) { c.maxPending = n }
}

// WithOpenTimeout fails an open that the engine has not confirmed within d
// with NetworkError. Zero or negative disables the timeout.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *Controller) { c.openTimeout = d }
}

// WithCloseTimeout forces Closed when the engine has not confirmed teardown
// within d. Zero or negative disables the timeout.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Controller) { c.closeTimeout = d }
}

// Controller is the VA session state machine. One controller represents the
// single VA session of a process; construct it once and share the pointer.
//
// Every admission method is non-blocking and observably atomic: it either
// changes state and returns nil, or returns a *Fault and changes nothing.
// All state is guarded by one mutex. Engine callbacks are queued and applied
// by a worker goroutine under the same mutex, so transitions are serialized.
// Notifications are handed to the [Dispatcher] while the mutex is held and
// delivered later, so hosts are never re-entered from an admission call.
type Controller struct {
	engine  Engine
	disp    *Dispatcher
	tracker *Tracker
	inbox   *workQueue
	rec     Recorder

	maxPending   int
	openTimeout  time.Duration
	closeTimeout time.Duration

	mu          sync.Mutex
	state       LifecycleState
	dialog      DialogState
	model       string
	dialogID    string
	dialogStart time.Time
	cycle       uint64
	sessCtx     context.Context
	sessCancel  context.CancelFunc
	timer       *time.Timer
	closedCh    chan struct{}
	shutdown    bool
}

// New creates a controller driving engine. A nil engine yields a controller
// on which every admission call fails with NoSessionError.
func New(engine Engine, opts ...Option) *Controller {
	c := &Controller{
		engine:       engine,
		rec:          nopRecorder{},
		openTimeout:  DefaultOpenTimeout,
		closeTimeout: DefaultCloseTimeout,
		inbox:        newWorkQueue(),
	}
	for _, o := range opts {
		o(c)
	}
	c.disp = NewDispatcher(c.rec)
	c.tracker = NewTracker(c.maxPending, c.rec)
	if engine != nil {
		engine.Bind(&callbacks{c: c})
	}
	return c
}

// SetObserver installs obs as the notification target, replacing any previous
// observer. The returned handle's Unregister detaches it again.
func (c *Controller) SetObserver(obs Observer) *Registration {
	return c.disp.Register(obs)
}

// State returns the current lifecycle state.
func (c *Controller) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DialogState returns the current dialog sub-state.
func (c *Controller) DialogState() DialogState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialog
}

// ActiveModel returns the grammar model of the current session, or "" when
// no session is opening or open.
func (c *Controller) ActiveModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// PendingOperations returns the number of outstanding operations, including
// the active prompt.
func (c *Controller) PendingOperations() int {
	return c.tracker.Len()
}

// Flush blocks until all notifications produced so far, including those
// caused by engine callbacks already received, have been delivered. It must
// not be called from an observer.
func (c *Controller) Flush() {
	done := make(chan struct{})
	if !c.inbox.push(func() { close(done) }) {
		<-c.inbox.done
	} else {
		<-done
	}
	c.disp.Flush()
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Open starts opening the session for the grammar model. It is admitted only
// from Closed. The outcome arrives through [Observer.OnStateChanged] with
// Opened/Success or Closed and the fault code.
func (c *Controller) Open(model string, options map[string]any) (err error) {
	defer c.record("open", &err)
	if c == nil {
		return noSession()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.precheck(); err != nil {
		return err
	}
	if c.state != Closed {
		return newFault(ApplicationStateError, "open is not allowed while %s", c.state)
	}
	if err := ValidateOpen(model, options); err != nil {
		return err
	}

	c.cycle++
	c.engine.Bind(&callbacks{c: c, cycle: c.cycle})
	ctx, cancel := context.WithCancel(context.Background())
	c.sessCtx, c.sessCancel = ctx, cancel
	c.closedCh = make(chan struct{})
	c.setState(Opening)
	c.model = model

	if err := c.engine.BeginOpen(ctx, model, options); err != nil {
		cancel()
		c.sessCtx, c.sessCancel = nil, nil
		c.closedCh = nil
		c.model = ""
		c.setState(Closed)
		return admissionFault("open", err)
	}

	cycle := c.cycle
	c.armTimer(c.openTimeout, func() { c.onOpenTimeout(cycle) })
	slog.Info("va: opening session", "model", model)
	return nil
}

// Close tears the session down. It is admitted from every state except
// Closing; closing an already closed session is a no-op. An active dialog is
// resolved with Canceled and every pending operation is flushed with a
// Canceled fault before the Closed notification.
func (c *Controller) Close() (err error) {
	defer c.record("close", &err)
	if c == nil {
		return noSession()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return noSession()
	}
	switch c.state {
	case Closed:
		return nil
	case Closing:
		return newFault(ApplicationStateError, "close is not allowed while closing")
	}

	c.stopTimer()
	c.abortDialog("dialog aborted by close")
	c.flushOperations("session closed")
	c.setState(Closing)
	c.sessCancel()

	cycle := c.cycle
	c.armTimer(c.closeTimeout, func() { c.onCloseTimeout(cycle) })

	if err := c.engine.BeginClose(context.Background()); err != nil {
		slog.Warn("va: engine failed to start teardown", "err", err)
		c.finishClosed(FaultFrom(err))
	}
	slog.Info("va: closing session")
	return nil
}

// Shutdown closes the session if needed, waits for the Closed transition or
// ctx, then stops the worker and the dispatcher after delivering everything
// queued. After Shutdown every admission call fails with NoSessionError.
func (c *Controller) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	_ = c.Close()

	c.mu.Lock()
	ch := c.closedCh
	closed := c.state == Closed
	c.mu.Unlock()

	var err error
	if !closed && ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			err = ctx.Err()
			c.mu.Lock()
			if c.state != Closed {
				c.finishClosed(&Fault{Code: NetworkError, Message: "shutdown before teardown completed", Err: err})
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()

	c.inbox.close()
	c.disp.Close()
	return err
}

// ---------------------------------------------------------------------------
// Dialogs
// ---------------------------------------------------------------------------

// SendText starts a dialog from typed text.
func (c *Controller) SendText(text string) error {
	return c.admitPrompt("send_text", PromptRequest{Kind: PromptText, Text: text}, func() error {
		return ValidateText(text)
	})
}

// PromptForConfirmation starts a yes/no dialog. prompt is optional.
func (c *Controller) PromptForConfirmation(prompt string) error {
	return c.admitPrompt("prompt_confirmation", PromptRequest{Kind: PromptConfirmation, Prompt: prompt}, nil)
}

// PromptForFreeText starts a free-form dialog. prompt is optional.
func (c *Controller) PromptForFreeText(prompt string) error {
	return c.admitPrompt("prompt_free_text", PromptRequest{Kind: PromptFreeText, Prompt: prompt}, nil)
}

// PromptForChoice starts a dialog in which the speaker picks one of items.
func (c *Controller) PromptForChoice(items []vocab.Pair, prompt string) error {
	return c.admitPrompt("prompt_choice", PromptRequest{Kind: PromptChoice, Prompt: prompt, Items: items}, func() error {
		return ValidateChoices(items)
	})
}

// PromptForChoiceJSON is [Controller.PromptForChoice] with the choices given
// as a JSON array of {"literal","value"} objects.
func (c *Controller) PromptForChoiceJSON(itemsJSON, prompt string) error {
	var items []vocab.Pair
	return c.admitPrompt("prompt_choice", PromptRequest{Kind: PromptChoice, Prompt: prompt}, func() error {
		var err error
		items, err = ParseChoices(itemsJSON)
		return err
	}, func(req *PromptRequest) { req.Items = items })
}

// PromptForEntities starts a dialog collecting values for entities. With
// allowNewIntent set the prompt is admitted while another dialog is active;
// the superseded dialog is resolved with Canceled.
func (c *Controller) PromptForEntities(entities []string, prompt string, allowNewIntent bool) error {
	req := PromptRequest{Kind: PromptEntities, Prompt: prompt, Entities: entities, AllowNewIntent: allowNewIntent}
	return c.admitPrompt("prompt_entities", req, func() error {
		return ValidateEntities(entities)
	})
}

// StopDialog aborts the active dialog. The dialog result is delivered with
// Canceled, never as a partial success.
func (c *Controller) StopDialog() (err error) {
	defer c.record("stop_dialog", &err)
	if c == nil {
		return noSession()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.precheck(); err != nil {
		return err
	}
	if c.dialog != Active {
		return newFault(ApplicationStateError, "no active dialog")
	}
	if err := c.engine.CancelDialog(c.sessCtx, c.dialogID); err != nil {
		return admissionFault("stop dialog", err)
	}
	c.endDialogCanceled("dialog stopped")
	return nil
}

func (c *Controller) admitPrompt(op string, req PromptRequest, validate func() error, finalize ...func(*PromptRequest)) (err error) {
	defer c.record(op, &err)
	if c == nil {
		return noSession()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.precheck(); err != nil {
		return err
	}
	if c.state != Opened {
		return newFault(ApplicationStateError, "%s is not allowed while %s", op, c.state)
	}
	supersede := req.Kind == PromptEntities && req.AllowNewIntent
	if c.dialog == Active && !supersede {
		return newFault(ApplicationStateError, "%s is not allowed while a dialog is active", op)
	}
	if validate != nil {
		if err := validate(); err != nil {
			return err
		}
	}
	for _, f := range finalize {
		f(&req)
	}

	pending, err := c.tracker.Register(c.sessCtx, Prompt, req.Kind.String(), nil)
	if err != nil {
		return err
	}
	req.ID = pending.ID

	if err := c.engine.BeginPrompt(c.sessCtx, req); err != nil {
		c.tracker.Resolve(pending.ID, err)
		return admissionFault(op, err)
	}

	if c.dialog == Active {
		c.endDialogCanceled("dialog superseded by new intent")
	}
	c.dialog = Active
	c.dialogID = pending.ID
	c.dialogStart = time.Now()
	c.disp.notify("dialog_started", func(o Observer) { o.OnDialogStarted() })
	c.emitEvent(newEvent(EventActive, req.Kind.String()))
	return nil
}

// ---------------------------------------------------------------------------
// Vocabulary
// ---------------------------------------------------------------------------

// UploadValues replaces the durable entries of the concept/entity name.
// completion, when non-nil, receives the outcome (nil on success) on the
// dispatcher goroutine; [Observer.OnVocabularyResult] fires in every case.
func (c *Controller) UploadValues(name string, pairs []vocab.Pair, completion func(error)) error {
	return c.admitVocabulary("upload_values", VocabularyRequest{Kind: UploadValues, Name: name, Pairs: pairs}, completion, func() error {
		return ValidateValues(name, pairs)
	})
}

// UploadValuesJSON is [Controller.UploadValues] with the entries given as a
// JSON array of {"literal","value"} objects.
func (c *Controller) UploadValuesJSON(name, valuesJSON string, completion func(error)) error {
	var pairs []vocab.Pair
	return c.admitVocabulary("upload_values", VocabularyRequest{Kind: UploadValues, Name: name}, completion, func() error {
		var err error
		pairs, err = ParseValues(name, valuesJSON)
		return err
	}, func(r *VocabularyRequest) { r.Pairs = pairs })
}

// ClearValues removes the durable entries of name.
func (c *Controller) ClearValues(name string, completion func(error)) error {
	return c.admitVocabulary("clear_values", VocabularyRequest{Kind: ClearValues, Name: name}, completion, func() error {
		return ValidateName(name)
	})
}

// ClearAllValues removes every durable entry of the current user.
func (c *Controller) ClearAllValues(completion func(error)) error {
	return c.admitVocabulary("clear_all", VocabularyRequest{Kind: ClearAll}, completion, nil)
}

func (c *Controller) admitVocabulary(op string, req VocabularyRequest, completion func(error), validate func() error, finalize ...func(*VocabularyRequest)) (err error) {
	defer c.record(op, &err)
	if c == nil {
		return noSession()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.precheck(); err != nil {
		return err
	}
	if c.state != Opened {
		return newFault(ApplicationStateError, "%s is not allowed while %s", op, c.state)
	}
	if validate != nil {
		if err := validate(); err != nil {
			return err
		}
	}
	for _, f := range finalize {
		f(&req)
	}

	pending, err := c.tracker.Register(c.sessCtx, req.Kind, req.Name, completion)
	if err != nil {
		return err
	}
	req.ID = pending.ID

	if err := c.engine.BeginVocabularyOp(c.sessCtx, req); err != nil {
		c.tracker.Resolve(pending.ID, err)
		return admissionFault(op, err)
	}
	return nil
}

// SetInlineValues replaces the ephemeral entries of name. The entries are
// visible to recognition when the call returns and vanish when the session
// closes. Sets larger than [vocab.InlineSoftLimit] are accepted with a
// warning.
func (c *Controller) SetInlineValues(name string, pairs []vocab.Pair) (err error) {
	defer c.record("set_inline_values", &err)
	if c == nil {
		return noSession()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.precheck(); err != nil {
		return err
	}
	if c.state != Opened {
		return newFault(ApplicationStateError, "set inline values is not allowed while %s", c.state)
	}
	if err := ValidateValues(name, pairs); err != nil {
		return err
	}
	if InlineOverLimit(pairs) {
		slog.Warn("va: inline set exceeds recommended size, recognition may degrade",
			"name", name, "count", len(pairs), "limit", vocab.InlineSoftLimit)
	}
	if err := c.engine.SetInlineValues(name, pairs); err != nil {
		return admissionFault("set inline values", err)
	}
	return nil
}

// ClearInlineValues removes the ephemeral entries of name.
func (c *Controller) ClearInlineValues(name string) (err error) {
	defer c.record("clear_inline_values", &err)
	if c == nil {
		return noSession()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.precheck(); err != nil {
		return err
	}
	if c.state != Opened {
		return newFault(ApplicationStateError, "clear inline values is not allowed while %s", c.state)
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := c.engine.ClearInlineValues(name); err != nil {
		return admissionFault("clear inline values", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Engine callbacks (run on the inbox worker)
// ---------------------------------------------------------------------------

func (c *Controller) onOpenResult(cycle uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale(cycle, "open_result") {
		return
	}
	if c.state != Opening {
		slog.Debug("va: open result ignored", "state", c.state, "err", err)
		return
	}
	c.stopTimer()
	if err != nil {
		slog.Warn("va: open failed", "model", c.model, "err", err)
		c.finishClosed(FaultFrom(err))
		return
	}
	c.setState(Opened)
	slog.Info("va: session opened", "model", c.model)
	c.disp.notify("state_changed", func(o Observer) { o.OnStateChanged(Opened, Success, "") })
}

func (c *Controller) onOpenTimeout(cycle uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cycle != cycle || c.state != Opening {
		return
	}
	slog.Warn("va: open timed out", "model", c.model, "timeout", c.openTimeout)
	c.finishClosed(newFault(NetworkError, "open was not confirmed within %s", c.openTimeout))
}

func (c *Controller) onCloseResult(cycle uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale(cycle, "close_result") {
		return
	}
	if c.state != Closing {
		slog.Debug("va: close result ignored", "state", c.state, "err", err)
		return
	}
	c.finishClosed(FaultFrom(err))
}

func (c *Controller) onCloseTimeout(cycle uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cycle != cycle || c.state != Closing {
		return
	}
	slog.Warn("va: close timed out, forcing closed", "timeout", c.closeTimeout)
	c.finishClosed(newFault(NetworkError, "close was not confirmed within %s", c.closeTimeout))
}

func (c *Controller) onDialogResult(cycle uint64, id string, payload json.RawMessage, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale(cycle, "dialog_result") {
		return
	}
	c.tracker.Resolve(id, err)
	if c.dialog != Active || id != c.dialogID {
		slog.Debug("va: stale dialog result ignored", "operation_id", id)
		return
	}

	code, msg := resultOf(err)
	c.dialog = Idle
	c.dialogID = ""
	c.rec.DialogDone(code, time.Since(c.dialogStart))
	payload = clonePayload(payload)
	c.disp.notify("dialog_result", func(o Observer) { o.OnDialogResult(payload, code, msg) })
	c.disp.notify("dialog_stopped", func(o Observer) { o.OnDialogStopped() })
	c.emitEvent(newEvent(eventFor(code), msg))
}

func (c *Controller) onVocabularyAck(cycle uint64, id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale(cycle, "vocabulary_ack") {
		return
	}
	op, ok := c.tracker.Resolve(id, err)
	if !ok {
		return
	}
	if op.Kind == Prompt {
		slog.Warn("va: vocabulary ack for a prompt operation", "operation_id", id)
	}
	c.deliverVocabulary(op, err)
}

func (c *Controller) onFault(cycle uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale(cycle, "fault") {
		return
	}
	f := FaultFrom(err)
	if f == nil || f.Code == Success || f.Code == Canceled {
		f = &Fault{Code: InternalError, Message: "engine fault", Err: err}
	}
	if c.state == Closed {
		slog.Debug("va: engine fault while closed ignored", "err", err)
		return
	}
	slog.Error("va: fatal engine fault, closing session", "code", f.Code, "err", err)
	c.emitEvent(newEvent(EventError, f.Text()))
	c.finishClosed(f)
}

func (c *Controller) onEvent(cycle uint64, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale(cycle, "event") {
		return
	}
	if c.state == Closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	c.emitEvent(ev)
}

// ---------------------------------------------------------------------------
// Internal helpers; callers hold c.mu.
// ---------------------------------------------------------------------------

// stale reports whether a callback bound for session cycle belongs to an
// earlier session. Such callbacks are dropped.
func (c *Controller) stale(cycle uint64, callback string) bool {
	if cycle == c.cycle {
		return false
	}
	slog.Debug("va: callback from an earlier session dropped", "callback", callback, "cycle", cycle, "current", c.cycle)
	return true
}

func (c *Controller) precheck() error {
	if c.engine == nil || c.shutdown {
		return noSession()
	}
	if p, ok := c.engine.(SessionProber); ok && !p.SessionOpen() {
		return noSession()
	}
	return nil
}

func (c *Controller) setState(s LifecycleState) {
	if c.state == s {
		return
	}
	c.rec.Transition(c.state, s)
	slog.Debug("va: state transition", "from", c.state, "to", s)
	c.state = s
}

// finishClosed moves to Closed from any state, resolving whatever is still
// outstanding first, and queues the final Closed notification with f's code
// (Success when f is nil).
func (c *Controller) finishClosed(f *Fault) {
	c.stopTimer()
	c.abortDialog("dialog aborted by close")
	c.flushOperations("session closed")
	if c.sessCancel != nil {
		c.sessCancel()
	}
	c.sessCtx, c.sessCancel = nil, nil
	c.model = ""
	c.cycle++
	c.setState(Closed)
	if c.closedCh != nil {
		close(c.closedCh)
		c.closedCh = nil
	}

	code, msg := Success, ""
	if f != nil {
		code, msg = f.Code, f.Text()
	}
	c.disp.notify("state_changed", func(o Observer) { o.OnStateChanged(Closed, code, msg) })
}

// abortDialog resolves the active dialog, if any, with Canceled.
func (c *Controller) abortDialog(msg string) {
	if c.dialog != Active {
		return
	}
	if c.engine != nil && c.sessCtx != nil {
		if err := c.engine.CancelDialog(c.sessCtx, c.dialogID); err != nil {
			slog.Debug("va: cancel dialog during close", "err", err)
		}
	}
	c.endDialogCanceled(msg)
}

// endDialogCanceled resolves the active dialog with Canceled and queues its
// result, the stop notification and the va_canceled event.
func (c *Controller) endDialogCanceled(msg string) {
	c.tracker.Cancel(c.dialogID)
	c.rec.DialogDone(Canceled, time.Since(c.dialogStart))
	c.dialog = Idle
	c.dialogID = ""
	c.disp.notify("dialog_result", func(o Observer) { o.OnDialogResult(canceledPayload, Canceled, msg) })
	c.disp.notify("dialog_stopped", func(o Observer) { o.OnDialogStopped() })
	c.emitEvent(newEvent(EventCanceled, msg))
}

// flushOperations discards every pending operation and resolves it with
// Canceled.
func (c *Controller) flushOperations(msg string) {
	reason := &Fault{Code: Canceled, Message: msg}
	for _, op := range c.tracker.DiscardAll(reason) {
		if op.Kind == Prompt {
			continue
		}
		c.deliverVocabulary(op, reason)
	}
}

func (c *Controller) deliverVocabulary(op *PendingOperation, err error) {
	code, msg := resultOf(err)
	if op.Completion != nil {
		done := op.Completion
		var cerr error
		if err != nil {
			cerr = FaultFrom(err)
		}
		c.disp.run("vocabulary_completion", func() { done(cerr) })
	}
	c.disp.notify("vocabulary_result", func(o Observer) { o.OnVocabularyResult(code, msg) })
}

func (c *Controller) emitEvent(ev Event) {
	c.disp.notify("event", func(o Observer) { o.OnEvent(ev) })
}

func (c *Controller) armTimer(d time.Duration, fn func()) {
	c.stopTimer()
	if d <= 0 {
		return
	}
	c.timer = time.AfterFunc(d, func() { c.inbox.push(fn) })
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) record(op string, err *error) {
	if c == nil {
		return
	}
	c.rec.Admission(op, CodeOf(*err))
}

func noSession() error {
	return newFault(NoSessionError, "no speech session")
}

// admissionFault maps a synchronous engine error onto the admission result
// set. Codes that are asynchronous by contract become InternalError.
func admissionFault(op string, err error) error {
	f := FaultFrom(err)
	switch f.Code {
	case NoSessionError, ApplicationStateError, BadRequestError, InternalError:
		return f
	default:
		return &Fault{Code: InternalError, Message: op, Err: err}
	}
}

func eventFor(code ResultCode) EventType {
	switch code {
	case Success:
		return EventComplete
	case Canceled:
		return EventCanceled
	default:
		return EventError
	}
}

func clonePayload(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	return append(json.RawMessage(nil), p...)
}

// callbacks is the [Callbacks] implementation handed to the engine for one
// session cycle. Every call becomes a message on the controller's inbox and is
// dropped there once the cycle has ended.
type callbacks struct {
	c     *Controller
	cycle uint64
}

var _ Callbacks = (*callbacks)(nil)

func (cb *callbacks) post(name string, fn func()) {
	if !cb.c.inbox.push(fn) {
		slog.Debug("va: engine callback after shutdown dropped", "callback", name)
	}
}

func (cb *callbacks) OpenResult(err error) {
	cb.post("open_result", func() { cb.c.onOpenResult(cb.cycle, err) })
}

func (cb *callbacks) CloseResult(err error) {
	cb.post("close_result", func() { cb.c.onCloseResult(cb.cycle, err) })
}

func (cb *callbacks) DialogResult(id string, payload json.RawMessage, err error) {
	payload = clonePayload(payload)
	cb.post("dialog_result", func() { cb.c.onDialogResult(cb.cycle, id, payload, err) })
}

func (cb *callbacks) VocabularyAck(id string, err error) {
	cb.post("vocabulary_ack", func() { cb.c.onVocabularyAck(cb.cycle, id, err) })
}

func (cb *callbacks) Fault(err error) {
	cb.post("fault", func() { cb.c.onFault(cb.cycle, err) })
}

func (cb *callbacks) Event(ev Event) {
	cb.post("event", func() { cb.c.onEvent(cb.cycle, ev) })
}
