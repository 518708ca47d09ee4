package va_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/va/mock"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var contacts = []vocab.Pair{{Literal: "Tim", Value: "Timothy Walker"}}

type fixture struct {
	ctrl *va.Controller
	eng  *mock.Engine
	obs  *mock.Observer
}

func newFixture(t *testing.T, eng *mock.Engine, opts ...va.Option) *fixture {
	t.Helper()
	opts = append([]va.Option{va.WithOpenTimeout(0), va.WithCloseTimeout(0)}, opts...)
	ctrl := va.New(eng, opts...)
	obs := mock.NewObserver()
	ctrl.SetObserver(obs)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})
	return &fixture{ctrl: ctrl, eng: eng, obs: obs}
}

// opened returns a fixture whose session is Opened and whose observer log is
// empty.
func opened(t *testing.T, opts ...va.Option) *fixture {
	t.Helper()
	f := newFixture(t, &mock.Engine{AutoOpen: true, AutoClose: true}, opts...)
	if err := f.ctrl.Open("Physician", nil); err != nil {
		t.Fatalf("Open() unexpected error: %v", err)
	}
	f.ctrl.Flush()
	if got := f.ctrl.State(); got != va.Opened {
		t.Fatalf("State() = %s, want opened", got)
	}
	f.obs.Reset()
	return f
}

func wantCode(t *testing.T, err error, want va.ResultCode) {
	t.Helper()
	if got := va.CodeOf(err); got != want {
		t.Fatalf("result = %s (%v), want %s", got, err, want)
	}
}

func wantKinds(t *testing.T, obs *mock.Observer, want ...string) {
	t.Helper()
	got := obs.Kinds()
	if !slices.Equal(got, want) {
		t.Fatalf("notifications = %v\nwant            %v", got, want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Admission table
// ---------------------------------------------------------------------------

type admission struct {
	name string
	call func(c *va.Controller) error
}

var admissions = []admission{
	{"open", func(c *va.Controller) error { return c.Open("Physician", nil) }},
	{"close", func(c *va.Controller) error { return c.Close() }},
	{"stop", func(c *va.Controller) error { return c.StopDialog() }},
	{"send_text", func(c *va.Controller) error { return c.SendText("show me CBC") }},
	{"confirm", func(c *va.Controller) error { return c.PromptForConfirmation("") }},
	{"free_text", func(c *va.Controller) error { return c.PromptForFreeText("say it") }},
	{"choice", func(c *va.Controller) error { return c.PromptForChoice(contacts, "") }},
	{"entities", func(c *va.Controller) error { return c.PromptForEntities([]string{"TASK_DATE"}, "", false) }},
	{"upload", func(c *va.Controller) error { return c.UploadValues("contacts", contacts, nil) }},
	{"clear", func(c *va.Controller) error { return c.ClearValues("contacts", nil) }},
	{"clear_all", func(c *va.Controller) error { return c.ClearAllValues(nil) }},
	{"inline", func(c *va.Controller) error { return c.SetInlineValues("greeting", contacts) }},
	{"clear_inline", func(c *va.Controller) error { return c.ClearInlineValues("greeting") }},
}

// admitted lists, per lifecycle state, the admissions that are not rejected
// with ApplicationStateError while the dialog is idle.
var admitted = map[va.LifecycleState][]string{
	va.Closed:  {"open", "close"},
	va.Opening: {"close"},
	va.Opened: {
		"close", "send_text", "confirm", "free_text", "choice", "entities",
		"upload", "clear", "clear_all", "inline", "clear_inline",
	},
	va.Closing: {},
}

func inState(t *testing.T, s va.LifecycleState) *fixture {
	t.Helper()
	switch s {
	case va.Closed:
		return newFixture(t, &mock.Engine{AutoClose: true})
	case va.Opening:
		f := newFixture(t, &mock.Engine{AutoClose: true})
		if err := f.ctrl.Open("Nurse", nil); err != nil {
			t.Fatal(err)
		}
		return f
	case va.Opened:
		return opened(t)
	case va.Closing:
		f := newFixture(t, &mock.Engine{AutoOpen: true})
		if err := f.ctrl.Open("Nurse", nil); err != nil {
			t.Fatal(err)
		}
		f.ctrl.Flush()
		if err := f.ctrl.Close(); err != nil {
			t.Fatal(err)
		}
		return f
	}
	t.Fatalf("unknown state %s", s)
	return nil
}

func TestController_AdmissionTable(t *testing.T) {
	t.Parallel()

	for _, state := range []va.LifecycleState{va.Closed, va.Opening, va.Opened, va.Closing} {
		for _, a := range admissions {
			t.Run(state.String()+"/"+a.name, func(t *testing.T) {
				t.Parallel()
				f := inState(t, state)
				if got := f.ctrl.State(); got != state {
					t.Fatalf("fixture state = %s, want %s", got, state)
				}

				err := a.call(f.ctrl)
				if slices.Contains(admitted[state], a.name) {
					if err != nil {
						t.Fatalf("%s in %s: unexpected error %v", a.name, state, err)
					}
					return
				}
				wantCode(t, err, va.ApplicationStateError)
			})
		}
	}
}

func TestController_NoSession(t *testing.T) {
	t.Parallel()

	t.Run("nil controller", func(t *testing.T) {
		t.Parallel()
		var c *va.Controller
		for _, a := range admissions {
			wantCode(t, a.call(c), va.NoSessionError)
		}
	})

	t.Run("nil engine", func(t *testing.T) {
		t.Parallel()
		c := va.New(nil)
		t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
		for _, a := range admissions {
			wantCode(t, a.call(c), va.NoSessionError)
		}
	})

	t.Run("speech session missing", func(t *testing.T) {
		t.Parallel()
		f := opened(t)
		f.eng.SetNoSession(true)
		wantCode(t, f.ctrl.SendText("hello"), va.NoSessionError)
		wantCode(t, f.ctrl.UploadValues("contacts", contacts, nil), va.NoSessionError)
	})

	t.Run("after shutdown", func(t *testing.T) {
		t.Parallel()
		f := opened(t)
		if err := f.ctrl.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() unexpected error: %v", err)
		}
		wantCode(t, f.ctrl.Open("Physician", nil), va.NoSessionError)
	})
}

func TestController_StateBeforeValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &mock.Engine{})
	// Invalid arguments in a forbidding state report the state error.
	wantCode(t, f.ctrl.SendText(""), va.ApplicationStateError)
	// Invalid arguments in an admitting state report the validation error.
	wantCode(t, f.ctrl.Open("Surgeon", nil), va.BadRequestError)
	if f.ctrl.State() != va.Closed {
		t.Fatal("rejected open must not change state")
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestController_OpenSuccess(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{}
	f := newFixture(t, eng)

	if err := f.ctrl.Open("Physician", map[string]any{"locale": "en-US"}); err != nil {
		t.Fatalf("Open() unexpected error: %v", err)
	}
	if got := f.ctrl.State(); got != va.Opening {
		t.Fatalf("State() = %s, want opening", got)
	}
	if got := f.ctrl.ActiveModel(); got != "Physician" {
		t.Errorf("ActiveModel() = %q", got)
	}
	if eng.OpenCalls[0].Options["locale"] != "en-US" {
		t.Errorf("options not forwarded: %v", eng.OpenCalls[0].Options)
	}

	eng.Callbacks().OpenResult(nil)
	f.ctrl.Flush()

	if got := f.ctrl.State(); got != va.Opened {
		t.Fatalf("State() = %s, want opened", got)
	}
	wantKinds(t, f.obs, "state(opened,success)")
}

func TestController_OpenFailure(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{}
	f := newFixture(t, eng)
	_ = f.ctrl.Open("Physician", nil)
	eng.Callbacks().OpenResult(&va.Fault{Code: va.ServerError, Message: "license expired"})
	f.ctrl.Flush()

	if got := f.ctrl.State(); got != va.Closed {
		t.Fatalf("State() = %s, want closed", got)
	}
	wantKinds(t, f.obs, "state(closed,server)")
	if msg := f.obs.All()[0].Message; msg != "license expired" {
		t.Errorf("message = %q", msg)
	}
	if f.ctrl.ActiveModel() != "" {
		t.Error("ActiveModel() should be cleared after a failed open")
	}
}

func TestController_OpenTwice(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{}
	f := newFixture(t, eng)

	if err := f.ctrl.Open("Physician", nil); err != nil {
		t.Fatal(err)
	}
	wantCode(t, f.ctrl.Open("Physician", nil), va.ApplicationStateError)

	eng.Callbacks().OpenResult(nil)
	// A duplicated confirmation from the transport is ignored.
	eng.Callbacks().OpenResult(nil)
	f.ctrl.Flush()

	wantKinds(t, f.obs, "state(opened,success)")
	if opens, _, _, _ := eng.Counts(); opens != 1 {
		t.Errorf("engine BeginOpen calls = %d, want 1", opens)
	}
}

func TestController_BeginOpenErrorIsAtomic(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{BeginOpenError: errors.New("grammar missing")}
	f := newFixture(t, eng)

	wantCode(t, f.ctrl.Open("Physician", nil), va.InternalError)
	if f.ctrl.State() != va.Closed {
		t.Fatal("failed admission must leave the session closed")
	}
	f.ctrl.Flush()
	wantKinds(t, f.obs)
}

func TestController_OpenTimeout(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{}
	f := newFixture(t, eng, va.WithOpenTimeout(20*time.Millisecond))
	_ = f.ctrl.Open("Physician", nil)

	waitFor(t, func() bool { return f.ctrl.State() == va.Closed })
	f.ctrl.Flush()
	wantKinds(t, f.obs, "state(closed,network)")

	// The session context handed to the engine is cancelled.
	if err := eng.OpenCalls[0].Ctx.Err(); err == nil {
		t.Error("session context still live after open timeout")
	}

	// A late confirmation does not resurrect the session.
	eng.Callbacks().OpenResult(nil)
	f.ctrl.Flush()
	if f.ctrl.State() != va.Closed {
		t.Fatal("late OpenResult reopened the session")
	}
}

func TestController_CloseFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &mock.Engine{AutoOpen: true})
	_ = f.ctrl.Open("Physician", nil)
	f.ctrl.Flush()
	f.obs.Reset()

	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if got := f.ctrl.State(); got != va.Closing {
		t.Fatalf("State() = %s, want closing", got)
	}
	wantCode(t, f.ctrl.Close(), va.ApplicationStateError)

	f.eng.Callbacks().CloseResult(nil)
	f.ctrl.Flush()
	if got := f.ctrl.State(); got != va.Closed {
		t.Fatalf("State() = %s, want closed", got)
	}
	wantKinds(t, f.obs, "state(closed,success)")

	// Closing a closed session is a silent no-op.
	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("Close() when closed: %v", err)
	}
	f.ctrl.Flush()
	wantKinds(t, f.obs, "state(closed,success)")
}

func TestController_CloseWhileOpening(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{AutoClose: true}
	f := newFixture(t, eng)
	_ = f.ctrl.Open("Physician", nil)

	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("Close() while opening: %v", err)
	}
	// The open confirmation arrives after the abort and is ignored.
	eng.Callbacks().OpenResult(nil)
	f.ctrl.Flush()

	if got := f.ctrl.State(); got != va.Closed {
		t.Fatalf("State() = %s, want closed", got)
	}
	wantKinds(t, f.obs, "state(closed,success)")
}

func TestController_CloseTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &mock.Engine{AutoOpen: true}, va.WithCloseTimeout(20*time.Millisecond))
	_ = f.ctrl.Open("Physician", nil)
	f.ctrl.Flush()
	f.obs.Reset()

	_ = f.ctrl.Close()
	waitFor(t, func() bool { return f.ctrl.State() == va.Closed })
	f.ctrl.Flush()
	wantKinds(t, f.obs, "state(closed,network)")
}

func TestController_BeginCloseError(t *testing.T) {
	t.Parallel()

	f := opened(t)
	f.eng.BeginCloseError = errors.New("socket gone")

	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	f.ctrl.Flush()
	if got := f.ctrl.State(); got != va.Closed {
		t.Fatalf("State() = %s, want closed", got)
	}
	wantKinds(t, f.obs, "state(closed,internal)")
}

func TestController_Reopen(t *testing.T) {
	t.Parallel()

	f := opened(t)
	_ = f.ctrl.Close()
	f.ctrl.Flush()
	if err := f.ctrl.Open("Nurse", nil); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	f.ctrl.Flush()
	wantKinds(t, f.obs, "state(closed,success)", "state(opened,success)")
	if f.ctrl.ActiveModel() != "Nurse" {
		t.Errorf("ActiveModel() = %q, want Nurse", f.ctrl.ActiveModel())
	}
}

func TestController_EarlierSessionCallbacksDropped(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{}
	f := newFixture(t, eng)
	_ = f.ctrl.Open("Physician", nil)
	earlier := eng.Callbacks()

	_ = f.ctrl.Close()
	earlier.CloseResult(nil)
	f.ctrl.Flush()
	if got := f.ctrl.State(); got != va.Closed {
		t.Fatalf("State() = %s, want closed", got)
	}

	if err := f.ctrl.Open("Nurse", nil); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	// The first session's open confirmation arrives after the reopen.
	earlier.OpenResult(nil)
	f.ctrl.Flush()
	if got := f.ctrl.State(); got != va.Opening {
		t.Fatalf("State() = %s after a late confirmation, want opening", got)
	}

	eng.Callbacks().OpenResult(&va.Fault{Code: va.ServerError, Message: "grammar model not licensed"})
	f.ctrl.Flush()
	if got := f.ctrl.State(); got != va.Closed {
		t.Fatalf("State() = %s, want closed", got)
	}
	wantKinds(t, f.obs, "state(closed,success)", "state(closed,server)")
}

func TestController_EarlierSessionFaultIgnored(t *testing.T) {
	t.Parallel()

	f := opened(t)
	earlier := f.eng.Callbacks()
	_ = f.ctrl.Close()
	f.ctrl.Flush()
	if err := f.ctrl.Open("Nurse", nil); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	f.ctrl.Flush()
	f.obs.Reset()

	earlier.Fault(&va.Fault{Code: va.NetworkError, Message: "old socket dropped"})
	earlier.Event(va.Event{Type: va.EventActive, Message: "old session"})
	f.ctrl.Flush()
	if got := f.ctrl.State(); got != va.Opened {
		t.Fatalf("State() = %s, want opened", got)
	}
	wantKinds(t, f.obs)
}

// ---------------------------------------------------------------------------
// Dialogs
// ---------------------------------------------------------------------------

func TestController_SendTextScenario(t *testing.T) {
	t.Parallel()

	f := opened(t)
	if err := f.ctrl.SendText("show me CBC"); err != nil {
		t.Fatalf("SendText() unexpected error: %v", err)
	}
	if got := f.ctrl.DialogState(); got != va.Active {
		t.Fatalf("DialogState() = %s, want active", got)
	}

	req := f.eng.LastPrompt()
	if req.Kind != va.PromptText || req.Text != "show me CBC" || req.ID == "" {
		t.Fatalf("engine prompt = %+v", req)
	}

	result := json.RawMessage(`{"intent":"ShowLab","concepts":{"LAB":{"value":"CBC"}}}`)
	f.eng.Callbacks().DialogResult(req.ID, result, nil)
	// Duplicate result from an unreliable transport.
	f.eng.Callbacks().DialogResult(req.ID, result, nil)
	f.ctrl.Flush()

	if got := f.ctrl.DialogState(); got != va.Idle {
		t.Fatalf("DialogState() = %s, want idle", got)
	}
	wantKinds(t, f.obs, "started", "event(va_active)", "dialog_result(success)", "stopped", "event(va_complete)")
	res := f.obs.OfKind("dialog_result")[0]
	if got := va.Payload(res.Payload).Intent(); got != "ShowLab" {
		t.Errorf("payload intent = %q", got)
	}
	if f.ctrl.PendingOperations() != 0 {
		t.Errorf("PendingOperations() = %d, want 0", f.ctrl.PendingOperations())
	}
}

func TestController_DialogResultError(t *testing.T) {
	t.Parallel()

	f := opened(t)
	_ = f.ctrl.PromptForFreeText("")
	id := f.eng.LastPrompt().ID
	f.eng.Callbacks().DialogResult(id, nil, &va.Fault{Code: va.ServerError, Message: "nlu unavailable"})
	f.ctrl.Flush()

	wantKinds(t, f.obs, "started", "event(va_active)", "dialog_result(server)", "stopped", "event(va_error)")
}

func TestController_PromptWhileActive(t *testing.T) {
	t.Parallel()

	f := opened(t)
	if err := f.ctrl.PromptForConfirmation("Save the note?"); err != nil {
		t.Fatal(err)
	}
	first := f.eng.LastPrompt().ID

	wantCode(t, f.ctrl.PromptForChoice(contacts, ""), va.ApplicationStateError)
	wantCode(t, f.ctrl.SendText("hello"), va.ApplicationStateError)
	wantCode(t, f.ctrl.PromptForEntities([]string{"TASK_DATE"}, "", false), va.ApplicationStateError)

	if f.ctrl.DialogState() != va.Active {
		t.Fatal("rejected prompt disturbed the active dialog")
	}
	if _, _, prompts, _ := f.eng.Counts(); prompts != 1 {
		t.Fatalf("engine received %d prompts, want 1", prompts)
	}

	f.eng.Callbacks().DialogResult(first, json.RawMessage(`{"taskState":"confirmed"}`), nil)
	f.ctrl.Flush()
	res := f.obs.OfKind("dialog_result")
	if len(res) != 1 || va.Payload(res[0].Payload).TaskState() != "confirmed" {
		t.Fatalf("dialog results = %v", res)
	}
}

func TestController_AllowNewIntentSupersedes(t *testing.T) {
	t.Parallel()

	f := opened(t)
	_ = f.ctrl.PromptForFreeText("")
	old := f.eng.LastPrompt().ID
	f.ctrl.Flush()
	f.obs.Reset()

	if err := f.ctrl.PromptForEntities([]string{"TASK_DATE"}, "When?", true); err != nil {
		t.Fatalf("PromptForEntities(allowNewIntent) unexpected error: %v", err)
	}
	next := f.eng.LastPrompt()
	if next.ID == old || !next.AllowNewIntent || next.Prompt != "When?" {
		t.Fatalf("engine prompt = %+v", next)
	}

	// The superseded dialog's late result is dropped.
	f.eng.Callbacks().DialogResult(old, json.RawMessage(`{}`), nil)
	f.eng.Callbacks().DialogResult(next.ID, json.RawMessage(`{"concepts":{"TASK_DATE":"tomorrow"}}`), nil)
	f.ctrl.Flush()

	wantKinds(t, f.obs,
		"dialog_result(canceled)", "stopped", "event(va_canceled)",
		"started", "event(va_active)",
		"dialog_result(success)", "stopped", "event(va_complete)",
	)
}

func TestController_StopDialog(t *testing.T) {
	t.Parallel()

	f := opened(t)
	wantCode(t, f.ctrl.StopDialog(), va.ApplicationStateError)

	_ = f.ctrl.PromptForChoice(contacts, "")
	id := f.eng.LastPrompt().ID
	if err := f.ctrl.StopDialog(); err != nil {
		t.Fatalf("StopDialog() unexpected error: %v", err)
	}
	if f.ctrl.DialogState() != va.Idle {
		t.Fatal("dialog still active after StopDialog")
	}
	if f.eng.CancelCalls[0] != id {
		t.Errorf("engine cancelled %q, want %q", f.eng.CancelCalls[0], id)
	}

	// A late result for the stopped dialog never becomes a partial success.
	f.eng.Callbacks().DialogResult(id, json.RawMessage(`{"concepts":{"CHOICE":"Tim"}}`), nil)
	f.ctrl.Flush()

	wantKinds(t, f.obs, "started", "event(va_active)", "dialog_result(canceled)", "stopped", "event(va_canceled)")
	if got := va.Payload(f.obs.OfKind("dialog_result")[0].Payload).TaskState(); got != va.TaskAborted {
		t.Errorf("canceled payload taskState = %q", got)
	}
}

func TestController_StopDialogEngineError(t *testing.T) {
	t.Parallel()

	f := opened(t)
	_ = f.ctrl.SendText("hello")
	f.eng.CancelError = errors.New("audio device busy")
	wantCode(t, f.ctrl.StopDialog(), va.InternalError)
	if f.ctrl.DialogState() != va.Active {
		t.Fatal("failed StopDialog must leave the dialog active")
	}
}

func TestController_BeginPromptError(t *testing.T) {
	t.Parallel()

	f := opened(t)
	f.eng.BeginPromptError = va.ErrBadRequest
	wantCode(t, f.ctrl.SendText("hello"), va.BadRequestError)

	f.eng.BeginPromptError = &va.Fault{Code: va.NetworkError}
	wantCode(t, f.ctrl.SendText("hello"), va.InternalError)

	if f.ctrl.DialogState() != va.Idle || f.ctrl.PendingOperations() != 0 {
		t.Fatal("failed admission left state behind")
	}
	f.ctrl.Flush()
	wantKinds(t, f.obs)
}

func TestController_PromptForChoiceJSON(t *testing.T) {
	t.Parallel()

	f := opened(t)
	wantCode(t, f.ctrl.PromptForChoiceJSON(`{"literal":"save"}`, ""), va.BadRequestError)

	if err := f.ctrl.PromptForChoiceJSON(`[{"literal":"save","value":"save"},{"literal":"delete","value":"delete"}]`, "Save or delete?"); err != nil {
		t.Fatalf("PromptForChoiceJSON() unexpected error: %v", err)
	}
	req := f.eng.LastPrompt()
	if req.Kind != va.PromptChoice || len(req.Items) != 2 || req.Items[1].Value != "delete" {
		t.Fatalf("engine prompt = %+v", req)
	}
}

// ---------------------------------------------------------------------------
// Close as cancellation barrier
// ---------------------------------------------------------------------------

func TestController_CloseDuringActiveDialog(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &mock.Engine{AutoOpen: true})
	_ = f.ctrl.Open("Physician", nil)
	f.ctrl.Flush()
	if err := f.ctrl.SendText("show me CBC"); err != nil {
		t.Fatal(err)
	}
	id := f.eng.LastPrompt().ID
	f.ctrl.Flush()
	f.obs.Reset()

	_ = f.ctrl.Close()
	// Result for the aborted dialog arrives during teardown.
	f.eng.Callbacks().DialogResult(id, json.RawMessage(`{}`), nil)
	f.eng.Callbacks().CloseResult(nil)
	// And once more after Closed.
	f.eng.Callbacks().DialogResult(id, json.RawMessage(`{}`), nil)
	f.ctrl.Flush()

	wantKinds(t, f.obs, "dialog_result(canceled)", "stopped", "event(va_canceled)", "state(closed,success)")
}

func TestController_CloseFlushesPendingOperations(t *testing.T) {
	t.Parallel()

	const n = 5
	f := newFixture(t, &mock.Engine{AutoOpen: true})
	_ = f.ctrl.Open("Physician", nil)
	f.ctrl.Flush()
	f.obs.Reset()

	var mu sync.Mutex
	calls := map[int]int{}
	var codes []va.ResultCode
	for i := range n {
		err := f.ctrl.UploadValues("contacts", contacts, func(err error) {
			mu.Lock()
			defer mu.Unlock()
			calls[i]++
			codes = append(codes, va.CodeOf(err))
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if f.ctrl.PendingOperations() != n {
		t.Fatalf("PendingOperations() = %d, want %d", f.ctrl.PendingOperations(), n)
	}

	_ = f.ctrl.Close()
	if f.ctrl.PendingOperations() != 0 {
		t.Fatalf("tracker not empty after close: %d", f.ctrl.PendingOperations())
	}

	// Late acks for every discarded operation are ignored.
	for _, req := range f.eng.VocabularyRequests() {
		f.eng.Callbacks().VocabularyAck(req.ID, nil)
	}
	f.eng.Callbacks().CloseResult(nil)
	f.ctrl.Flush()

	mu.Lock()
	defer mu.Unlock()
	for i := range n {
		if calls[i] != 1 {
			t.Errorf("completion %d invoked %d times, want 1", i, calls[i])
		}
	}
	for _, c := range codes {
		if c != va.Canceled {
			t.Errorf("completion code = %s, want canceled", c)
		}
	}

	kinds := f.obs.Kinds()
	if kinds[len(kinds)-1] != "state(closed,success)" {
		t.Fatalf("Closed must be the last notification, got %v", kinds)
	}
	if got := len(f.obs.OfKind("vocabulary")); got != n {
		t.Errorf("vocabulary notifications = %d, want %d", got, n)
	}
}

// ---------------------------------------------------------------------------
// Vocabulary
// ---------------------------------------------------------------------------

func TestController_VocabularyAck(t *testing.T) {
	t.Parallel()

	f := opened(t)

	done := make(chan error, 1)
	if err := f.ctrl.UploadValues("contacts", contacts, func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.ClearValues("contacts", nil); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.ClearAllValues(nil); err != nil {
		t.Fatal(err)
	}

	reqs := f.eng.VocabularyRequests()
	if len(reqs) != 3 {
		t.Fatalf("engine received %d vocabulary requests", len(reqs))
	}
	if reqs[0].Kind != va.UploadValues || reqs[0].Name != "contacts" || len(reqs[0].Pairs) != 1 {
		t.Errorf("upload request = %+v", reqs[0])
	}
	if reqs[2].Kind != va.ClearAll || reqs[2].Name != "" {
		t.Errorf("clear all request = %+v", reqs[2])
	}

	cb := f.eng.Callbacks()
	cb.VocabularyAck(reqs[0].ID, nil)
	cb.VocabularyAck(reqs[1].ID, &va.Fault{Code: va.ServerError, Message: "unknown concept"})
	cb.VocabularyAck(reqs[2].ID, nil)
	cb.VocabularyAck(reqs[2].ID, nil)
	f.ctrl.Flush()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("completion err = %v, want nil", err)
		}
	default:
		t.Fatal("completion not invoked")
	}
	wantKinds(t, f.obs, "vocabulary(success)", "vocabulary(server)", "vocabulary(success)")
}

func TestController_UploadValuesJSON(t *testing.T) {
	t.Parallel()

	f := opened(t)
	wantCode(t, f.ctrl.UploadValuesJSON("contacts", `[{"literal":"Tim"}]`, nil), va.BadRequestError)
	wantCode(t, f.ctrl.UploadValuesJSON("", `[]`, nil), va.BadRequestError)

	if err := f.ctrl.UploadValuesJSON("contacts", `[{"literal":"Tim","value":"Timothy Walker"}]`, nil); err != nil {
		t.Fatalf("UploadValuesJSON() unexpected error: %v", err)
	}
	reqs := f.eng.VocabularyRequests()
	if len(reqs) != 1 || reqs[0].Pairs[0].Value != "Timothy Walker" {
		t.Fatalf("engine requests = %+v", reqs)
	}
}

func TestController_PendingCapacity(t *testing.T) {
	t.Parallel()

	f := opened(t, va.WithMaxPending(2))
	for range 2 {
		if err := f.ctrl.ClearAllValues(nil); err != nil {
			t.Fatal(err)
		}
	}
	wantCode(t, f.ctrl.ClearAllValues(nil), va.InternalError)
}

func TestController_InlineValues(t *testing.T) {
	t.Parallel()

	f := opened(t)
	big := make([]vocab.Pair, vocab.InlineSoftLimit+10)
	for i := range big {
		big[i] = vocab.Pair{Literal: "l", Value: "v"}
	}
	if err := f.ctrl.SetInlineValues("greeting", big); err != nil {
		t.Fatalf("oversized inline set must be accepted: %v", err)
	}
	if err := f.ctrl.ClearInlineValues("greeting"); err != nil {
		t.Fatal(err)
	}
	wantCode(t, f.ctrl.SetInlineValues("bad name", contacts), va.BadRequestError)

	f.eng.InlineError = errors.New("engine refused")
	wantCode(t, f.ctrl.SetInlineValues("greeting", contacts), va.InternalError)

	if len(f.eng.InlineCalls) != 3 || f.eng.InlineCalls[1].Pairs != nil {
		t.Errorf("inline calls = %+v", f.eng.InlineCalls)
	}
	if f.ctrl.PendingOperations() != 0 {
		t.Error("inline operations must not create pending operations")
	}
}

// ---------------------------------------------------------------------------
// Faults, events and observers
// ---------------------------------------------------------------------------

func TestController_FatalFault(t *testing.T) {
	t.Parallel()

	f := opened(t)
	_ = f.ctrl.SendText("hello")
	var got error
	_ = f.ctrl.ClearAllValues(func(err error) { got = err })
	f.ctrl.Flush()
	f.obs.Reset()

	f.eng.Callbacks().Fault(&va.Fault{Code: va.NetworkError, Message: "connection reset"})
	f.ctrl.Flush()

	if f.ctrl.State() != va.Closed {
		t.Fatalf("State() = %s, want closed", f.ctrl.State())
	}
	wantKinds(t, f.obs,
		"event(va_error)",
		"dialog_result(canceled)", "stopped", "event(va_canceled)",
		"vocabulary(canceled)",
		"state(closed,network)",
	)
	if !errors.Is(got, va.ErrCanceled) {
		t.Errorf("completion err = %v, want canceled", got)
	}
	if _, closes, _, _ := f.eng.Counts(); closes != 0 {
		t.Error("a fatal fault must not start an engine teardown")
	}
}

func TestController_FaultWhileClosedIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &mock.Engine{})
	f.eng.Callbacks().Fault(errors.New("stray"))
	f.ctrl.Flush()
	wantKinds(t, f.obs)
}

func TestController_EngineEvents(t *testing.T) {
	t.Parallel()

	f := opened(t)
	f.eng.Callbacks().Event(va.Event{Type: va.EventActive, Message: "microphone on"})
	f.ctrl.Flush()

	evs := f.obs.OfKind("event")
	if len(evs) != 1 || evs[0].Event.Message != "microphone on" || evs[0].Event.Timestamp.IsZero() {
		t.Fatalf("events = %+v", evs)
	}
}

func TestController_ObserverMayCallBack(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{AutoOpen: true}
	ctrl := va.New(eng, va.WithOpenTimeout(0))
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })

	errs := make(chan error, 1)
	ctrl.SetObserver(va.ObserverFuncs{
		StateChanged: func(s va.LifecycleState, _ va.ResultCode, _ string) {
			if s == va.Opened {
				errs <- ctrl.SendText("show me CBC")
			}
		},
	})

	if err := ctrl.Open("Physician", nil); err != nil {
		t.Fatal(err)
	}
	ctrl.Flush()

	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("SendText() from observer: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer was not notified")
	}
	if ctrl.DialogState() != va.Active {
		t.Fatal("dialog admitted from the observer is not active")
	}
}

func TestController_UnregisteredObserverSkipped(t *testing.T) {
	t.Parallel()

	f := opened(t)
	other := mock.NewObserver()
	reg := f.ctrl.SetObserver(other)
	reg.Unregister()

	_ = f.ctrl.SendText("hello")
	f.ctrl.Flush()

	if n := len(other.All()) + len(f.obs.All()); n != 0 {
		t.Fatalf("notifications delivered without an observer: %d", n)
	}
}

func TestController_ConcurrentAdmissions(t *testing.T) {
	t.Parallel()

	f := opened(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted int
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.ctrl.SendText("hello"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			} else if va.CodeOf(err) != va.ApplicationStateError {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("admitted %d concurrent prompts, want exactly 1", admitted)
	}
}

func TestController_ErrorMessagesNameOperation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &mock.Engine{})
	err := f.ctrl.SendText("x")
	if err == nil || !strings.Contains(err.Error(), "send_text") {
		t.Errorf("error = %v, want operation name", err)
	}
}
