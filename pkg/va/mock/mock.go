// Package mock provides in-memory test doubles for [va.Engine] and
// [va.Observer].
//
// The engine mock records every method call, lets the test configure return
// values via exported fields, and exposes the bound [va.Callbacks] so the
// test can play the dialog server. It is safe for concurrent use.
//
// Example:
//
//	eng := &mock.Engine{}
//	ctrl := va.New(eng)
//	obs := mock.NewObserver()
//	ctrl.SetObserver(obs)
//	_ = ctrl.Open("Physician", nil)
//	eng.Callbacks().OpenResult(nil)
//	ctrl.Flush()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// Compile-time interface assertion.
var _ va.Engine = (*Engine)(nil)

// OpenCall records the arguments of a single [Engine.BeginOpen] call.
type OpenCall struct {
	Ctx     context.Context
	Model   string
	Options map[string]any
}

// InlineCall records the arguments of a single [Engine.SetInlineValues] or
// [Engine.ClearInlineValues] call. Pairs is nil for clears.
type InlineCall struct {
	Name  string
	Pairs []vocab.Pair
}

// Engine is a mock implementation of [va.Engine].
// All exported *Error fields control return values.
// All exported *Calls fields accumulate invocation records.
type Engine struct {
	mu sync.Mutex
	cb va.Callbacks

	// NoSession makes SessionOpen report false.
	NoSession bool

	// AutoOpen makes BeginOpen report success re-entrantly.
	AutoOpen bool

	// AutoClose makes BeginClose report success re-entrantly.
	AutoClose bool

	BeginOpenError   error
	BeginCloseError  error
	BeginPromptError error
	CancelError      error
	VocabularyError  error
	InlineError      error

	OpenCalls       []OpenCall
	CloseCalls      int
	PromptCalls     []va.PromptRequest
	CancelCalls     []string
	VocabularyCalls []va.VocabularyRequest
	InlineCalls     []InlineCall
	BindCalls       int
}

// Bind implements [va.Engine].
func (e *Engine) Bind(cb va.Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
	e.BindCalls++
}

// SessionOpen implements [va.SessionProber].
func (e *Engine) SessionOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.NoSession
}

// SetNoSession toggles NoSession under the mock's lock.
func (e *Engine) SetNoSession(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NoSession = v
}

// BeginOpen implements [va.Engine].
func (e *Engine) BeginOpen(ctx context.Context, model string, options map[string]any) error {
	e.mu.Lock()
	e.OpenCalls = append(e.OpenCalls, OpenCall{Ctx: ctx, Model: model, Options: options})
	err, auto, cb := e.BeginOpenError, e.AutoOpen, e.cb
	e.mu.Unlock()

	if err == nil && auto && cb != nil {
		cb.OpenResult(nil)
	}
	return err
}

// BeginClose implements [va.Engine].
func (e *Engine) BeginClose(context.Context) error {
	e.mu.Lock()
	e.CloseCalls++
	err, auto, cb := e.BeginCloseError, e.AutoClose, e.cb
	e.mu.Unlock()

	if err == nil && auto && cb != nil {
		cb.CloseResult(nil)
	}
	return err
}

// BeginPrompt implements [va.Engine].
func (e *Engine) BeginPrompt(_ context.Context, req va.PromptRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.PromptCalls = append(e.PromptCalls, req)
	return e.BeginPromptError
}

// CancelDialog implements [va.Engine].
func (e *Engine) CancelDialog(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CancelCalls = append(e.CancelCalls, id)
	return e.CancelError
}

// BeginVocabularyOp implements [va.Engine].
func (e *Engine) BeginVocabularyOp(_ context.Context, req va.VocabularyRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.VocabularyCalls = append(e.VocabularyCalls, req)
	return e.VocabularyError
}

// SetInlineValues implements [va.Engine].
func (e *Engine) SetInlineValues(name string, pairs []vocab.Pair) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.InlineCalls = append(e.InlineCalls, InlineCall{Name: name, Pairs: pairs})
	return e.InlineError
}

// ClearInlineValues implements [va.Engine].
func (e *Engine) ClearInlineValues(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.InlineCalls = append(e.InlineCalls, InlineCall{Name: name})
	return e.InlineError
}

// Callbacks returns the callback surface bound by the controller.
func (e *Engine) Callbacks() va.Callbacks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cb
}

// LastPrompt returns the most recent prompt request, or the zero value.
func (e *Engine) LastPrompt() va.PromptRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.PromptCalls) == 0 {
		return va.PromptRequest{}
	}
	return e.PromptCalls[len(e.PromptCalls)-1]
}

// VocabularyRequests returns a copy of the recorded vocabulary requests.
func (e *Engine) VocabularyRequests() []va.VocabularyRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]va.VocabularyRequest, len(e.VocabularyCalls))
	copy(out, e.VocabularyCalls)
	return out
}

// Counts returns the number of open, close, prompt and cancel calls.
func (e *Engine) Counts() (opens, closes, prompts, cancels int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.OpenCalls), e.CloseCalls, len(e.PromptCalls), len(e.CancelCalls)
}
