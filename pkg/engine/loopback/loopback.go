// Package loopback provides an in-process dialog server implementing
// [va.Engine].
//
// The engine keeps durable vocabulary in a [vocab.Store] keyed by user and
// ephemeral inline vocabulary for the lifetime of one session. Typed text is
// answered by a [Responder]; spoken answers to prompts are simulated with
// [Engine.Say], which resolves choices and entities through a phonetic
// [Matcher]. Every asynchronous result is delivered from its own goroutine
// after an optional artificial latency, exactly like a networked engine.
//
// The console front end uses it as its default engine and the controller
// integration tests use it to read uploaded vocabulary back.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// Intents reported by the built-in dialogs.
const (
	IntentSendText     = "dmvaSendText"
	IntentConfirmation = "dmvaPromptForConfirmation"
	IntentFreeText     = "dmvaPromptForFreeText"
	IntentChoice       = "dmvaPromptForChoice"
	IntentEntities     = "dmvaPromptForEntities"
)

// OptionUserID selects the durable vocabulary owner for one session when
// passed in the open options.
const OptionUserID = "user_id"

const taskCompleted = "completed"

var (
	// ErrNoPrompt is returned by [Engine.Say] when no spoken prompt is waiting.
	ErrNoPrompt = errors.New("loopback: no prompt is waiting for an answer")

	// ErrNotUnderstood is returned by [Engine.Say] when the utterance does not
	// answer the waiting prompt. The prompt stays active.
	ErrNotUnderstood = errors.New("loopback: utterance not understood")
)

var (
	confirmWords = []string{"yes", "yeah", "yep", "ok", "okay", "sure", "correct", "confirm", "affirmative"}
	abortWords   = []string{"no", "nope", "cancel", "abort", "negative", "stop"}
)

// Option configures an [Engine].
type Option func(*Engine)

// WithStore sets the durable vocabulary store. Default: a fresh
// [vocab.MemStore].
func WithStore(s vocab.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithUser sets the default vocabulary owner. Default: "default".
func WithUser(userID string) Option {
	return func(e *Engine) { e.user = userID }
}

// WithModels restricts the grammar models this engine is licensed for. A
// model is accepted when it starts with one of the entries. Default: every
// model.
func WithModels(models ...string) Option {
	return func(e *Engine) { e.models = models }
}

// WithMatcher replaces the phonetic matcher used by [Engine.Say].
func WithMatcher(m *Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithResponder sets the answerer for typed text. Default:
// [MentionResponder].
func WithResponder(r Responder) Option {
	return func(e *Engine) { e.responder = r }
}

// WithLatency delays every asynchronous result by d.
func WithLatency(d time.Duration) Option {
	return func(e *Engine) { e.latency = d }
}

// Engine is the loopback dialog server. It is safe for concurrent use.
type Engine struct {
	store     vocab.Store
	user      string
	models    []string
	matcher   *Matcher
	responder Responder
	latency   time.Duration

	wg sync.WaitGroup

	mu      sync.Mutex
	cb      va.Callbacks
	speech  bool
	open    bool
	model   string
	session string
	ctx     context.Context
	inline  vocab.InlineSet
	prompt  *va.PromptRequest
}

var (
	_ va.Engine        = (*Engine)(nil)
	_ va.SessionProber = (*Engine)(nil)
)

// New creates a loopback engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		user:   "default",
		speech: true,
		ctx:    context.Background(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.store == nil {
		e.store = vocab.NewMemStore()
	}
	if e.matcher == nil {
		e.matcher = NewMatcher()
	}
	if e.responder == nil {
		e.responder = MentionResponder()
	}
	return e
}

// Bind implements [va.Engine].
func (e *Engine) Bind(cb va.Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

// SessionOpen implements [va.SessionProber]. It reports whether the
// surrounding speech session (microphone and recognizer) exists.
func (e *Engine) SessionOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speech
}

// SetSpeechSession simulates the host opening or closing its speech session.
func (e *Engine) SetSpeechSession(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speech = open
}

// Store returns the durable vocabulary store.
func (e *Engine) Store() vocab.Store { return e.store }

// User returns the vocabulary owner of the current session, or the default
// owner when no session is open.
func (e *Engine) User() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentUser()
}

// Model returns the grammar model of the open session, or "".
func (e *Engine) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return ""
	}
	return e.model
}

// Wait blocks until every asynchronous result started so far has been
// handed to the callbacks.
func (e *Engine) Wait() { e.wg.Wait() }

// BeginOpen implements [va.Engine]. Unlicensed models fail asynchronously
// with ServerError.
func (e *Engine) BeginOpen(ctx context.Context, model string, options map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx = ctx
	e.model = model
	e.session = ""
	if u, ok := options[OptionUserID].(string); ok && u != "" {
		e.session = u
	}

	var result error
	if !e.licensed(model) {
		result = &va.Fault{Code: va.ServerError, Message: fmt.Sprintf("grammar model %q is not licensed", model)}
	} else {
		e.open = true
	}
	cb := e.cb
	e.async(ctx, func() { cb.OpenResult(result) })
	slog.Debug("loopback: open", "model", model, "user", e.currentUser(), "licensed", result == nil)
	return nil
}

// BeginClose implements [va.Engine]. Inline vocabulary is dropped.
func (e *Engine) BeginClose(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetLocked()
	cb := e.cb
	e.async(ctx, func() { cb.CloseResult(nil) })
	return nil
}

// BeginPrompt implements [va.Engine]. Typed text is answered by the
// responder; every other prompt waits for [Engine.Say].
func (e *Engine) BeginPrompt(ctx context.Context, req va.PromptRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return &va.Fault{Code: va.ApplicationStateError, Message: "no open session"}
	}
	if req.Prompt != "" {
		slog.Info("loopback: speaking prompt", "prompt", req.Prompt, "kind", req.Kind)
	}
	if req.Kind != va.PromptText {
		r := req
		e.prompt = &r
		return nil
	}

	e.prompt = nil
	cb, user := e.cb, e.currentUser()
	inline := e.inline.Snapshot()
	e.async(ctx, func() {
		vocabulary, err := e.vocabulary(ctx, user, inline)
		if err != nil {
			cb.DialogResult(req.ID, nil, storeFault(err))
			return
		}
		payload, err := e.responder.Respond(ctx, req.Text, vocabulary)
		if err != nil {
			cb.DialogResult(req.ID, nil, &va.Fault{Code: va.ServerError, Message: "responder failed", Err: err})
			return
		}
		cb.DialogResult(req.ID, payload, nil)
	})
	return nil
}

// CancelDialog implements [va.Engine].
func (e *Engine) CancelDialog(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prompt != nil && e.prompt.ID == id {
		e.prompt = nil
	}
	return nil
}

// BeginVocabularyOp implements [va.Engine]. Uploads overwrite the previous
// entries of the concept.
func (e *Engine) BeginVocabularyOp(ctx context.Context, req va.VocabularyRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return &va.Fault{Code: va.ApplicationStateError, Message: "no open session"}
	}
	cb, user := e.cb, e.currentUser()
	e.async(ctx, func() {
		var err error
		switch req.Kind {
		case va.UploadValues:
			err = e.store.Replace(ctx, user, req.Name, req.Pairs)
		case va.ClearValues:
			err = e.store.Clear(ctx, user, req.Name)
		case va.ClearAll:
			err = e.store.ClearAll(ctx, user)
		default:
			err = fmt.Errorf("unsupported operation %s", req.Kind)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			cb.VocabularyAck(req.ID, storeFault(err))
			return
		}
		cb.VocabularyAck(req.ID, nil)
	})
	return nil
}

// SetInlineValues implements [va.Engine].
func (e *Engine) SetInlineValues(name string, pairs []vocab.Pair) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return &va.Fault{Code: va.ApplicationStateError, Message: "no open session"}
	}
	e.inline.Set(name, pairs)
	return nil
}

// ClearInlineValues implements [va.Engine].
func (e *Engine) ClearInlineValues(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return &va.Fault{Code: va.ApplicationStateError, Message: "no open session"}
	}
	e.inline.Clear(name)
	return nil
}

// InlineValues returns the inline entries currently set for name.
func (e *Engine) InlineValues(name string) []vocab.Pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inline.Get(name)
}

// Pending returns the prompt waiting for [Engine.Say], if any.
func (e *Engine) Pending() (va.PromptRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prompt == nil {
		return va.PromptRequest{}, false
	}
	return *e.prompt, true
}

// Say answers the waiting prompt with a spoken utterance. Confirmations
// understand common yes/no words; choices and entities are resolved with the
// matcher against the offered items or the durable and inline vocabulary.
func (e *Engine) Say(utterance string) error {
	e.mu.Lock()
	if e.prompt == nil {
		e.mu.Unlock()
		return ErrNoPrompt
	}
	req, ctx, user := *e.prompt, e.ctx, e.currentUser()
	inline := e.inline.Snapshot()
	e.mu.Unlock()

	var (
		payload json.RawMessage
		err     error
	)
	switch req.Kind {
	case va.PromptConfirmation:
		payload, err = e.confirm(utterance)
	case va.PromptFreeText:
		payload, err = encodeResult(IntentFreeText, taskCompleted, map[string]concept{
			va.ConceptFreeText: {Value: utterance, Literal: utterance},
		})
	case va.PromptChoice:
		payload, err = e.choose(utterance, req.Items)
	case va.PromptEntities:
		payload, err = e.entities(ctx, user, inline, utterance, req.Entities)
	default:
		err = ErrNoPrompt
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.prompt == nil || e.prompt.ID != req.ID {
		e.mu.Unlock()
		return ErrNoPrompt
	}
	e.prompt = nil
	cb := e.cb
	e.mu.Unlock()

	cb.DialogResult(req.ID, payload, nil)
	return nil
}

// Crash simulates a fatal engine fault such as a lost connection. The
// session is dropped and err reported through [va.Callbacks.Fault].
func (e *Engine) Crash(err error) {
	e.mu.Lock()
	e.resetLocked()
	cb := e.cb
	e.mu.Unlock()

	if cb != nil {
		cb.Fault(err)
	}
}

func (e *Engine) confirm(utterance string) (json.RawMessage, error) {
	words := strings.Fields(strings.ToLower(utterance))
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		switch {
		case slices.Contains(confirmWords, w):
			return encodeResult(IntentConfirmation, va.TaskConfirmed, nil)
		case slices.Contains(abortWords, w):
			return encodeResult(IntentConfirmation, va.TaskAborted, nil)
		}
	}
	return nil, ErrNotUnderstood
}

func (e *Engine) choose(utterance string, items []vocab.Pair) (json.RawMessage, error) {
	p, score, ok := e.matcher.Match(utterance, items)
	if !ok {
		return nil, ErrNotUnderstood
	}
	slog.Debug("loopback: choice resolved", "utterance", utterance, "literal", p.Literal, "score", score)
	return encodeResult(IntentChoice, taskCompleted, map[string]concept{
		va.ConceptChoice: {Value: p.Value, Literal: p.Literal},
	})
}

func (e *Engine) entities(ctx context.Context, user string, inline map[string][]vocab.Pair, utterance string, names []string) (json.RawMessage, error) {
	concepts := make(map[string]concept, len(names))
	for _, name := range names {
		candidates, err := e.store.Get(ctx, user, name)
		if err != nil && !errors.Is(err, vocab.ErrNotFound) {
			return nil, fmt.Errorf("loopback: entity %s: %w", name, err)
		}
		candidates = append(candidates, inline[name]...)
		if p, _, ok := e.matcher.Match(utterance, candidates); ok {
			concepts[name] = concept{Value: p.Value, Literal: p.Literal}
		}
	}
	if len(concepts) == 0 {
		return nil, ErrNotUnderstood
	}
	return encodeResult(IntentEntities, taskCompleted, concepts)
}

// vocabulary merges the durable entries of user with the inline entries.
func (e *Engine) vocabulary(ctx context.Context, user string, inline map[string][]vocab.Pair) (map[string][]vocab.Pair, error) {
	names, err := e.store.Names(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]vocab.Pair, len(names)+len(inline))
	for _, name := range names {
		pairs, err := e.store.Get(ctx, user, name)
		if errors.Is(err, vocab.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[name] = pairs
	}
	for name, pairs := range inline {
		out[name] = append(out[name], pairs...)
	}
	return out, nil
}

// async runs fn on its own goroutine after the configured latency unless
// ctx ends first.
func (e *Engine) async(ctx context.Context, fn func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.latency > 0 {
			t := time.NewTimer(e.latency)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		fn()
	}()
}

// callers hold e.mu.
func (e *Engine) resetLocked() {
	e.open = false
	e.prompt = nil
	e.model = ""
	e.session = ""
	e.inline.Reset()
}

func (e *Engine) currentUser() string {
	if e.session != "" {
		return e.session
	}
	return e.user
}

func (e *Engine) licensed(model string) bool {
	if len(e.models) == 0 {
		return true
	}
	for _, m := range e.models {
		if strings.HasPrefix(model, m) {
			return true
		}
	}
	return false
}

func storeFault(err error) error {
	return &va.Fault{Code: va.ServerError, Message: "vocabulary store", Err: err}
}
