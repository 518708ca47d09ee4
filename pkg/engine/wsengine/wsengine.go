// Package wsengine implements [va.Engine] against a remote dialog server
// reachable over a WebSocket.
//
// One connection carries one VA session. The engine dials when the session
// opens and hangs up when the server confirms teardown. Frames are JSON
// envelopes in both directions:
//
//	client → server: open, close, prompt, cancel, vocabulary, inline_set, inline_clear
//	server → client: opened, closed, dialog_result, vocabulary_ack, event, fault
//
// Errors travel as {"code":"server","message":"..."}, where code is a
// [va.ResultCode] name. Every Begin* method only enqueues a frame; a single
// writer goroutine owns the socket's write side and a single reader
// goroutine turns server frames into [va.Callbacks] calls.
package wsengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/vocab"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultQueueSize    = 64
	readLimit           = 1 << 20
	tracerName          = "github.com/MrWong99/dmva/pkg/engine/wsengine"
)

var _ va.Engine = (*Engine)(nil)

// Breaker guards dial attempts. [github.com/MrWong99/dmva/internal/resilience.CircuitBreaker]
// satisfies it.
type Breaker interface {
	Execute(fn func() error) error
}

type passthrough struct{}

func (passthrough) Execute(fn func() error) error { return fn() }

// Option configures an [Engine].
type Option func(*Engine)

// WithToken sends token as a bearer credential on dial.
func WithToken(token string) Option {
	return func(e *Engine) { e.token = token }
}

// WithDialTimeout bounds connection setup. Default: 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single frame write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

// WithBreaker guards dialing. While the breaker rejects calls, opens fail
// with NetworkError without touching the network.
func WithBreaker(b Breaker) Option {
	return func(e *Engine) {
		if b != nil {
			e.breaker = b
		}
	}
}

// WithQueueSize sets how many frames may wait for the writer. Default: 64.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// Engine is the WebSocket dialog-server client. It is safe for concurrent
// use.
type Engine struct {
	url          string
	token        string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	queueSize    int
	breaker      Breaker
	tracer       trace.Tracer
	httpClient   *http.Client

	mu     sync.Mutex
	cb     va.Callbacks
	conn   *connection
	inline vocab.InlineSet
}

// New creates an engine for the dialog server at url (ws:// or wss://).
func New(url string, opts ...Option) *Engine {
	e := &Engine{
		url:          url,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		queueSize:    defaultQueueSize,
		breaker:      passthrough{},
		tracer:       otel.Tracer(tracerName),
		httpClient:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Bind implements [va.Engine].
func (e *Engine) Bind(cb va.Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

// Connected reports whether a server connection is currently up.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// InlineValues returns the locally mirrored inline entries of name.
func (e *Engine) InlineValues(name string) []vocab.Pair {
	return e.inline.Get(name)
}

// BeginOpen implements [va.Engine]. Dialing happens on a separate goroutine;
// cancelling ctx aborts it and suppresses the result.
func (e *Engine) BeginOpen(ctx context.Context, model string, options map[string]any) error {
	e.mu.Lock()
	old := e.conn
	e.conn = nil
	cb := e.cb
	e.mu.Unlock()

	if old != nil {
		old.shutdown(websocket.StatusGoingAway, "superseded by new session")
	}
	e.inline.Reset()
	go e.open(ctx, cb, envelope{Type: msgOpen, Model: model, Options: options})
	return nil
}

// BeginClose implements [va.Engine]. Without a connection the close is
// confirmed immediately.
func (e *Engine) BeginClose(context.Context) error {
	e.mu.Lock()
	c, cb := e.conn, e.cb
	if c != nil {
		c.closing = true
	}
	e.mu.Unlock()

	e.inline.Reset()
	if c == nil {
		cb.CloseResult(nil)
		return nil
	}
	if err := c.send(envelope{Type: msgClose}); err != nil {
		e.detach(c)
		c.shutdown(websocket.StatusNormalClosure, "close")
		cb.CloseResult(nil)
	}
	return nil
}

// BeginPrompt implements [va.Engine].
func (e *Engine) BeginPrompt(_ context.Context, req va.PromptRequest) error {
	return e.send(envelope{
		Type:           msgPrompt,
		ID:             req.ID,
		Kind:           req.Kind.String(),
		Text:           req.Text,
		Prompt:         req.Prompt,
		Items:          req.Items,
		Entities:       req.Entities,
		AllowNewIntent: req.AllowNewIntent,
	})
}

// CancelDialog implements [va.Engine].
func (e *Engine) CancelDialog(_ context.Context, id string) error {
	return e.send(envelope{Type: msgCancel, ID: id})
}

// BeginVocabularyOp implements [va.Engine].
func (e *Engine) BeginVocabularyOp(_ context.Context, req va.VocabularyRequest) error {
	return e.send(envelope{
		Type:  msgVocabulary,
		ID:    req.ID,
		Kind:  req.Kind.String(),
		Name:  req.Name,
		Pairs: req.Pairs,
	})
}

// SetInlineValues implements [va.Engine]. The entries are mirrored locally
// and pushed without waiting for an acknowledgement.
func (e *Engine) SetInlineValues(name string, pairs []vocab.Pair) error {
	if err := e.send(envelope{Type: msgInlineSet, Name: name, Pairs: pairs}); err != nil {
		return err
	}
	e.inline.Set(name, pairs)
	return nil
}

// ClearInlineValues implements [va.Engine].
func (e *Engine) ClearInlineValues(name string) error {
	if err := e.send(envelope{Type: msgInlineClear, Name: name}); err != nil {
		return err
	}
	e.inline.Clear(name)
	return nil
}

func (e *Engine) send(env envelope) error {
	e.mu.Lock()
	c := e.conn
	e.mu.Unlock()
	if c == nil {
		return &va.Fault{Code: va.ApplicationStateError, Message: "not connected to the dialog server"}
	}
	return c.send(env)
}

func (e *Engine) open(ctx context.Context, cb va.Callbacks, hello envelope) {
	ws, err := e.dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			cb.OpenResult(&va.Fault{Code: va.NetworkError, Message: "dial dialog server", Err: err})
		}
		return
	}
	ws.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &connection{
		ws:           ws,
		ctx:          connCtx,
		cancel:       cancel,
		out:          make(chan []byte, e.queueSize),
		writeTimeout: e.writeTimeout,
	}

	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		c.shutdown(websocket.StatusNormalClosure, "open aborted")
		return
	}
	e.conn = c
	e.mu.Unlock()

	go e.writeLoop(c, cb)
	go e.readLoop(c, cb)

	if err := c.send(hello); err != nil {
		e.detach(c)
		c.shutdown(websocket.StatusInternalError, "open failed")
		cb.OpenResult(err)
	}
}

func (e *Engine) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := e.tracer.Start(ctx, "wsengine.dial",
		trace.WithAttributes(attribute.String("server.address", e.url)))
	defer span.End()

	var ws *websocket.Conn
	err := e.breaker.Execute(func() error {
		dctx, cancel := context.WithTimeout(ctx, e.dialTimeout)
		defer cancel()

		opts := &websocket.DialOptions{HTTPClient: e.httpClient}
		if e.token != "" {
			opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + e.token}}
		}
		c, _, err := websocket.Dial(dctx, e.url, opts)
		if err != nil {
			return err
		}
		ws = c
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("wsengine: dial %s: %w", e.url, err)
	}
	return ws, nil
}

func (e *Engine) readLoop(c *connection, cb va.Callbacks) {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			e.lost(c, cb, err)
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("wsengine: malformed frame dropped", "err", err)
			continue
		}
		e.handle(c, cb, env)
	}
}

func (e *Engine) writeLoop(c *connection, cb va.Callbacks) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			wctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				e.lost(c, cb, err)
				return
			}
		}
	}
}

func (e *Engine) handle(c *connection, cb va.Callbacks, env envelope) {
	if !e.current(c) {
		slog.Debug("wsengine: frame from a superseded connection dropped", "type", env.Type)
		return
	}
	switch env.Type {
	case msgOpened:
		if err := env.Error.err(); err != nil {
			e.detach(c)
			c.shutdown(websocket.StatusNormalClosure, "open rejected")
			cb.OpenResult(err)
			return
		}
		cb.OpenResult(nil)
	case msgClosed:
		e.detach(c)
		c.shutdown(websocket.StatusNormalClosure, "session closed")
		cb.CloseResult(env.Error.err())
	case msgDialogResult:
		cb.DialogResult(env.ID, env.Payload, env.Error.err())
	case msgVocabularyAck:
		cb.VocabularyAck(env.ID, env.Error.err())
	case msgEvent:
		cb.Event(va.Event{Type: va.EventType(env.Kind), Message: env.Text, Timestamp: time.Now()})
	case msgFault:
		e.detach(c)
		c.shutdown(websocket.StatusNormalClosure, "fault")
		err := env.Error.err()
		if err == nil {
			err = &va.Fault{Code: va.ServerError, Message: "dialog server fault"}
		}
		cb.Fault(err)
	default:
		slog.Debug("wsengine: unknown frame type", "type", env.Type)
	}
}

// lost reports an unexpected end of c. A connection that was shut down on
// purpose reports nothing; one that drops while closing counts as closed.
func (e *Engine) lost(c *connection, cb va.Callbacks, err error) {
	c.lostOnce.Do(func() {
		if c.ctx.Err() != nil {
			return
		}
		e.mu.Lock()
		closing := c.closing
		if e.conn == c {
			e.conn = nil
		}
		e.mu.Unlock()
		c.shutdown(websocket.StatusInternalError, "connection lost")

		if closing {
			cb.CloseResult(nil)
			return
		}
		slog.Warn("wsengine: connection lost", "err", err)
		cb.Fault(&va.Fault{Code: va.NetworkError, Message: "connection to the dialog server lost", Err: err})
	})
}

func (e *Engine) current(c *connection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn == c
}

func (e *Engine) detach(c *connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == c {
		e.conn = nil
	}
}

type connection struct {
	ws           *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	out          chan []byte
	writeTimeout time.Duration
	lostOnce     sync.Once
	closeOnce    sync.Once

	// closing is guarded by Engine.mu.
	closing bool
}

func (c *connection) send(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return &va.Fault{Code: va.InternalError, Message: "encode frame", Err: err}
	}
	select {
	case <-c.ctx.Done():
		return &va.Fault{Code: va.ApplicationStateError, Message: "connection closed"}
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return &va.Fault{Code: va.InternalError, Message: "send queue full"}
	}
}

func (c *connection) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		go func() {
			if err := c.ws.Close(code, reason); err != nil {
				slog.Debug("wsengine: close", "err", err)
			}
		}()
	})
}
