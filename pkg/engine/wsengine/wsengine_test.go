package wsengine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/dmva/pkg/engine/wsengine"
	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/va/mock"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type frame map[string]any

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a dialog server that answers every client frame with
// reply. A nil reply result sends nothing.
func startServer(t *testing.T, reply func(in frame) []frame) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var in frame
			if err := json.Unmarshal(data, &in); err != nil {
				return
			}
			for _, out := range reply(in) {
				if out == nil {
					return
				}
				b, _ := json.Marshal(out)
				if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &dials
}

// scripted is the happy-path dialog server.
func scripted(in frame) []frame {
	switch in["type"] {
	case "open":
		return []frame{{"type": "opened"}}
	case "close":
		return []frame{{"type": "closed"}}
	case "prompt":
		return []frame{{
			"type":    "dialog_result",
			"id":      in["id"],
			"payload": frame{"intent": "ShowLab", "concepts": frame{"LAB": frame{"value": in["text"]}}},
		}}
	case "vocabulary":
		return []frame{{"type": "vocabulary_ack", "id": in["id"]}}
	}
	return nil
}

type fixture struct {
	ctrl *va.Controller
	eng  *wsengine.Engine
	obs  *mock.Observer
}

func newFixture(t *testing.T, url string, opts ...wsengine.Option) *fixture {
	t.Helper()
	eng := wsengine.New(url, append([]wsengine.Option{wsengine.WithDialTimeout(2 * time.Second)}, opts...)...)
	ctrl := va.New(eng, va.WithOpenTimeout(0), va.WithCloseTimeout(0))
	obs := mock.NewObserver()
	ctrl.SetObserver(obs)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})
	return &fixture{ctrl: ctrl, eng: eng, obs: obs}
}

// eventually polls until the observer has recorded want notifications of
// kind.
func (f *fixture) eventually(t *testing.T, kind string, want int) []mock.Notification {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		f.ctrl.Flush()
		got := f.obs.OfKind(kind)
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %q notifications; have %v", want, kind, f.obs.Kinds())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestEngine_SessionRoundTrip(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, scripted)
	f := newFixture(t, wsURL(srv))

	if err := f.ctrl.Open("Physician", nil); err != nil {
		t.Fatalf("Open() unexpected error: %v", err)
	}
	st := f.eventually(t, "state", 1)
	if st[0].State != va.Opened || st[0].Code != va.Success {
		t.Fatalf("state = %v, want opened/success", st[0])
	}
	if !f.eng.Connected() {
		t.Fatal("Connected() = false after open")
	}

	if err := f.ctrl.SendText("CBC"); err != nil {
		t.Fatalf("SendText() unexpected error: %v", err)
	}
	res := f.eventually(t, "dialog_result", 1)
	if v, _ := va.Payload(res[0].Payload).Concept("LAB"); v != "CBC" {
		t.Errorf("LAB concept = %q, want CBC", v)
	}

	errs := make(chan error, 1)
	if err := f.ctrl.UploadValues("contacts", []vocab.Pair{{Literal: "Tim", Value: "Timothy"}}, func(err error) { errs <- err }); err != nil {
		t.Fatal(err)
	}
	f.eventually(t, "vocabulary", 1)
	if err := <-errs; err != nil {
		t.Errorf("upload completion = %v", err)
	}

	if err := f.ctrl.Close(); err != nil {
		t.Fatal(err)
	}
	st = f.eventually(t, "state", 2)
	if st[1].State != va.Closed || st[1].Code != va.Success {
		t.Fatalf("final state = %v, want closed/success", st[1])
	}
}

func TestEngine_OpenRejected(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, func(in frame) []frame {
		if in["type"] == "open" {
			return []frame{{"type": "opened", "error": frame{"code": "server", "message": "license expired"}}}
		}
		return nil
	})
	f := newFixture(t, wsURL(srv))
	_ = f.ctrl.Open("Physician", nil)

	st := f.eventually(t, "state", 1)
	if st[0].State != va.Closed || st[0].Code != va.ServerError || st[0].Message != "license expired" {
		t.Fatalf("state = %+v", st[0])
	}
}

func TestEngine_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	f := newFixture(t, url)
	_ = f.ctrl.Open("Physician", nil)

	st := f.eventually(t, "state", 1)
	if st[0].State != va.Closed || st[0].Code != va.NetworkError {
		t.Fatalf("state = %+v, want closed/network", st[0])
	}
}

type rejectingBreaker struct{ calls atomic.Int32 }

func (b *rejectingBreaker) Execute(func() error) error {
	b.calls.Add(1)
	return errors.New("circuit breaker is open")
}

func TestEngine_BreakerOpen(t *testing.T) {
	t.Parallel()

	srv, dials := startServer(t, scripted)
	b := &rejectingBreaker{}
	f := newFixture(t, wsURL(srv), wsengine.WithBreaker(b))
	_ = f.ctrl.Open("Physician", nil)

	st := f.eventually(t, "state", 1)
	if st[0].Code != va.NetworkError {
		t.Fatalf("state = %+v, want network error", st[0])
	}
	if b.calls.Load() != 1 || dials.Load() != 0 {
		t.Errorf("breaker calls = %d, dials = %d; want 1, 0", b.calls.Load(), dials.Load())
	}
}

func TestEngine_BearerToken(t *testing.T) {
	t.Parallel()

	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		<-conn.CloseRead(r.Context()).Done()
	}))
	t.Cleanup(srv.Close)

	f := newFixture(t, wsURL(srv), wsengine.WithToken("s3cret"))
	_ = f.ctrl.Open("Physician", nil)

	select {
	case got := <-auth:
		if got != "Bearer s3cret" {
			t.Errorf("Authorization = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server was not dialed")
	}
}

func TestEngine_ConnectionLost(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, func(in frame) []frame {
		switch in["type"] {
		case "open":
			return []frame{{"type": "opened"}}
		case "prompt":
			// Hang up instead of answering.
			return []frame{nil}
		}
		return nil
	})
	f := newFixture(t, wsURL(srv))
	_ = f.ctrl.Open("Physician", nil)
	f.eventually(t, "state", 1)
	_ = f.ctrl.PromptForFreeText("")

	st := f.eventually(t, "state", 2)
	if st[1].State != va.Closed || st[1].Code != va.NetworkError {
		t.Fatalf("state = %+v, want closed/network", st[1])
	}
	res := f.obs.OfKind("dialog_result")
	if len(res) != 1 || res[0].Code != va.Canceled {
		t.Errorf("dialog results = %v, want one canceled", res)
	}
}

func TestEngine_ServerFaultAndEvents(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, func(in frame) []frame {
		switch in["type"] {
		case "open":
			return []frame{{"type": "opened"}, {"type": "event", "kind": "va_active", "text": "listening"}}
		case "inline_set":
			return []frame{{"type": "fault", "error": frame{"code": "server", "message": "recognizer crashed"}}}
		}
		return nil
	})
	f := newFixture(t, wsURL(srv))
	_ = f.ctrl.Open("Nurse", nil)

	evs := f.eventually(t, "event", 1)
	if evs[0].Event.Type != va.EventActive || evs[0].Message != "listening" {
		t.Errorf("event = %+v", evs[0])
	}

	if err := f.ctrl.SetInlineValues("greeting", []vocab.Pair{{Literal: "hi", Value: "hello"}}); err != nil {
		t.Fatal(err)
	}
	if got := f.eng.InlineValues("greeting"); len(got) != 1 {
		t.Errorf("inline mirror = %v", got)
	}

	st := f.eventually(t, "state", 2)
	if st[1].State != va.Closed || st[1].Code != va.ServerError {
		t.Fatalf("state = %+v, want closed/server", st[1])
	}
	kinds := f.obs.Kinds()
	if !slices.Contains(kinds, "event(va_error)") {
		t.Errorf("notifications %v lack va_error", kinds)
	}
}

func TestEngine_NotConnected(t *testing.T) {
	t.Parallel()

	eng := wsengine.New("ws://127.0.0.1:1")
	err := eng.BeginPrompt(context.Background(), va.PromptRequest{ID: "x", Kind: va.PromptText, Text: "hi"})
	if va.CodeOf(err) != va.ApplicationStateError {
		t.Fatalf("BeginPrompt() without connection = %v, want application state error", err)
	}
}
