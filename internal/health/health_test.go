package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/dmva/internal/resilience"
	"github.com/MrWong99/dmva/pkg/va"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New(
		Checker{Name: "vocabulary_store", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "dialog_server", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["vocabulary_store"] != "ok" {
		t.Errorf("vocabulary_store check = %q, want %q", body.Checks["vocabulary_store"], "ok")
	}
	if body.Checks["dialog_server"] != "ok" {
		t.Errorf("dialog_server check = %q, want %q", body.Checks["dialog_server"], "ok")
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := New(
		Checker{Name: "vocabulary_store", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "dialog_server", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["vocabulary_store"] != "fail: connection refused" {
		t.Errorf("vocabulary_store check = %q, want %q", body.Checks["vocabulary_store"], "fail: connection refused")
	}
	if body.Checks["dialog_server"] != "ok" {
		t.Errorf("dialog_server check = %q, want %q", body.Checks["dialog_server"], "ok")
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_AllCheckersFail(t *testing.T) {
	h := New(
		Checker{Name: "vocabulary_store", Check: func(_ context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "dialog_server", Check: func(_ context.Context) error {
			return errors.New("no dialog server configured")
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["vocabulary_store"] != "fail: timeout" {
		t.Errorf("vocabulary_store check = %q", body.Checks["vocabulary_store"])
	}
	if body.Checks["dialog_server"] != "fail: no dialog server configured" {
		t.Errorf("dialog_server check = %q", body.Checks["dialog_server"])
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		Checker{Name: "test", Check: func(_ context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

type fixedState va.LifecycleState

func (s fixedState) State() va.LifecycleState { return va.LifecycleState(s) }

func TestSessionChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       va.LifecycleState
		requireOpen bool
		wantErr     bool
	}{
		{"closed optional", va.Closed, false, false},
		{"closed required", va.Closed, true, true},
		{"opening required", va.Opening, true, true},
		{"opened required", va.Opened, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := SessionChecker(fixedState(tt.state), tt.requireOpen)
			if c.Name != "va_session" {
				t.Errorf("Name = %q", c.Name)
			}
			if err := c.Check(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("Check() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "dialog_server",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	c := BreakerChecker(b)
	if c.Name != "breaker_dialog_server" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker: %v", err)
	}
	_ = b.Execute(func() error { return errors.New("refused") })
	if err := c.Check(context.Background()); err == nil {
		t.Fatal("open breaker passed the check")
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var checkers []Checker
	for _, name := range []string{"a", "b"} {
		checkers = append(checkers, Checker{Name: name, Check: func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}})
	}
	// A third checker unblocks the other two; it only runs in time if all
	// checkers run side by side.
	checkers = append(checkers, Checker{Name: "c", Check: func(context.Context) error {
		close(release)
		return nil
	}})
	h := New(checkers...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}
