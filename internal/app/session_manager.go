package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/dmva/internal/observe"
	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// maxBodyBytes bounds request bodies of the session API.
const maxBodyBytes = 1 << 20

// SessionInfo is a snapshot of the VA session.
type SessionInfo struct {
	// State is the lifecycle state: closed, opening, opened or closing.
	State string `json:"state"`

	// Dialog is idle or active.
	Dialog string `json:"dialog"`

	// Model is the grammar model of the current session, if any.
	Model string `json:"model,omitempty"`

	// Pending is the number of outstanding operations.
	Pending int `json:"pending"`

	// OpenedAt is when the session last reached the opened state. Zero
	// while no session has been opened.
	OpenedAt time.Time `json:"opened_at,omitzero"`

	// LastCode and LastMessage describe the most recent state change.
	LastCode    string `json:"last_code,omitempty"`
	LastMessage string `json:"last_message,omitempty"`

	// Dialogs counts dialog results delivered since start.
	Dialogs int `json:"dialogs"`
}

// SessionManager exposes the single VA session of the process over HTTP and
// tracks what the controller reports about it. All exported methods are safe
// for concurrent use.
type SessionManager struct {
	ctrl  *va.Controller
	store vocab.Store
	user  string

	mu          sync.Mutex
	openedAt    time.Time
	lastCode    va.ResultCode
	lastMessage string
	changed     bool
	dialogs     int
}

// NewSessionManager creates a manager for ctrl. store and user serve the
// vocabulary read-back endpoint.
func NewSessionManager(ctrl *va.Controller, store vocab.Store, user string) *SessionManager {
	return &SessionManager{ctrl: ctrl, store: store, user: user}
}

// Start opens a session with the grammar model. The outcome arrives
// asynchronously; see [SessionManager.Info].
func (m *SessionManager) Start(model string, options map[string]any) error {
	if err := m.ctrl.Open(model, options); err != nil {
		return err
	}
	slog.Info("session start requested", "model", model)
	return nil
}

// Stop closes the session. Stopping a closed session is a no-op.
func (m *SessionManager) Stop() error {
	return m.ctrl.Close()
}

// IsActive reports whether a session is open.
func (m *SessionManager) IsActive() bool {
	return m.ctrl.State() == va.Opened
}

// Info returns a snapshot of the session.
func (m *SessionManager) Info() SessionInfo {
	info := SessionInfo{
		State:   m.ctrl.State().String(),
		Dialog:  m.ctrl.DialogState().String(),
		Model:   m.ctrl.ActiveModel(),
		Pending: m.ctrl.PendingOperations(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	info.OpenedAt = m.openedAt
	info.Dialogs = m.dialogs
	if m.changed {
		info.LastCode = m.lastCode.String()
		info.LastMessage = m.lastMessage
	}
	return info
}

// Observer returns the observer that keeps [SessionManager.Info] current.
func (m *SessionManager) Observer() va.Observer {
	return va.ObserverFuncs{
		StateChanged: func(state va.LifecycleState, code va.ResultCode, message string) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.changed = true
			m.lastCode = code
			m.lastMessage = message
			if state == va.Opened {
				m.openedAt = time.Now()
			}
		},
		DialogResult: func(json.RawMessage, va.ResultCode, string) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.dialogs++
		},
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

type openRequest struct {
	Model   string         `json:"model"`
	Options map[string]any `json:"options,omitempty"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Register adds the session and vocabulary routes to mux.
func (m *SessionManager) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /session", m.handleInfo)
	mux.HandleFunc("POST /session/open", m.handleOpen)
	mux.HandleFunc("POST /session/close", m.handleClose)
	mux.HandleFunc("GET /vocabulary/{name}", m.handleGetValues)
	mux.HandleFunc("PUT /vocabulary/{name}", m.handleUploadValues)
	mux.HandleFunc("DELETE /vocabulary/{name}", m.handleClearValues)
}

func (m *SessionManager) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Info())
}

func (m *SessionManager) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, &va.Fault{Code: va.BadRequestError, Message: "malformed open request", Err: err})
		return
	}
	if err := m.Start(req.Model, req.Options); err != nil {
		observe.Logger(r.Context()).Warn("session open rejected", "model", req.Model, "code", va.CodeOf(err))
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m.Info())
}

func (m *SessionManager) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := m.Stop(); err != nil {
		writeError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("session close requested")
	writeJSON(w, http.StatusAccepted, m.Info())
}

// handleGetValues reads the configured user's durable entries back from the
// store. Other users' vocabulary is never served.
func (m *SessionManager) handleGetValues(w http.ResponseWriter, r *http.Request) {
	pairs, err := m.store.Get(r.Context(), m.user, r.PathValue("name"))
	if errors.Is(err, vocab.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "not_found", Error: err.Error()})
		return
	}
	if err != nil {
		writeError(w, r, &va.Fault{Code: va.ServerError, Message: "vocabulary store", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

// handleUploadValues admits an upload of the JSON pair list in the body. The
// response only confirms admission; the outcome is reported to observers.
func (m *SessionManager) handleUploadValues(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, &va.Fault{Code: va.BadRequestError, Message: "read body", Err: err})
		return
	}
	name := r.PathValue("name")
	if err := m.ctrl.UploadValuesJSON(name, string(body), logCompletion("upload", name)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (m *SessionManager) handleClearValues(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := m.ctrl.ClearValues(name, logCompletion("clear", name)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func logCompletion(op, name string) func(error) {
	return func(err error) {
		if err != nil {
			slog.Warn("vocabulary operation failed", "op", op, "name", name, "code", va.CodeOf(err), "err", err)
			return
		}
		slog.Debug("vocabulary operation done", "op", op, "name", name)
	}
}

// faultStatus maps an admission result code to an HTTP status.
func faultStatus(code va.ResultCode) int {
	switch code {
	case va.Success:
		return http.StatusOK
	case va.BadRequestError:
		return http.StatusBadRequest
	case va.ApplicationStateError, va.Canceled:
		return http.StatusConflict
	case va.NoSessionError:
		return http.StatusServiceUnavailable
	case va.NetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	observe.RecordFault(r.Context(), err)
	code := va.CodeOf(err)
	msg := err.Error()
	if f := va.FaultFrom(err); f != nil {
		msg = f.Text()
	}
	writeJSON(w, faultStatus(code), errorResponse{Code: code.String(), Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
