package va

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ResultCode is the closed set of outcomes surfaced to hosts. Admission calls
// only ever produce Success, NoSessionError, ApplicationStateError,
// BadRequestError or InternalError. ServerError, NetworkError and Canceled
// are reported asynchronously through observer notifications and operation
// completions.
type ResultCode int

const (
	// Success means the request was admitted or the operation completed.
	Success ResultCode = iota

	// NoSessionError means no underlying speech session exists.
	NoSessionError

	// ApplicationStateError means the current lifecycle or dialog state
	// forbids the request.
	ApplicationStateError

	// BadRequestError means argument validation failed.
	BadRequestError

	// InternalError is an unexpected fault inside the controller or engine.
	InternalError

	// ServerError is a fault reported by the remote dialog server.
	ServerError

	// NetworkError is a transport fault (unreachable server, timeout, broken
	// connection).
	NetworkError

	// Canceled marks dialogs aborted by StopDialog, a superseding prompt or
	// Close, and operations discarded by Close.
	Canceled
)

// String returns the human-readable name of the code.
func (c ResultCode) String() string {
	switch c {
	case Success:
		return "success"
	case NoSessionError:
		return "no_session"
	case ApplicationStateError:
		return "application_state"
	case BadRequestError:
		return "bad_request"
	case InternalError:
		return "internal"
	case ServerError:
		return "server"
	case NetworkError:
		return "network"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("ResultCode(%d)", int(c))
	}
}

// Fault is the only error type the controller hands to hosts. It carries
// exactly one [ResultCode]; Err optionally preserves the underlying cause for
// logging and errors.As.
type Fault struct {
	Code    ResultCode
	Message string
	Err     error
}

// Sentinel faults for errors.Is checks. Any *Fault with the same code
// matches, regardless of message or cause.
var (
	ErrNoSession        = &Fault{Code: NoSessionError}
	ErrApplicationState = &Fault{Code: ApplicationStateError}
	ErrBadRequest       = &Fault{Code: BadRequestError}
	ErrInternal         = &Fault{Code: InternalError}
	ErrServer           = &Fault{Code: ServerError}
	ErrNetwork          = &Fault{Code: NetworkError}
	ErrCanceled         = &Fault{Code: Canceled}
)

// Error implements error.
func (f *Fault) Error() string {
	msg := "va: " + f.Code.String()
	if f.Message != "" {
		msg += ": " + f.Message
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error { return f.Err }

// Is reports whether target is a *Fault with the same code.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Code == f.Code
}

// Text returns the message suitable for observer notifications: Message when
// set, otherwise the cause's text.
func (f *Fault) Text() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return ""
}

func newFault(code ResultCode, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf maps err onto exactly one [ResultCode]. A nil error is Success, a
// wrapped *Fault keeps its code, anything else is InternalError.
func CodeOf(err error) ResultCode {
	if err == nil {
		return Success
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return InternalError
}

// FaultFrom converts an arbitrary engine or transport error into a *Fault.
// Wrapped faults keep their code, context.Canceled becomes Canceled,
// deadline and net.Error failures become NetworkError, and everything else
// becomes InternalError. Returns nil for a nil error.
func FaultFrom(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		if f == err {
			return f
		}
		return &Fault{Code: f.Code, Message: f.Message, Err: err}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Fault{Code: Canceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Fault{Code: NetworkError, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Fault{Code: NetworkError, Err: err}
	}
	return &Fault{Code: InternalError, Err: err}
}

// resultOf splits err into the code and message pair delivered to observers.
func resultOf(err error) (ResultCode, string) {
	if err == nil {
		return Success, ""
	}
	f := FaultFrom(err)
	return f.Code, f.Text()
}
