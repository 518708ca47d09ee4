package va

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/dmva/pkg/vocab"
)

// Engine is the speech engine and transport collaborator the controller
// drives. It owns audio, recognition and the connection to the dialog
// server.
//
// Begin* methods must return promptly: they start work and report the
// outcome later through the bound [Callbacks]. A synchronous error from a
// Begin* method means the request could not be started at all. Callbacks may
// be invoked from any goroutine, including re-entrantly from inside a Begin*
// call.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// Bind installs the callback surface. The controller calls it once at
	// construction and again before every BeginOpen. Each session must report
	// through the value bound when it was opened; values bound for an earlier
	// session are inert.
	Bind(cb Callbacks)

	// BeginOpen starts license validation and grammar initialisation for
	// model. Completion is reported through [Callbacks.OpenResult]. ctx is
	// the session context and is cancelled when the session closes.
	BeginOpen(ctx context.Context, model string, options map[string]any) error

	// BeginClose tears down the VA session, dropping ephemeral vocabulary.
	// Completion is reported through [Callbacks.CloseResult].
	BeginClose(ctx context.Context) error

	// BeginPrompt starts a dialog. The result is reported exactly once
	// through [Callbacks.DialogResult] carrying req.ID.
	BeginPrompt(ctx context.Context, req PromptRequest) error

	// CancelDialog aborts the dialog id, discards any audio captured for it
	// and returns the microphone to its prior mode. The engine must not report
	// a result for a cancelled dialog; late results are ignored.
	CancelDialog(ctx context.Context, id string) error

	// BeginVocabularyOp uploads or clears durable vocabulary. The outcome is
	// reported through [Callbacks.VocabularyAck] carrying req.ID.
	BeginVocabularyOp(ctx context.Context, req VocabularyRequest) error

	// SetInlineValues replaces the ephemeral entries of name. The entries
	// must be visible to recognition when the call returns.
	SetInlineValues(name string, pairs []vocab.Pair) error

	// ClearInlineValues removes the ephemeral entries of name.
	ClearInlineValues(name string) error
}

// SessionProber is optionally implemented by engines that can tell whether
// the underlying speech session exists. When it reports false, every
// admission call fails with NoSessionError.
type SessionProber interface {
	SessionOpen() bool
}

// Callbacks is the surface the controller exposes to its engine. All methods
// are non-blocking message sends into the controller's serialization point.
type Callbacks interface {
	// OpenResult reports the outcome of BeginOpen.
	OpenResult(err error)

	// CloseResult reports that teardown finished.
	CloseResult(err error)

	// DialogResult reports the outcome of the prompt id.
	DialogResult(id string, payload json.RawMessage, err error)

	// VocabularyAck reports the outcome of the vocabulary operation id.
	VocabularyAck(id string, err error)

	// Fault reports an unrecoverable asynchronous fault. The controller
	// forces the session to Closed.
	Fault(err error)

	// Event forwards an engine-originated VA event to the observer.
	Event(ev Event)
}

// PromptKind identifies the kind of dialog a [PromptRequest] starts.
type PromptKind int

const (
	// PromptText starts a dialog from typed text (SendText).
	PromptText PromptKind = iota
	PromptConfirmation
	PromptFreeText
	PromptChoice
	PromptEntities
)

// String returns the kind name used in logs and wire envelopes.
func (k PromptKind) String() string {
	switch k {
	case PromptText:
		return "text"
	case PromptConfirmation:
		return "confirmation"
	case PromptFreeText:
		return "free_text"
	case PromptChoice:
		return "choice"
	case PromptEntities:
		return "entities"
	default:
		return fmt.Sprintf("PromptKind(%d)", int(k))
	}
}

// ParsePromptKind is the inverse of [PromptKind.String].
func ParsePromptKind(s string) (PromptKind, bool) {
	for k := PromptText; k <= PromptEntities; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// PromptRequest is a dialog request forwarded to the engine.
type PromptRequest struct {
	// ID correlates the eventual DialogResult.
	ID string

	Kind PromptKind

	// Text is the typed utterance for PromptText.
	Text string

	// Prompt is an optional message played before the microphone enters VA
	// mode.
	Prompt string

	// Items holds the choices for PromptChoice.
	Items []vocab.Pair

	// Entities lists the entity names for PromptEntities.
	Entities []string

	// AllowNewIntent lets PromptEntities supersede an active dialog.
	AllowNewIntent bool
}

// OperationKind classifies pending operations.
type OperationKind int

const (
	UploadValues OperationKind = iota
	ClearValues
	ClearAll
	Prompt
)

// String returns the kind name used in logs, metrics and wire envelopes.
func (k OperationKind) String() string {
	switch k {
	case UploadValues:
		return "upload_values"
	case ClearValues:
		return "clear_values"
	case ClearAll:
		return "clear_all"
	case Prompt:
		return "prompt"
	default:
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
}

// ParseOperationKind is the inverse of [OperationKind.String].
func ParseOperationKind(s string) (OperationKind, bool) {
	for k := UploadValues; k <= Prompt; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// VocabularyRequest is a durable vocabulary mutation forwarded to the engine.
type VocabularyRequest struct {
	// ID correlates the eventual VocabularyAck.
	ID string

	// Kind is UploadValues, ClearValues or ClearAll.
	Kind OperationKind

	// Name is the concept/entity name; empty for ClearAll.
	Name string

	// Pairs holds the uploaded entries for UploadValues.
	Pairs []vocab.Pair
}
