package wsengine

import (
	"encoding/json"

	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// Frame types sent by the client.
const (
	msgOpen        = "open"
	msgClose       = "close"
	msgPrompt      = "prompt"
	msgCancel      = "cancel"
	msgVocabulary  = "vocabulary"
	msgInlineSet   = "inline_set"
	msgInlineClear = "inline_clear"
)

// Frame types sent by the server.
const (
	msgOpened        = "opened"
	msgClosed        = "closed"
	msgDialogResult  = "dialog_result"
	msgVocabularyAck = "vocabulary_ack"
	msgEvent         = "event"
	msgFault         = "fault"
)

// envelope is the single frame shape used in both directions. Unused fields
// are omitted on the wire.
type envelope struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	Model          string          `json:"model,omitempty"`
	Options        map[string]any  `json:"options,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	Text           string          `json:"text,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	Items          []vocab.Pair    `json:"items,omitempty"`
	Entities       []string        `json:"entities,omitempty"`
	AllowNewIntent bool            `json:"allow_new_intent,omitempty"`
	Name           string          `json:"name,omitempty"`
	Pairs          []vocab.Pair    `json:"pairs,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// err converts a wire error to a *va.Fault. A nil receiver or a "success"
// code yields a nil error. Unknown codes are reported as ServerError.
func (w *wireError) err() error {
	if w == nil {
		return nil
	}
	code := parseCode(w.Code)
	if code == va.Success {
		return nil
	}
	return &va.Fault{Code: code, Message: w.Message}
}

func parseCode(s string) va.ResultCode {
	for c := va.Success; c <= va.Canceled; c++ {
		if c.String() == s {
			return c
		}
	}
	return va.ServerError
}
