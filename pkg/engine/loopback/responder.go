package loopback

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// Responder answers typed text with a dialog result payload. vocabulary
// holds the durable and inline entries visible to the session, keyed by
// concept name.
type Responder interface {
	Respond(ctx context.Context, text string, vocabulary map[string][]vocab.Pair) (json.RawMessage, error)
}

// ResponderFunc adapts a function to [Responder].
type ResponderFunc func(ctx context.Context, text string, vocabulary map[string][]vocab.Pair) (json.RawMessage, error)

// Respond implements [Responder].
func (f ResponderFunc) Respond(ctx context.Context, text string, vocabulary map[string][]vocab.Pair) (json.RawMessage, error) {
	return f(ctx, text, vocabulary)
}

// MentionResponder reports every vocabulary entry whose literal occurs in the
// text as a concept, plus the whole text under FREE_TEXT. For "call Tim" with
// contacts {Tim: Timothy Walker} the payload is
//
//	{"intent":"dmvaSendText","taskState":"completed",
//	 "concepts":{"FREE_TEXT":{"value":"call Tim"},"contacts":{"value":"Timothy Walker","literal":"Tim"}}}
func MentionResponder() Responder {
	return ResponderFunc(func(_ context.Context, text string, vocabulary map[string][]vocab.Pair) (json.RawMessage, error) {
		concepts := map[string]concept{va.ConceptFreeText: {Value: text}}
		words := " " + strings.Join(strings.Fields(strings.ToLower(text)), " ") + " "
		for name, pairs := range vocabulary {
			for _, p := range pairs {
				lit := strings.Join(strings.Fields(strings.ToLower(p.Literal)), " ")
				if lit != "" && strings.Contains(words, " "+lit+" ") {
					concepts[name] = concept{Value: p.Value, Literal: p.Literal}
					break
				}
			}
		}
		return encodeResult(IntentSendText, taskCompleted, concepts)
	})
}

type concept struct {
	Value   string `json:"value"`
	Literal string `json:"literal,omitempty"`
}

type result struct {
	Intent    string             `json:"intent"`
	TaskState string             `json:"taskState"`
	Concepts  map[string]concept `json:"concepts,omitempty"`
}

func encodeResult(intent, taskState string, concepts map[string]concept) (json.RawMessage, error) {
	return json.Marshal(result{Intent: intent, TaskState: taskState, Concepts: concepts})
}
