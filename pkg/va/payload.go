package va

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Well-known concept names populated by the built-in dialogs.
const (
	ConceptFreeText = "FREE_TEXT"
	ConceptChoice   = "CHOICE"
)

// Task states reported by confirmation dialogs and aborted dialogs.
const (
	TaskConfirmed = "confirmed"
	TaskAborted   = "aborted"
)

// Payload wraps a dialog result for read-only lookups. The controller never
// validates or rewrites the JSON; unknown shapes simply yield empty values.
//
// The lookups understand the common server shape:
//
//	{
//	  "intent": "dmvaPromptForChoice",
//	  "taskState": "completed",
//	  "concepts": {"CHOICE": {"value": "save", "literal": "save"}}
//	}
type Payload json.RawMessage

// Intent returns the "intent" key, or "".
func (p Payload) Intent() string {
	return gjson.GetBytes(p, "intent").String()
}

// TaskState returns the "taskState" key, or "".
func (p Payload) TaskState() string {
	return gjson.GetBytes(p, "taskState").String()
}

// Concept returns the value of the named concept. Both
// {"concepts":{"NAME":{"value":...}}} and {"concepts":{"NAME":"..."}} are
// understood.
func (p Payload) Concept(name string) (string, bool) {
	r := gjson.GetBytes(p, "concepts."+gjson.Escape(name))
	if !r.Exists() {
		return "", false
	}
	if r.IsObject() {
		v := r.Get("value")
		return v.String(), v.Exists()
	}
	return r.String(), true
}

// Concepts returns every concept name present in the payload.
func (p Payload) Concepts() []string {
	var names []string
	gjson.GetBytes(p, "concepts").ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names
}
