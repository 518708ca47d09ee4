// Package vocab models the dynamic vocabulary of a virtual assistant dialog
// server: named concepts (also called entities) populated with literal→value
// pairs that the recognizer accepts in addition to the static grammar.
//
// Two classes of entries exist:
//   - Durable entries are uploaded to the server and persist for the user
//     across session close/reopen until explicitly cleared. Uploading to a
//     name replaces that name's entries completely (overwrite, not merge).
//     See [Store], [MemStore] and [PostgresStore].
//   - Ephemeral (inline) entries are visible to recognition immediately,
//     should be kept small (see [InlineSoftLimit]) and vanish when the
//     session closes. See [InlineSet].
//
// Payloads exchanged with hosts are JSON arrays of objects holding exactly a
// "literal" and a "value" key:
//
//	[
//	  {"literal": "Tim", "value": "Timothy Walker"},
//	  {"literal": "Timothy", "value": "Timothy Walker"}
//	]
//
// [ParsePairs] decodes that shape strictly.
package vocab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// InlineSoftLimit is the recommended maximum number of inline pairs per name.
// Larger inline sets are accepted but degrade recognition performance.
const InlineSoftLimit = 50

// ErrMalformedPairs is returned by [ParsePairs] when the payload is not a JSON
// array of literal/value objects.
var ErrMalformedPairs = errors.New("vocab: malformed literal/value payload")

// Pair maps a spoken literal to the value reported back in dialog results.
type Pair struct {
	// Literal is the text the speaker says (e.g. "Tim").
	Literal string `json:"literal" yaml:"literal"`

	// Value is what the dialog result carries when Literal is recognized
	// (e.g. "Timothy Walker").
	Value string `json:"value" yaml:"value"`
}

// namePattern restricts concept/entity names to identifier-like strings such
// as "TASK_DATE", "greeting" or "contacts.doctors".
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// ValidName reports whether name is an acceptable concept/entity name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// CheckPairs verifies that pairs is a non-empty list whose entries all carry a
// non-blank literal and value. It returns a joined error naming every bad
// index.
func CheckPairs(pairs []Pair) error {
	if len(pairs) == 0 {
		return errors.New("at least one literal/value pair is required")
	}
	var errs []error
	for i, p := range pairs {
		if strings.TrimSpace(p.Literal) == "" {
			errs = append(errs, fmt.Errorf("pairs[%d].literal must not be empty", i))
		}
		if strings.TrimSpace(p.Value) == "" {
			errs = append(errs, fmt.Errorf("pairs[%d].value must not be empty", i))
		}
	}
	return errors.Join(errs...)
}

// ParsePairs decodes a JSON array of {"literal","value"} objects. Objects
// with missing, extra or non-string keys are rejected, as is an empty array.
func ParsePairs(data []byte) ([]Pair, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrMalformedPairs)
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPairs, err)
	}

	pairs := make([]Pair, 0, len(raw))
	for i, obj := range raw {
		if len(obj) != 2 {
			return nil, fmt.Errorf("%w: element %d must hold exactly \"literal\" and \"value\"", ErrMalformedPairs, i)
		}
		var p Pair
		for key, dst := range map[string]*string{"literal": &p.Literal, "value": &p.Value} {
			v, ok := obj[key]
			if !ok {
				return nil, fmt.Errorf("%w: element %d is missing %q", ErrMalformedPairs, i, key)
			}
			if err := json.Unmarshal(v, dst); err != nil {
				return nil, fmt.Errorf("%w: element %d key %q is not a string", ErrMalformedPairs, i, key)
			}
		}
		pairs = append(pairs, p)
	}

	if err := CheckPairs(pairs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPairs, err)
	}
	return pairs, nil
}

// Literals returns the literal of every pair, in order.
func Literals(pairs []Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Literal
	}
	return out
}

// Lookup returns the value for literal, compared case-insensitively.
func Lookup(pairs []Pair, literal string) (string, bool) {
	for _, p := range pairs {
		if strings.EqualFold(p.Literal, literal) {
			return p.Value, true
		}
	}
	return "", false
}

// clonePairs returns an independent copy so callers cannot mutate stored data.
func clonePairs(pairs []Pair) []Pair {
	if pairs == nil {
		return nil
	}
	out := make([]Pair, len(pairs))
	copy(out, pairs)
	return out
}
