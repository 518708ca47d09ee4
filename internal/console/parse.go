package console

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/dmva/pkg/vocab"
)

var errUnterminatedQuote = errors.New("unterminated quote")

// fields splits line on white space. Single or double quotes group words;
// a backslash escapes the next rune outside single quotes.
func fields(line string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case unicode.IsSpace(r):
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, errUnterminatedQuote
	}
	if inWord {
		out = append(out, cur.String())
	}
	return out, nil
}

// isJSON reports whether a pairs argument is a JSON array and should go
// through the controller's JSON entry points.
func isJSON(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "[")
}

// parsePairs parses a comma-separated list of literal=value items. An item
// without "=" uses the literal as its value.
func parsePairs(s string) ([]vocab.Pair, error) {
	var pairs []vocab.Pair
	for item := range strings.SplitSeq(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lit, val, ok := strings.Cut(item, "=")
		lit = strings.TrimSpace(lit)
		if !ok {
			val = lit
		}
		if lit == "" {
			return nil, fmt.Errorf("item %q has an empty literal", item)
		}
		pairs = append(pairs, vocab.Pair{Literal: lit, Value: strings.TrimSpace(val)})
	}
	return pairs, nil
}

// parseOptions turns key=value arguments into an open options map.
func parseOptions(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	opts := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("option %q must be key=value", a)
		}
		opts[k] = v
	}
	return opts, nil
}

// splitList splits a comma-separated argument, dropping empty items.
func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
