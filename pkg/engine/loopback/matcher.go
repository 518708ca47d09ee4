package loopback

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/dmva/pkg/vocab"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Matcher resolves a spoken utterance to one of a set of literal/value pairs.
//
// Resolution runs in three passes:
//
//  1. An exact, case-insensitive literal match wins outright with score 1.
//  2. Literals whose Double Metaphone codes overlap with the utterance are
//     ranked by Jaro-Winkler similarity and accepted above the phonetic
//     threshold.
//  3. Without a phonetic candidate, pure Jaro-Winkler similarity is accepted
//     above the stricter fuzzy threshold.
//
// Multi-word literals ("Timothy Walker") are compared as full strings, with
// spaces stripped, and word by word; the best score counts.
//
// A Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for phonetic candidates.
// Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity when no phonetic candidate
// exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// NewMatcher returns a [Matcher] with the default thresholds, adjusted by opts.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the pair whose literal best fits utterance, its score in
// [0,1] and whether any pair qualified.
func (m *Matcher) Match(utterance string, pairs []vocab.Pair) (vocab.Pair, float64, bool) {
	said := strings.ToLower(strings.TrimSpace(utterance))
	if said == "" || len(pairs) == 0 {
		return vocab.Pair{}, 0, false
	}
	for _, p := range pairs {
		if strings.EqualFold(strings.TrimSpace(p.Literal), said) {
			return p, 1, true
		}
	}

	saidTokens := strings.Fields(said)
	saidCodes := metaphoneCodes(saidTokens)

	var (
		best      vocab.Pair
		bestScore float64
		phonetic  bool
		found     bool
	)
	for _, p := range pairs {
		lit := strings.ToLower(strings.TrimSpace(p.Literal))
		if lit == "" {
			continue
		}
		litTokens := strings.Fields(lit)
		score := similarity(saidTokens, litTokens, said, lit)

		if overlaps(saidCodes, metaphoneCodes(litTokens)) {
			if score < m.phoneticThreshold {
				continue
			}
			if !phonetic || score > bestScore {
				best, bestScore, phonetic, found = p, score, true, true
			}
			continue
		}
		if !phonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore, found = p, score, true
		}
	}
	return best, bestScore, found
}

// metaphoneCodes returns the union of the primary and secondary Double
// Metaphone codes of tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over full strings, space-stripped
// strings and every token pair.
func similarity(saidTokens, litTokens []string, said, lit string) float64 {
	score := matchr.JaroWinkler(said, lit, false)
	if len(saidTokens) > 1 || len(litTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(saidTokens, ""), strings.Join(litTokens, ""), false); s > score {
			score = s
		}
	}
	for _, a := range saidTokens {
		for _, b := range litTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
