// Package phonetic implements the [correction.PhoneticMatcher] interface using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the input token and, once per [Matcher.Rebuild], for each known error
//     variant. If any code from the input overlaps with any code from a
//     variant, the variant becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the variant with the
//     highest Jaro-Winkler similarity (case-insensitive) is selected, provided
//     its score reaches the configured minimum.
//
// Candidates are limited to the keys of the exact-match table; the matcher
// never proposes a word it has not been given.
package phonetic

import (
	"strings"
	"sync/atomic"

	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/antzucaro/matchr"
)

// Compile-time interface check.
var _ correction.PhoneticMatcher = (*Matcher)(nil)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithMinSimilarity sets the minimum Jaro-Winkler score a phonetic candidate
// must reach. Default: 0 (any code overlap is accepted).
func WithMinSimilarity(threshold float64) Option {
	return func(m *Matcher) {
		m.minSimilarity = threshold
	}
}

// entry is a precomputed dictionary key.
type entry struct {
	key   string
	codes map[string]struct{}
}

// Matcher is the phonetic tier. All methods are safe for concurrent use:
// [Matcher.Rebuild] computes a new code index and swaps it in atomically.
type Matcher struct {
	minSimilarity float64
	index         atomic.Pointer[[]entry]
}

// New returns a new empty [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{}
	for _, o := range opts {
		o(m)
	}
	m.index.Store(&[]entry{})
	return m
}

// Available always reports true; the matcher has no external dependencies.
func (m *Matcher) Available() bool { return true }

// Rebuild replaces the indexed keys. Keys producing no phonetic code (no
// consonants) are dropped.
func (m *Matcher) Rebuild(keys []string) {
	idx := make([]entry, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		codes := codesFor(k)
		if len(codes) == 0 {
			continue
		}
		idx = append(idx, entry{key: k, codes: codes})
	}
	m.index.Store(&idx)
}

// Len returns the number of indexed keys.
func (m *Matcher) Len() int { return len(*m.index.Load()) }

// Match returns the indexed key that shares a Double Metaphone code with
// token and has the highest Jaro-Winkler similarity to it. Ties keep the key
// indexed first.
func (m *Matcher) Match(token string) (string, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return "", false
	}
	input := codesFor(token)
	if len(input) == 0 {
		return "", false
	}

	var (
		best      string
		bestScore = -1.0
	)
	for _, e := range *m.index.Load() {
		if !codesOverlap(input, e.codes) {
			continue
		}
		score := matchr.JaroWinkler(token, e.key, false)
		if score >= m.minSimilarity && score > bestScore {
			best, bestScore = e.key, score
		}
	}
	return best, best != ""
}

// codesFor returns the non-empty Double Metaphone codes of word.
func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
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
