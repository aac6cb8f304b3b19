// Package correction implements the tiered transcription error-correction
// cascade used by callscribe to repair STT mistakes before a conversation
// acts on an utterance.
//
// Every token is run through up to three tiers, in strict priority order,
// and the first tier that produces a hit wins:
//
//  1. Exact match: a case-insensitive lookup into a table of known
//     error→correction pairs (built-in plus learned patterns). O(1) and the
//     only tier used on the latency-bound online path.
//  2. Semantic match ([SimilaritySearcher]): nearest-neighbour search over
//     embedded error variants. Attempted for low-confidence or long tokens.
//  3. Phonetic match ([PhoneticMatcher]): phonetic-code lookup against the
//     same table keys. Attempted only for very low-confidence tokens.
//
// Tokens the recogniser was already confident about skip the cascade
// entirely. The optional tiers are capability-checked strategies: when one is
// missing or fails, the engine degrades to the remaining tiers and never
// surfaces an error to its caller.
//
// Each [Record] captures which method produced a substitution and the
// confidence in it, so callers can audit or roll back changes.
package correction

import (
	"context"
	"errors"
)

// Method identifies the tier that produced a correction.
type Method string

const (
	// MethodNone means no tier matched; the token is returned unchanged.
	MethodNone Method = ""

	// MethodExact is the exact-match table lookup.
	MethodExact Method = "exact"

	// MethodSemantic is the embedding nearest-neighbour lookup.
	MethodSemantic Method = "semantic"

	// MethodPhonetic is the phonetic-code lookup.
	MethodPhonetic Method = "phonetic"
)

// Tiers is a bit set selecting which correction tiers may run.
type Tiers uint8

const (
	TierExact Tiers = 1 << iota
	TierSemantic
	TierPhonetic

	// AllTiers enables the complete cascade (offline mode).
	AllTiers = TierExact | TierSemantic | TierPhonetic
)

// Has reports whether every tier in x is enabled in t.
func (t Tiers) Has(x Tiers) bool { return t&x == x }

// String returns a compact, stable representation such as "exact+phonetic".
func (t Tiers) String() string {
	if t == 0 {
		return "none"
	}
	s := ""
	for _, p := range []struct {
		tier Tiers
		name string
	}{{TierExact, "exact"}, {TierSemantic, "semantic"}, {TierPhonetic, "phonetic"}} {
		if t.Has(p.tier) {
			if s != "" {
				s += "+"
			}
			s += p.name
		}
	}
	return s
}

// Record captures a single token-level substitution. Records are appended in
// token order and never mutated.
type Record struct {
	// Original is the token as produced by the recogniser.
	Original string `json:"original"`

	// Corrected is the substituted token.
	Corrected string `json:"corrected"`

	// Method is the tier that produced the substitution.
	Method Method `json:"method"`

	// Position is the zero-based token index within the utterance.
	Position int `json:"position"`

	// OriginalConfidence is the recogniser's confidence for the token.
	OriginalConfidence float64 `json:"original_confidence"`

	// CorrectionConfidence is the engine's confidence in the substitution.
	CorrectionConfidence float64 `json:"correction_confidence"`
}

// SimilaritySearcher finds the known error variant closest to a token in an
// embedding space. It backs the semantic tier.
//
// Implementations must be safe for concurrent use, and Rebuild must replace
// the index atomically: a concurrent Nearest observes either the old or the
// new catalog, never a partial one.
type SimilaritySearcher interface {
	// Available reports whether the searcher can serve queries (e.g. its
	// embedding backend is configured).
	Available() bool

	// Rebuild replaces the indexed catalog with variants.
	Rebuild(ctx context.Context, variants []string) error

	// Nearest returns the closest indexed variant and its cosine distance in
	// [0, 2]. When the index is empty, variant is "".
	Nearest(ctx context.Context, token string) (variant string, distance float64, err error)
}

// PhoneticMatcher resolves a token to a table key that sounds the same. It
// backs the phonetic tier and runs in-process with no network calls.
//
// Implementations must be safe for concurrent use, and Rebuild must replace
// the code index atomically.
type PhoneticMatcher interface {
	// Available reports whether the matcher can serve queries.
	Available() bool

	// Rebuild replaces the set of keys the matcher compares against.
	Rebuild(keys []string)

	// Match returns the key whose phonetic code matches token, if any.
	Match(token string) (key string, ok bool)
}

// PatternStore persists learned error→correction pairs across restarts.
// Implementations must be safe for concurrent use.
type PatternStore interface {
	// Load returns every persisted pattern keyed by lower-cased error token.
	Load(ctx context.Context) (map[string]string, error)

	// Save persists one pattern. Saving an existing key replaces it.
	Save(ctx context.Context, original, corrected string) error
}

// ErrInvalidPattern is returned by [Engine.Learn] when either side of the
// pattern is empty or the correction is not a single token.
var ErrInvalidPattern = errors.New("correction: invalid pattern")
