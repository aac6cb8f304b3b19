// Package types defines the shared types used across all callscribe packages.
//
// These types form the lingua franca between the STT collaborators, the
// correction engine, the clarification policy and the recording store. Each
// package defines its own domain types; only cross-cutting data structures
// live here.
package types

import (
	"strings"
	"time"
	"unicode"
)

// NeutralConfidence is assigned to tokens that carry no confidence score,
// e.g. when the STT result has fewer word entries than the text has tokens.
// The value means "trust it".
const NeutralConfidence = 1.0

// WordConfidence holds per-word metadata produced by the speech recogniser.
// The sequence of WordConfidence values for an utterance follows utterance
// order and is never mutated once produced.
type WordConfidence struct {
	// Word is the recognised token.
	Word string `json:"word"`

	// Confidence is the recogniser's probability estimate in [0, 1].
	Confidence float64 `json:"confidence"`

	// Start and End mark the token boundaries relative to the start of the
	// recording.
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Transcription is a speech-to-text result as consumed by the correction
// engine: the full text plus word-level confidences.
type Transcription struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Words contains per-word confidences when the recogniser reports them.
	// May be nil.
	Words []WordConfidence `json:"words,omitempty"`

	// Language is the BCP-47 language tag of the recognised speech (e.g. "es").
	Language string `json:"language,omitempty"`
}

// Tokens splits text into whitespace-delimited tokens.
func Tokens(text string) []string {
	return strings.Fields(text)
}

// TrimPunct strips leading and trailing runes that are neither letters nor
// digits: "¿cuenta?" → "cuenta".
func TrimPunct(token string) string {
	return strings.TrimFunc(token, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// AlignConfidences returns one confidence per token. Token i takes the
// confidence of words[i]; tokens without a matching word entry get
// [NeutralConfidence]. Out-of-range scores are clamped to [0, 1].
func AlignConfidences(tokens []string, words []WordConfidence) []float64 {
	out := make([]float64, len(tokens))
	for i := range tokens {
		c := NeutralConfidence
		if i < len(words) {
			c = ClampUnit(words[i].Confidence)
		}
		out[i] = c
	}
	return out
}

// ClampUnit clamps v to the closed interval [0, 1].
func ClampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
