package stt

import (
	"strings"
	"time"

	"github.com/MrWong99/callscribe/pkg/types"
)

// KeywordBoost biases recognition towards a domain term. Backends that
// support it receive the corrected forms of the learned patterns.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "contraseña").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// WordBuilder assembles recogniser output pieces into whitespace-delimited
// words so that word i lines up with token i of the transcript text.
//
// A piece starting with whitespace opens a new word; any other piece is glued
// to the current word. A glued word keeps the lowest confidence of its
// pieces and spans from the first piece's start to the last piece's end.
type WordBuilder struct {
	words []types.WordConfidence
	open  bool
}

// Add appends a piece with its probability and timing.
func (b *WordBuilder) Add(piece string, confidence float64, start, end time.Duration) {
	trimmed := strings.TrimSpace(piece)
	if trimmed == "" {
		b.open = false
		return
	}
	startsWord := !b.open || piece[0] == ' ' || piece[0] == '\t' || piece[0] == '\n'
	if startsWord {
		b.words = append(b.words, types.WordConfidence{
			Word:       trimmed,
			Confidence: types.ClampUnit(confidence),
			Start:      start,
			End:        end,
		})
	} else {
		w := &b.words[len(b.words)-1]
		w.Word += trimmed
		w.Confidence = min(w.Confidence, types.ClampUnit(confidence))
		w.End = end
	}
	// A piece with trailing whitespace closes its word.
	b.open = !strings.ContainsAny(piece[len(piece)-1:], " \t\n")
}

// Break closes the current word; the next piece starts a new one regardless
// of leading whitespace. Use it between segments.
func (b *WordBuilder) Break() { b.open = false }

// Words returns the assembled words.
func (b *WordBuilder) Words() []types.WordConfidence { return b.words }

// Concat joins transcription parts in order. Texts are joined with single
// spaces and words are appended. The language is the first non-empty one.
// It returns nil when the joined text is empty.
func Concat(parts ...types.Transcription) *types.Transcription {
	var (
		texts []string
		out   types.Transcription
	)
	for _, p := range parts {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
		out.Words = append(out.Words, p.Words...)
		if out.Language == "" {
			out.Language = p.Language
		}
	}
	if len(texts) == 0 {
		return nil
	}
	out.Text = strings.Join(texts, " ")
	return &out
}
