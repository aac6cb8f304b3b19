// Package analysis computes the secondary, offline-only signals attached to
// a corrected transcript: a quality estimate from word confidences, and a
// lightweight content analysis (entities, topics, keywords, coherence).
//
// Everything here is pure computation over text; nothing blocks or fails.
package analysis

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/callscribe/pkg/types"
)

// Quality summarises how trustworthy a transcription is.
type Quality struct {
	// EstimatedErrorRate is max(0, (1-AverageConfidence)·1.5). It is not
	// capped at 1.
	EstimatedErrorRate float64 `json:"estimated_error_rate"`

	AverageConfidence  float64 `json:"average_confidence"`
	LowConfidenceCount int     `json:"low_confidence_count"`
	LowConfidenceRatio float64 `json:"low_confidence_ratio"`
	TokenCount         int     `json:"token_count"`
}

// errorRateFactor scales the confidence deficit into an error-rate estimate.
const errorRateFactor = 1.5

// ComputeQuality derives [Quality] from text and its word confidences.
// Tokens without a word entry count as fully confident; tokens below
// lowThreshold count as low confidence. Empty text has average confidence 1.
func ComputeQuality(text string, words []types.WordConfidence, lowThreshold float64) Quality {
	tokens := types.Tokens(text)
	if len(tokens) == 0 {
		return Quality{AverageConfidence: types.NeutralConfidence}
	}
	confs := types.AlignConfidences(tokens, words)

	low := 0
	for _, c := range confs {
		if c < lowThreshold {
			low++
		}
	}
	avg := stat.Mean(confs, nil)
	return Quality{
		EstimatedErrorRate: max(0, (1-avg)*errorRateFactor),
		AverageConfidence:  avg,
		LowConfidenceCount: low,
		LowConfidenceRatio: float64(low) / float64(len(tokens)),
		TokenCount:         len(tokens),
	}
}

// Advanced is the content analysis of a transcript.
type Advanced struct {
	// Entities maps an entity kind (see the Entity* constants) to the
	// distinct matches in order of appearance. Kinds without matches are
	// absent.
	Entities map[string][]string `json:"entities"`

	// Topics lists the detected call topics in a fixed order.
	Topics []string `json:"topics"`

	// Keywords holds up to five content words, most frequent first.
	Keywords []string `json:"keywords"`

	// CoherenceScore is a [0, 1] plausibility heuristic.
	CoherenceScore float64 `json:"coherence_score"`
}

const (
	maxKeywords      = 5
	minKeywordLength = 3

	diversityWeight = 0.6
	lengthWeight    = 0.4

	// referenceTokenLength is the average word length, in runes, that earns
	// the full length component of the coherence score.
	referenceTokenLength = 8.0
)

// Analyze runs entity, topic, keyword and coherence extraction over text.
func Analyze(text string) Advanced {
	words := contentWords(text)
	return Advanced{
		Entities:       ExtractEntities(text),
		Topics:         DetectTopics(words),
		Keywords:       TopKeywords(words, maxKeywords),
		CoherenceScore: Coherence(words),
	}
}

// contentWords lower-cases the tokens of text and strips their punctuation,
// dropping tokens left empty.
func contentWords(text string) []string {
	var out []string
	for _, t := range types.Tokens(text) {
		if w := strings.ToLower(types.TrimPunct(t)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// DetectTopics returns every topic with at least one keyword in words.
func DetectTopics(words []string) []string {
	topics := []string{}
	for _, tk := range topicKeywords {
		for _, w := range words {
			if _, ok := tk.words[w]; ok {
				topics = append(topics, tk.topic)
				break
			}
		}
	}
	return topics
}

// TopKeywords returns up to n non-stopwords of at least three runes, by
// descending frequency; ties are broken alphabetically.
func TopKeywords(words []string, n int) []string {
	freq := map[string]int{}
	for _, w := range words {
		if utf8.RuneCountInString(w) < minKeywordLength {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		freq[w]++
	}

	keys := make([]string, 0, len(freq))
	for w := range freq {
		keys = append(keys, w)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(freq[b], freq[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// Coherence blends lexical diversity (unique/total) with average word length
// relative to [referenceTokenLength]. No words score 0.
func Coherence(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	unique := map[string]struct{}{}
	lengths := make([]float64, len(words))
	for i, w := range words {
		unique[w] = struct{}{}
		lengths[i] = float64(utf8.RuneCountInString(w))
	}
	diversity := float64(len(unique)) / float64(len(words))
	lengthScore := min(stat.Mean(lengths, nil)/referenceTokenLength, 1)
	return types.ClampUnit(diversityWeight*diversity + lengthWeight*lengthScore)
}
