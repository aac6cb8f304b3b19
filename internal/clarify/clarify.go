// Package clarify decides, per utterance, whether the caller should be asked
// to repeat or confirm what they said, and how.
//
// The policy is a fixed cascade evaluated over the utterance's tokens and
// word confidences; the first rule that applies produces at most one
// [Decision]:
//
//  1. The conversation's clarification budget is spent → proceed.
//  2. No token is below the low-confidence threshold → proceed.
//  3. A low-confidence token is a critical word (destructive action,
//     negation, confirmation, payment, amount of money, numeric identifier)
//     → explicit confirmation of that word.
//  4. The utterance looks incoherent (repetitive, fragmented, or with wildly
//     varying confidence) → ask for a full repeat.
//  5. The average confidence is low → echo the text back.
//  6. A low-confidence token is a number → ask to spell it out.
//
// Every returned decision consumes one unit of the conversation's budget.
// The budget check and the increment are a single atomic reservation, so
// concurrent utterances in one conversation never exceed it.
package clarify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/pkg/types"
)

// Type is the reason a clarification is requested.
type Type string

const (
	TypeCriticalWordUnclear  Type = "critical_word_unclear"
	TypeSemanticIncoherence  Type = "semantic_incoherence"
	TypeLowOverallConfidence Type = "low_overall_confidence"
	TypeNumberUnclear        Type = "number_unclear"
)

// Strategy is how the clarification should be phrased to the caller.
type Strategy string

const (
	StrategyExplicitConfirmation  Strategy = "explicit_confirmation"
	StrategyFullRepeat            Strategy = "full_repeat"
	StrategyImplicitClarification Strategy = "implicit_clarification"
	StrategySpellOut              Strategy = "spell_out"
)

// Decision is a request to clarify an utterance. A nil *Decision means
// "proceed".
type Decision struct {
	Type     Type     `json:"type"`
	Strategy Strategy `json:"strategy"`

	// Prompt is the Spanish sentence to speak to the caller.
	Prompt string `json:"prompt"`

	// Confidence is the average word confidence of the utterance.
	Confidence float64 `json:"confidence"`

	// Word is the token the decision is about, when it concerns one word.
	Word string `json:"word,omitempty"`

	// Category is set for [TypeCriticalWordUnclear].
	Category Category `json:"category,omitempty"`
}

// Config tunes the policy. Zero fields take the defaults of [DefaultConfig].
type Config struct {
	// MaxPerConversation caps the decisions returned per conversation.
	// Default: 3.
	MaxPerConversation int

	// LowConfidence marks a token as unsure. Default: 0.7.
	LowConfidence float64

	// LowAverage triggers the echo-back prompt. Default: 0.5.
	LowAverage float64

	// MinUniqueRatio is the unique/total token ratio below which an utterance
	// is repetitive. Default: 0.5.
	MinUniqueRatio float64

	// MaxSingleCharRatio is the share of stray single-character tokens above
	// which an utterance is fragmented. Default: 0.3.
	MaxSingleCharRatio float64

	// MaxConfidenceStdDev is the population standard deviation of word
	// confidences above which an utterance is erratic. Default: 0.35.
	MaxConfidenceStdDev float64

	// MaxEchoLength truncates the echoed text, in characters. Default: 100.
	MaxEchoLength int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxPerConversation:  3,
		LowConfidence:       0.7,
		LowAverage:          0.5,
		MinUniqueRatio:      0.5,
		MaxSingleCharRatio:  0.3,
		MaxConfidenceStdDev: 0.35,
		MaxEchoLength:       100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPerConversation <= 0 {
		c.MaxPerConversation = d.MaxPerConversation
	}
	if c.LowConfidence <= 0 {
		c.LowConfidence = d.LowConfidence
	}
	if c.LowAverage <= 0 {
		c.LowAverage = d.LowAverage
	}
	if c.MinUniqueRatio <= 0 {
		c.MinUniqueRatio = d.MinUniqueRatio
	}
	if c.MaxSingleCharRatio <= 0 {
		c.MaxSingleCharRatio = d.MaxSingleCharRatio
	}
	if c.MaxConfidenceStdDev <= 0 {
		c.MaxConfidenceStdDev = d.MaxConfidenceStdDev
	}
	if c.MaxEchoLength <= 0 {
		c.MaxEchoLength = d.MaxEchoLength
	}
	return c
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithConfig overrides [DefaultConfig].
func WithConfig(c Config) Option {
	return func(e *Engine) {
		e.cfg = c.withDefaults()
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// state is the clarification budget of one conversation.
type state struct {
	mu    sync.Mutex
	count int
}

// Engine evaluates the policy and owns the per-conversation budgets. It is
// safe for concurrent use.
type Engine struct {
	cfg     Config
	metrics *observe.Metrics

	mu            sync.Mutex
	conversations map[string]*state
}

// New returns an Engine with the supplied options.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:           DefaultConfig(),
		conversations: map[string]*state{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// MaxPerConversation returns the configured budget.
func (e *Engine) MaxPerConversation() int { return e.cfg.MaxPerConversation }

// ShouldClarify evaluates the policy for one utterance of conversationID and
// returns a decision, or nil to proceed. A returned decision has already been
// charged to the conversation's budget.
func (e *Engine) ShouldClarify(ctx context.Context, text string, words []types.WordConfidence, conversationID string) *Decision {
	return e.ShouldClarifyIf(ctx, text, words, conversationID, nil)
}

// ShouldClarifyIf is [Engine.ShouldClarify] with a caller filter: when accept
// is non-nil and rejects the computed decision, nil is returned and the
// budget is left untouched.
func (e *Engine) ShouldClarifyIf(ctx context.Context, text string, words []types.WordConfidence, conversationID string, accept func(*Decision) bool) *Decision {
	if e.Count(conversationID) >= e.cfg.MaxPerConversation {
		return nil
	}

	d := e.evaluate(text, words)
	if d == nil {
		return nil
	}
	if accept != nil && !accept(d) {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	if !e.reserve(ctx, conversationID) {
		return nil
	}

	e.metrics.RecordClarification(ctx, string(d.Type))
	observe.Logger(ctx).Debug("clarify: decision",
		"conversation_id", conversationID,
		"type", d.Type,
		"strategy", d.Strategy,
		"confidence", d.Confidence,
	)
	return d
}

// Count returns the number of decisions charged to conversationID.
func (e *Engine) Count(conversationID string) int {
	e.mu.Lock()
	st, ok := e.conversations[conversationID]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.count
}

// Reset releases the budget of conversationID. Call it when the
// conversation ends; state is never expired automatically.
func (e *Engine) Reset(conversationID string) {
	e.mu.Lock()
	_, ok := e.conversations[conversationID]
	delete(e.conversations, conversationID)
	e.mu.Unlock()
	if ok {
		e.metrics.ActiveConversations.Add(context.Background(), -1)
	}
}

// reserve charges one decision to conversationID unless the budget is spent.
func (e *Engine) reserve(ctx context.Context, conversationID string) bool {
	e.mu.Lock()
	st, ok := e.conversations[conversationID]
	if !ok {
		st = &state{}
		e.conversations[conversationID] = st
		e.metrics.ActiveConversations.Add(ctx, 1)
	}
	st.mu.Lock()
	e.mu.Unlock()
	defer st.mu.Unlock()

	if st.count >= e.cfg.MaxPerConversation {
		return false
	}
	st.count++
	return true
}

// evaluate runs rules 2–6 without touching any state.
func (e *Engine) evaluate(text string, words []types.WordConfidence) *Decision {
	tokens := types.Tokens(text)
	if len(tokens) == 0 {
		return nil
	}
	confs := types.AlignConfidences(tokens, words)

	var low []int
	for i, c := range confs {
		if c < e.cfg.LowConfidence {
			low = append(low, i)
		}
	}
	if len(low) == 0 {
		return nil
	}

	avg, std := stat.PopMeanStdDev(confs, nil)

	for _, i := range low {
		if cat := categorize(tokens[i]); cat != CategoryNone {
			word := types.TrimPunct(tokens[i])
			if word == "" {
				word = tokens[i]
			}
			return &Decision{
				Type:       TypeCriticalWordUnclear,
				Strategy:   StrategyExplicitConfirmation,
				Prompt:     criticalPrompt(cat, word),
				Confidence: avg,
				Word:       word,
				Category:   cat,
			}
		}
	}

	if e.incoherent(tokens, std) {
		return &Decision{
			Type:       TypeSemanticIncoherence,
			Strategy:   StrategyFullRepeat,
			Prompt:     repeatPrompt,
			Confidence: avg,
		}
	}

	if avg < e.cfg.LowAverage {
		return &Decision{
			Type:       TypeLowOverallConfidence,
			Strategy:   StrategyImplicitClarification,
			Prompt:     fmt.Sprintf(echoPrompt, truncate(text, e.cfg.MaxEchoLength)),
			Confidence: avg,
		}
	}

	for _, i := range low {
		if isNumeric(tokens[i]) {
			word := types.TrimPunct(tokens[i])
			return &Decision{
				Type:       TypeNumberUnclear,
				Strategy:   StrategySpellOut,
				Prompt:     fmt.Sprintf(numberPrompt, word),
				Confidence: avg,
				Word:       word,
			}
		}
	}
	return nil
}

// shortWords are single-letter Spanish words that do not count as fragments.
var shortWords = map[string]struct{}{"a": {}, "e": {}, "o": {}, "u": {}, "y": {}}

// incoherent applies the repetition, fragmentation and spread heuristics.
func (e *Engine) incoherent(tokens []string, std float64) bool {
	unique := make(map[string]struct{}, len(tokens))
	single := 0
	for _, t := range tokens {
		core := strings.ToLower(types.TrimPunct(t))
		if core == "" {
			core = t
		}
		unique[core] = struct{}{}
		if utf8.RuneCountInString(core) == 1 {
			if _, ok := shortWords[core]; !ok {
				single++
			}
		}
	}
	n := float64(len(tokens))
	switch {
	case float64(len(unique))/n < e.cfg.MinUniqueRatio:
		return true
	case float64(single)/n > e.cfg.MaxSingleCharRatio:
		return true
	case std > e.cfg.MaxConfidenceStdDev:
		return true
	}
	return false
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}
