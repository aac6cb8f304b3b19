package correction

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/pkg/types"
)

// Thresholds tunes the per-token cascade. The zero value is not useful; start
// from [DefaultThresholds].
type Thresholds struct {
	// SkipAbove is the recogniser confidence above which a token bypasses
	// every tier. Default: 0.85.
	SkipAbove float64

	// SemanticBelow enables the semantic tier for tokens whose confidence is
	// below it. Default: 0.7.
	SemanticBelow float64

	// MinTokenLength enables the semantic tier for tokens longer than this
	// many runes regardless of confidence. Default: 3.
	MinTokenLength int

	// MaxDistance is the exclusive cosine-distance bound for a semantic hit.
	// Default: 0.7.
	MaxDistance float64

	// MinSimilarity is the Jaro-Winkler similarity a token must reach against
	// the spelling of its nearest neighbour before a semantic hit is taken.
	// Default: 0.9.
	MinSimilarity float64

	// PhoneticBelow enables the phonetic tier for tokens whose confidence is
	// below it. Default: 0.6.
	PhoneticBelow float64
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SkipAbove:      0.85,
		SemanticBelow:  0.7,
		MinTokenLength: 3,
		MaxDistance:    0.7,
		MinSimilarity:  0.9,
		PhoneticBelow:  0.6,
	}
}

// exactConfidence and phoneticConfidence are the fixed correction
// confidences of their tiers.
const (
	exactConfidence    = 1.0
	phoneticConfidence = 0.75
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithSimilaritySearcher attaches the semantic tier. When nil (the default),
// the tier is unavailable.
func WithSimilaritySearcher(s SimilaritySearcher) Option {
	return func(e *Engine) {
		e.semantic = s
	}
}

// WithPhoneticMatcher attaches the phonetic tier. When nil (the default),
// the tier is unavailable.
func WithPhoneticMatcher(m PhoneticMatcher) Option {
	return func(e *Engine) {
		e.phonetic = m
	}
}

// WithPatternStore persists learned patterns and preloads them on [New].
func WithPatternStore(s PatternStore) Option {
	return func(e *Engine) {
		e.patterns = s
	}
}

// WithThresholds overrides [DefaultThresholds].
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		e.thresholds = t
	}
}

// WithTable replaces the built-in Spanish error table. Keys are matched
// case-insensitively.
func WithTable(table map[string]string) Option {
	return func(e *Engine) {
		e.base = make(map[string]string, len(table))
		for k, v := range table {
			e.base[strings.ToLower(k)] = v
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine is the tiered correction cascade.
//
// Reads go through an immutable table snapshot swapped atomically by
// [Engine.Learn]; writers are serialised so that the table and the tier
// indices are always rebuilt from the latest snapshot. Engine is safe for
// concurrent use.
type Engine struct {
	thresholds Thresholds
	semantic   SimilaritySearcher
	phonetic   PhoneticMatcher
	patterns   PatternStore
	metrics    *observe.Metrics

	base  map[string]string
	table atomic.Pointer[map[string]string]

	// targets holds the accent-folded correction values of table. A token
	// that already spells a target is never rewritten by a fuzzy tier.
	targets atomic.Pointer[map[string]struct{}]

	// semanticReady is false while the last similarity rebuild failed.
	semanticReady atomic.Bool

	learnMu sync.Mutex
}

// New builds an [Engine], preloads persisted patterns from the configured
// [PatternStore] and indexes the table for the optional tiers. Failures in
// either step are logged and the engine starts with what it has.
func New(ctx context.Context, opts ...Option) *Engine {
	e := &Engine{
		thresholds: DefaultThresholds(),
		base:       builtinTable(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	table := maps.Clone(e.base)
	if e.patterns != nil {
		learned, err := e.patterns.Load(ctx)
		if err != nil {
			slog.Warn("correction: failed to load learned patterns", "err", err)
		}
		for k, v := range learned {
			if k = normalizeKey(k); k != "" && v != "" {
				table[k] = v
			}
		}
	}

	e.learnMu.Lock()
	defer e.learnMu.Unlock()
	e.rebuild(ctx, table)
	e.storeTable(table)

	slog.Debug("correction: engine ready",
		"patterns", len(table),
		"tiers", e.Capabilities().String(),
	)
	return e
}

// Capabilities reports the tiers that can currently serve queries. The exact
// tier is always available.
func (e *Engine) Capabilities() Tiers {
	t := TierExact
	if e.semantic != nil && e.semantic.Available() && e.semanticReady.Load() {
		t |= TierSemantic
	}
	if e.phonetic != nil && e.phonetic.Available() {
		t |= TierPhonetic
	}
	return t
}

// Thresholds returns the thresholds the engine was built with.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Lookup searches the exact table (built-in plus learned) for token.
func (e *Engine) Lookup(token string) (string, bool) {
	c, ok := (*e.table.Load())[normalizeKey(token)]
	return c, ok
}

// Size returns the number of patterns in the exact table.
func (e *Engine) Size() int {
	return len(*e.table.Load())
}

// Correct runs the cascade over every whitespace token of text and returns
// the corrected text plus one [Record] per substituted token. Token i takes
// words[i].Confidence; tokens without a word entry are trusted. The corrected
// text always has the same token count as text, and when nothing changed it
// is text itself.
//
// Cancellation of ctx stops the loop; the tokens not yet visited are kept
// unchanged.
func (e *Engine) Correct(ctx context.Context, text string, words []types.WordConfidence, tiers Tiers) (string, []Record) {
	records := []Record{}
	tokens := types.Tokens(text)
	if len(tokens) == 0 {
		return text, records
	}
	confs := types.AlignConfidences(tokens, words)

	out := make([]string, len(tokens))
	copy(out, tokens)
	for i, tok := range tokens {
		if ctx.Err() != nil {
			break
		}
		corrected, method, conf := e.CorrectToken(ctx, tok, confs[i], tiers)
		if method == MethodNone || strings.EqualFold(corrected, tok) {
			continue
		}
		out[i] = corrected
		records = append(records, Record{
			Original:             tok,
			Corrected:            corrected,
			Method:               method,
			Position:             i,
			OriginalConfidence:   confs[i],
			CorrectionConfidence: conf,
		})
		e.metrics.RecordCorrection(ctx, string(method))
	}

	if len(records) == 0 {
		return text, records
	}
	return strings.Join(out, " "), records
}

// CorrectToken runs the cascade over a single token. Punctuation around the
// word is preserved and the word's letter case is carried over to the
// correction. method is [MethodNone] when no tier matched, in which case
// token and confidence are returned unchanged.
func (e *Engine) CorrectToken(ctx context.Context, token string, confidence float64, tiers Tiers) (string, Method, float64) {
	prefix, core, suffix := splitAffixes(token)
	if core == "" || confidence > e.thresholds.SkipAbove {
		return token, MethodNone, confidence
	}

	corrected, method, conf := e.matchCore(ctx, core, confidence, tiers)
	if method == MethodNone {
		return token, MethodNone, confidence
	}
	return prefix + matchCase(core, corrected) + suffix, method, conf
}

// matchCore walks the tiers in priority order for a punctuation-free word.
func (e *Engine) matchCore(ctx context.Context, core string, confidence float64, tiers Tiers) (string, Method, float64) {
	table := *e.table.Load()
	key := strings.ToLower(core)

	if tiers.Has(TierExact) {
		if c, ok := table[key]; ok {
			return c, MethodExact, exactConfidence
		}
	}

	if _, ok := (*e.targets.Load())[foldAccents(key)]; ok {
		return "", MethodNone, confidence
	}

	avail := e.Capabilities()

	if tiers.Has(TierSemantic) && avail.Has(TierSemantic) &&
		(confidence < e.thresholds.SemanticBelow || utf8.RuneCountInString(core) > e.thresholds.MinTokenLength) {
		variant, dist, err := e.semantic.Nearest(ctx, key)
		switch {
		case err != nil:
			observe.Logger(ctx).Debug("correction: semantic tier unavailable", "token", core, "err", err)
		case variant != "" && dist < e.thresholds.MaxDistance:
			c, ok := table[variant]
			if ok && e.nearMiss(key, variant, c) {
				return c, MethodSemantic, types.ClampUnit(1 - dist/2)
			}
			observe.Logger(ctx).Debug("correction: semantic neighbour rejected",
				"token", core, "variant", variant, "distance", dist)
		}
	}

	if tiers.Has(TierPhonetic) && avail.Has(TierPhonetic) && confidence < e.thresholds.PhoneticBelow {
		if k, ok := e.phonetic.Match(key); ok {
			if c, ok := table[k]; ok {
				return c, MethodPhonetic, phoneticConfidence
			}
		}
	}

	return "", MethodNone, confidence
}

// Learn adds original→corrected to the exact table, rebuilds the tier indices
// and swaps both in before returning, so the next [Engine.Correct] sees the
// pattern. Persistence is best effort: a failing [PatternStore] is logged and
// does not fail the call. Learn returns [ErrInvalidPattern] for empty input or
// a multi-token correction.
func (e *Engine) Learn(ctx context.Context, original, corrected string) error {
	key := normalizeKey(original)
	corrected = strings.TrimSpace(corrected)
	if key == "" || corrected == "" {
		return fmt.Errorf("%w: original and corrected must be non-empty", ErrInvalidPattern)
	}
	if len(strings.Fields(key)) > 1 || len(strings.Fields(corrected)) > 1 {
		return fmt.Errorf("%w: %q→%q must map one token to one token", ErrInvalidPattern, original, corrected)
	}

	e.learnMu.Lock()
	defer e.learnMu.Unlock()

	next := maps.Clone(*e.table.Load())
	next[key] = corrected
	e.rebuild(ctx, next)
	e.storeTable(next)
	e.metrics.RecordLearnedPattern(ctx)

	if e.patterns != nil {
		if err := e.patterns.Save(ctx, key, corrected); err != nil {
			observe.Logger(ctx).Warn("correction: failed to persist learned pattern",
				"original", key, "corrected", corrected, "err", err)
		}
	}
	return nil
}

// nearMiss reports whether token reads as a misspelling of variant rather
// than another word that happens to embed nearby. The spellings must agree
// to MinSimilarity, end in the same letter, and token must not merely extend
// variant or its correction (plurals, verb endings).
func (e *Engine) nearMiss(token, variant, corrected string) bool {
	if matchr.JaroWinkler(token, variant, false) < e.thresholds.MinSimilarity {
		return false
	}
	t, v := foldAccents(token), foldAccents(variant)
	lt, _ := utf8.DecodeLastRuneInString(t)
	lv, _ := utf8.DecodeLastRuneInString(v)
	if lt != lv {
		return false
	}
	for _, base := range []string{v, foldAccents(strings.ToLower(corrected))} {
		if len(t) > len(base) && strings.HasPrefix(t, base) {
			return false
		}
	}
	return true
}

// storeTable publishes table and its target set. Callers hold learnMu.
func (e *Engine) storeTable(table map[string]string) {
	targets := make(map[string]struct{}, len(table))
	for _, v := range table {
		targets[foldAccents(strings.ToLower(v))] = struct{}{}
	}
	e.targets.Store(&targets)
	e.table.Store(&table)
}

// rebuild refreshes the optional tier indices from table. Callers hold
// learnMu.
func (e *Engine) rebuild(ctx context.Context, table map[string]string) {
	keys := slices.Sorted(maps.Keys(table))

	if e.phonetic != nil && e.phonetic.Available() {
		e.phonetic.Rebuild(keys)
	}
	if e.semantic != nil && e.semantic.Available() {
		if err := e.semantic.Rebuild(ctx, keys); err != nil {
			e.semanticReady.Store(false)
			slog.Warn("correction: semantic index rebuild failed, tier disabled", "err", err)
			return
		}
		e.semanticReady.Store(true)
	}
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
