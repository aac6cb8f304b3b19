package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native", "deepgram"},
	"embeddings": {"ngram", "openai", "ollama"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":9090"
	DefaultEmbeddingsProvider  = "ngram"
	DefaultEmbeddingDimensions = 256
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields that have a non-zero default. The
// tuning sections are left to the consuming packages, which treat zero as
// "use the default".
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Embeddings.Name == "" {
		cfg.Providers.Embeddings.Name = DefaultEmbeddingsProvider
	}
	if cfg.Storage.EmbeddingDimensions == 0 {
		cfg.Storage.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Correction
	c := cfg.Correction
	errs = appendUnit(errs, "correction.skip_above", c.SkipAbove)
	errs = appendUnit(errs, "correction.semantic_below", c.SemanticBelow)
	errs = appendUnit(errs, "correction.phonetic_below", c.PhoneticBelow)
	errs = appendUnit(errs, "correction.phonetic_min_similarity", c.PhoneticMinSimilarity)
	errs = appendUnit(errs, "correction.semantic_min_similarity", c.SemanticMinSimilarity)
	if c.MaxDistance < 0 || c.MaxDistance > 2 {
		errs = append(errs, fmt.Errorf("correction.max_distance %.2f is out of range [0, 2]", c.MaxDistance))
	}
	if c.MinTokenLength < 0 {
		errs = append(errs, fmt.Errorf("correction.min_token_length %d must not be negative", c.MinTokenLength))
	}
	if c.PhoneticBelow > 0 && c.SkipAbove > 0 && c.PhoneticBelow > c.SkipAbove {
		slog.Warn("correction.phonetic_below exceeds correction.skip_above; the phonetic tier only sees tokens below skip_above",
			"phonetic_below", c.PhoneticBelow,
			"skip_above", c.SkipAbove,
		)
	}

	// Clarification
	cl := cfg.Clarification
	if cl.MaxPerConversation < 0 {
		errs = append(errs, fmt.Errorf("clarification.max_per_conversation %d must not be negative", cl.MaxPerConversation))
	}
	errs = appendUnit(errs, "clarification.low_confidence", cl.LowConfidence)
	errs = appendUnit(errs, "clarification.low_average", cl.LowAverage)
	errs = appendUnit(errs, "clarification.min_unique_ratio", cl.MinUniqueRatio)
	errs = appendUnit(errs, "clarification.max_single_char_ratio", cl.MaxSingleCharRatio)
	errs = appendUnit(errs, "clarification.max_confidence_std_dev", cl.MaxConfidenceStdDev)
	if cl.MaxEchoLength < 0 {
		errs = append(errs, fmt.Errorf("clarification.max_echo_length %d must not be negative", cl.MaxEchoLength))
	}

	// Pipeline
	errs = appendUnit(errs, "pipeline.online_critical_threshold", cfg.Pipeline.OnlineCriticalThreshold)
	errs = appendUnit(errs, "pipeline.low_confidence", cfg.Pipeline.LowConfidence)
	if cfg.Pipeline.RetranscribeAbove < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retranscribe_above %.2f must not be negative", cfg.Pipeline.RetranscribeAbove))
	}

	// Batch
	if cfg.Batch.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("batch.max_concurrent %d must not be negative", cfg.Batch.MaxConcurrent))
	}
	if cfg.Batch.Limit < 0 {
		errs = append(errs, fmt.Errorf("batch.limit %d must not be negative", cfg.Batch.Limit))
	}

	// Storage
	if cfg.Storage.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must not be negative", cfg.Storage.EmbeddingDimensions))
	}
	if cfg.Storage.UseVectorIndex && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.use_vector_index requires storage.postgres_dsn"))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; batch processing will not be available")
	}

	// Providers
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	errs = append(errs, validateEntry("providers.embeddings", cfg.Providers.Embeddings)...)
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT provider configured; offline re-transcription will not be available")
	}
	sttSeen := make(map[string]int, len(cfg.Providers.STT))
	for i, e := range cfg.Providers.STT {
		prefix := fmt.Sprintf("providers.stt[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := sttSeen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.stt[%d]", prefix, e.Name, prev))
		}
		sttSeen[e.Name] = i
		validateProviderName("stt", e.Name)
		errs = append(errs, validateEntry(prefix, e)...)
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}
	if cfg.Resilience.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("resilience.half_open_max %d must not be negative", cfg.Resilience.HalfOpenMax))
	}

	return errors.Join(errs...)
}

// validateEntry checks the fields a known provider cannot start without.
func validateEntry(prefix string, e ProviderEntry) []error {
	var errs []error
	switch e.Name {
	case "openai", "deepgram":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: provider %q requires api_key", prefix, e.Name))
		}
	case "whisper":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: provider %q requires base_url", prefix, e.Name))
		}
	case "whisper-native":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s: provider %q requires model (path to a ggml model file)", prefix, e.Name))
		}
	case "ollama":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s: provider %q requires model", prefix, e.Name))
		}
	}
	return errs
}

func appendUnit(errs []error, field string, v float64) []error {
	if v < 0 || v > 1 {
		return append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", field, v))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
