package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/callscribe/internal/app"
	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
	"github.com/MrWong99/callscribe/pkg/provider/embeddings/ngram"
	ollamaembed "github.com/MrWong99/callscribe/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/callscribe/pkg/provider/embeddings/openai"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/callscribe/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires the provider implementations shipped with
// callscribe into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("ngram", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ngram.New(
			ngram.WithDimensions(optInt(entry.Options, "dimensions")),
			ngram.WithN(optInt(entry.Options, "n")),
		), nil
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		if n := optInt(entry.Options, "max_batch"); n > 0 {
			opts = append(opts, oaembed.WithMaxBatch(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		if ka := optString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Retranscriber, error) {
		var opts []whisper.Option
		if lang, ok := entry.Options["language"].(string); ok {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if n := optInt(entry.Options, "beam_size"); n > 0 {
			opts = append(opts, whisper.WithBeamSize(n))
		}
		if n := optInt(entry.Options, "best_of"); n > 0 {
			opts = append(opts, whisper.WithBestOf(n))
		}
		if temp, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, whisper.WithTemperature(temp))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Retranscriber, error) {
		var opts []whisper.NativeOption
		if lang, ok := entry.Options["language"].(string); ok {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "beam_size"); n > 0 {
			opts = append(opts, whisper.WithNativeBeamSize(n))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithNativePrompt(prompt))
		}
		return whisper.NewNative(entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Retranscriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kws := optKeywords(entry.Options, "keywords"); len(kws) > 0 {
			opts = append(opts, deepgram.WithKeywords(kws))
		}
		if n := optInt(entry.Options, "chunk_bytes"); n > 0 {
			opts = append(opts, deepgram.WithChunkBytes(n))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	slog.Debug("providers registered", "stt", reg.STTNames(), "embeddings", reg.EmbeddingsNames())
}

// buildProviders instantiates every provider named in cfg. The returned
// closers release backends holding native resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []io.Closer, error) {
	ps := &app.Providers{}
	var closers []io.Closer

	if e := cfg.Providers.Embeddings; e.Name != "" {
		p, err := reg.CreateEmbeddings(e)
		if err != nil {
			return nil, nil, fmt.Errorf("create embeddings provider %q: %w", e.Name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", e.Name, "model", p.ModelID())
	}

	for _, e := range cfg.Providers.STT {
		r, err := reg.CreateSTT(e)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("stt provider not registered, skipping", "name", e.Name)
			continue
		}
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("create stt provider %q: %w", e.Name, err)
		}
		if c, ok := r.(io.Closer); ok {
			closers = append(closers, c)
		}
		ps.STT = append(ps.STT, app.NamedRetranscriber{Name: e.Name, Retranscriber: r})
		slog.Info("provider created", "kind", "stt", "name", e.Name)
	}
	return ps, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// ── Options helpers ───────────────────────────────────────────────────────────

// optString returns opts[key] when it is a string, else "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt returns opts[key] as an int. YAML integers decode as int; anything
// else yields 0.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optDuration parses a Go duration string such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

// optKeywords reads a list of {keyword, boost} maps or bare strings.
func optKeywords(opts map[string]any, key string) []stt.KeywordBoost {
	list, _ := opts[key].([]any)
	out := make([]stt.KeywordBoost, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			out = append(out, stt.KeywordBoost{Keyword: v, Boost: 1})
		case map[string]any:
			kw := optString(v, "keyword")
			if kw == "" {
				continue
			}
			boost, ok := optFloat(v, "boost")
			if !ok {
				boost = 1
			}
			out = append(out, stt.KeywordBoost{Keyword: kw, Boost: boost})
		}
	}
	return out
}
