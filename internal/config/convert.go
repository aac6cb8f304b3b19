package config

import (
	"github.com/MrWong99/callscribe/internal/batch"
	"github.com/MrWong99/callscribe/internal/clarify"
	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/MrWong99/callscribe/internal/pipeline"
	"github.com/MrWong99/callscribe/internal/resilience"
)

// Thresholds returns the cascade thresholds, with unset fields taken from
// [correction.DefaultThresholds].
func (c CorrectionConfig) Thresholds() correction.Thresholds {
	t := correction.DefaultThresholds()
	if c.SkipAbove > 0 {
		t.SkipAbove = c.SkipAbove
	}
	if c.SemanticBelow > 0 {
		t.SemanticBelow = c.SemanticBelow
	}
	if c.MinTokenLength > 0 {
		t.MinTokenLength = c.MinTokenLength
	}
	if c.MaxDistance > 0 {
		t.MaxDistance = c.MaxDistance
	}
	if c.PhoneticBelow > 0 {
		t.PhoneticBelow = c.PhoneticBelow
	}
	if c.SemanticMinSimilarity > 0 {
		t.MinSimilarity = c.SemanticMinSimilarity
	}
	return t
}

// Policy returns the clarification policy. Zero fields are defaulted by the
// clarify package.
func (c ClarificationConfig) Policy() clarify.Config {
	return clarify.Config{
		MaxPerConversation:  c.MaxPerConversation,
		LowConfidence:       c.LowConfidence,
		LowAverage:          c.LowAverage,
		MinUniqueRatio:      c.MinUniqueRatio,
		MaxSingleCharRatio:  c.MaxSingleCharRatio,
		MaxConfidenceStdDev: c.MaxConfidenceStdDev,
		MaxEchoLength:       c.MaxEchoLength,
	}
}

// Orchestration returns the pipeline thresholds.
func (c PipelineConfig) Orchestration() pipeline.Config {
	return pipeline.Config{
		OnlineCriticalThreshold: c.OnlineCriticalThreshold,
		RetranscribeAbove:       c.RetranscribeAbove,
		LowConfidence:           c.LowConfidence,
	}
}

// Concurrency returns the configured worker count or [batch.DefaultMaxConcurrent].
func (c BatchConfig) Concurrency() int {
	if c.MaxConcurrent > 0 {
		return c.MaxConcurrent
	}
	return batch.DefaultMaxConcurrent
}

// RecordingLimit returns the configured batch size or [batch.DefaultLimit].
func (c BatchConfig) RecordingLimit() int {
	if c.Limit > 0 {
		return c.Limit
	}
	return batch.DefaultLimit
}

// Fallback returns the fallback group settings for the STT chain.
func (c ResilienceConfig) Fallback() resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  c.MaxFailures,
			ResetTimeout: c.ResetTimeout,
			HalfOpenMax:  c.HalfOpenMax,
		},
	}
}
