// Package embeddings defines the interface for text-embedding backends.
//
// The semantic correction tier embeds the known misrecognition variants once
// and then embeds each low-confidence token, so every implementation must
// produce vectors of one fixed width. Package ngram is an in-process
// implementation; openai and ollama call remote models.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Vectors from different providers, or from one provider configured with a
// different model, live in different spaces and must not be compared.
// ModelID identifies the space and is used as the key when vectors are
// persisted.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for text, which is passed through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order. On error no
	// partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every returned vector.
	Dimensions() int

	// ModelID names the embedding space, e.g. "text-embedding-3-small".
	ModelID() string
}

// DistanceHint is implemented by providers whose vectors call for a tighter
// or looser cosine-distance bound than the correction engine's default.
type DistanceHint interface {
	// MaxCosineDistance is the exclusive bound for accepting a neighbour.
	MaxCosineDistance() float64
}
