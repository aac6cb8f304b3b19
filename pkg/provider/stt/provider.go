// Package stt defines the Retranscriber interface for speech-to-text backends
// used in the offline correction path.
//
// A Retranscriber takes a complete stored recording and runs a slower,
// higher-quality recognition pass over it. The result replaces a first-pass
// transcription whose estimated error rate was too high. Implementations
// decode the recording themselves; callers pass the stored bytes unchanged.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/callscribe/pkg/types"
)

// ErrNoAudio is returned by Retranscribe when the recording is empty.
var ErrNoAudio = errors.New("stt: no audio")

// Retranscriber produces a transcription with word confidences for a whole
// stored recording (WAV or MP3 bytes).
type Retranscriber interface {
	// Retranscribe returns a nil transcription and a nil error when the
	// backend recognised no speech. Errors are returned for transport or
	// decoding failures; the caller keeps its existing transcription.
	Retranscribe(ctx context.Context, audio []byte) (*types.Transcription, error)
}

// RetranscriberFunc adapts a function to the Retranscriber interface.
type RetranscriberFunc func(ctx context.Context, audio []byte) (*types.Transcription, error)

// Retranscribe calls f.
func (f RetranscriberFunc) Retranscribe(ctx context.Context, audio []byte) (*types.Transcription, error) {
	return f(ctx, audio)
}
