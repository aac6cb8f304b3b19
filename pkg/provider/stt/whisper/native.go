// This file contains the Native retranscriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/types"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Native satisfies stt.Retranscriber.
var _ stt.Retranscriber = (*Native)(nil)

// Native implements stt.Retranscriber using the whisper.cpp Go bindings. The
// model is loaded once and shared; every call creates its own context, so
// calls may run concurrently.
type Native struct {
	model       whisperlib.Model
	language    string
	beamSize    int
	temperature float32
	prompt      string
}

// NativeOption is a functional option for configuring a Native.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription. Defaults to
// "es".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeBeamSize sets the beam search width. Defaults to 5.
func WithNativeBeamSize(size int) NativeOption {
	return func(n *Native) {
		if size > 0 {
			n.beamSize = size
		}
	}
}

// WithNativePrompt sets the initial decoder prompt.
func WithNativePrompt(prompt string) NativeOption {
	return func(n *Native) { n.prompt = prompt }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the retranscriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
		beamSize: defaultBeamSize,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Retranscribe decodes data to 16 kHz mono float samples and runs inference.
// Token probabilities are merged into word confidences. Inference itself
// cannot be interrupted; ctx is checked before it starts.
func (n *Native) Retranscribe(ctx context.Context, data []byte) (*types.Transcription, error) {
	if len(data) == 0 {
		return nil, stt.ErrNoAudio
	}
	pcm, err := audio.DecodeSpeech(data)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if len(pcm.Data) == 0 {
		return nil, stt.ErrNoAudio
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if n.language != "" {
		if err := wctx.SetLanguage(n.language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", n.language, "err", err)
		}
	}
	wctx.SetBeamSize(n.beamSize)
	wctx.SetTemperature(n.temperature)
	wctx.SetTokenTimestamps(true)
	if n.prompt != "" {
		wctx.SetInitialPrompt(n.prompt)
	}

	if err := wctx.Process(audio.Float32(pcm.Data), nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var b stt.WordBuilder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		b.Break()
		for _, tok := range segment.Tokens {
			if isSpecialToken(tok.Text) {
				continue
			}
			b.Add(tok.Text, float64(tok.P), tok.Start, tok.End)
		}
	}

	words := b.Words()
	tokens := make([]string, len(words))
	for i, w := range words {
		tokens[i] = w.Word
	}
	return stt.Concat(types.Transcription{
		Text:     strings.Join(tokens, " "),
		Words:    words,
		Language: n.language,
	}), nil
}

// isSpecialToken reports control tokens such as "[_BEG_]" or "<|es|>".
func isSpecialToken(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "[_") || strings.HasPrefix(t, "<|")
}
