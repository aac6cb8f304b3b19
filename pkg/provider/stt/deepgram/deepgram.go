// Package deepgram re-transcribes stored recordings through the Deepgram
// streaming WebSocket API. It implements the stt.Retranscriber interface.
//
// The whole recording is decoded to 16 kHz mono linear16, streamed in
// fixed-size chunks and followed by a CloseStream message. Every final
// Results message received before the server closes the socket contributes
// to the returned transcription.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "es"

	// defaultChunkBytes is 250 ms of 16 kHz mono linear16.
	defaultChunkBytes = audio.SpeechSampleRate / 4 * 2
)

var _ stt.Retranscriber = (*Retranscriber)(nil)

// Option is a functional option for configuring the Retranscriber.
type Option func(*Retranscriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(r *Retranscriber) {
		r.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "es").
func WithLanguage(language string) Option {
	return func(r *Retranscriber) {
		r.language = language
	}
}

// WithKeywords boosts domain vocabulary.
func WithKeywords(keywords []stt.KeywordBoost) Option {
	return func(r *Retranscriber) {
		r.keywords = keywords
	}
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(r *Retranscriber) {
		r.endpoint = endpoint
	}
}

// WithChunkBytes sets the size of each binary audio frame.
func WithChunkBytes(n int) Option {
	return func(r *Retranscriber) {
		if n > 0 {
			r.chunkBytes = n
		}
	}
}

// Retranscriber implements stt.Retranscriber backed by the Deepgram
// streaming API. Each call opens its own connection.
type Retranscriber struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	keywords   []stt.KeywordBoost
	chunkBytes int
}

// New creates a new Deepgram Retranscriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Retranscriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Retranscriber{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		chunkBytes: defaultChunkBytes,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Retranscribe streams the decoded recording and collects the final results.
func (r *Retranscriber) Retranscribe(ctx context.Context, data []byte) (*types.Transcription, error) {
	if len(data) == 0 {
		return nil, stt.ErrNoAudio
	}
	pcm, err := audio.DecodeSpeech(data)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	if len(pcm.Data) == 0 {
		return nil, stt.ErrNoAudio
	}

	wsURL, err := r.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	// A whole recording of final results can exceed the default read limit.
	conn.SetReadLimit(-1)

	var parts []types.Transcription
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.stream(gctx, conn, pcm.Data)
	})
	g.Go(func() error {
		var err error
		parts, err = readResults(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "")

	tr := stt.Concat(parts...)
	if tr != nil {
		tr.Language = r.language
	}
	return tr, nil
}

// stream writes pcm in chunks followed by CloseStream.
func (r *Retranscriber) stream(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += r.chunkBytes {
		end := min(off+r.chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// readResults reads until the server sends Metadata or closes the socket
// normally.
func readResults(ctx context.Context, conn *websocket.Conn) ([]types.Transcription, error) {
	var parts []types.Transcription
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return parts, nil
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Metadata":
			return parts, nil
		case "Results":
			if tr, ok := resp.transcription(); ok {
				parts = append(parts, tr)
			}
		}
	}
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (r *Retranscriber) buildURL() (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", r.model)
	if r.language != "" {
		q.Set("language", r.language)
	}
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.SpeechSampleRate))
	q.Set("channels", "1")

	for _, kw := range r.keywords {
		// Deepgram keyword format: word:boost (e.g., "contraseña:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// transcription converts a final Results message. Interim results and
// empty alternatives are ignored. When words are present the text is
// rebuilt from their punctuated forms so that tokens and words line up.
func (resp *deepgramResponse) transcription() (types.Transcription, bool) {
	if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return types.Transcription{}, false
	}
	alt := resp.Channel.Alternatives[0]
	if len(alt.Words) == 0 {
		text := strings.TrimSpace(alt.Transcript)
		return types.Transcription{Text: text}, text != ""
	}

	words := make([]types.WordConfidence, 0, len(alt.Words))
	tokens := make([]string, 0, len(alt.Words))
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		tokens = append(tokens, word)
		words = append(words, types.WordConfidence{
			Word:       word,
			Confidence: types.ClampUnit(w.Confidence),
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
		})
	}
	return types.Transcription{Text: strings.Join(tokens, " "), Words: words}, len(words) > 0
}
