// Package whisper provides whisper.cpp-backed re-transcription of stored
// recordings.
//
// [Client] talks to a running whisper-server binary (POST /inference) and asks
// for verbose JSON so that word probabilities come back with the text.
// [Native] runs the model in-process through the whisper.cpp CGO bindings.
// Both decode the recording with package audio and submit it as 16 kHz mono.
//
// Re-transcription is the slow path, so both default to deterministic
// decoding (temperature 0) with beam search.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("es"),
//	    whisper.WithBeamSize(5),
//	)
//	tr, err := c.Retranscribe(ctx, wavBytes)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/types"
)

const (
	defaultLanguage = "es"
	defaultBeamSize = 5
	defaultBestOf   = 5
	defaultTimeout  = 2 * time.Minute
)

// Compile-time assertion that Client implements stt.Retranscriber.
var _ stt.Retranscriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLanguage sets the language code sent to the server (e.g., "es").
// Defaults to "es". An empty string lets the server auto-detect.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithBeamSize sets the beam search width. Defaults to 5.
func WithBeamSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.beamSize = n
		}
	}
}

// WithBestOf sets the number of sampling candidates. Defaults to 5.
func WithBestOf(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.bestOf = n
		}
	}
}

// WithTemperature sets the decoding temperature. Defaults to 0.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithPrompt sets an initial prompt that primes the decoder with domain
// vocabulary.
func WithPrompt(prompt string) Option {
	return func(c *Client) { c.prompt = prompt }
}

// WithHTTPClient replaces the default HTTP client (2 minute timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client re-transcribes recordings through a whisper.cpp HTTP server.
type Client struct {
	serverURL   string
	language    string
	beamSize    int
	bestOf      int
	temperature float64
	prompt      string
	httpClient  *http.Client
}

// New creates a Client for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		beamSize:   defaultBeamSize,
		bestOf:     defaultBestOf,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Retranscribe decodes data, uploads it as 16 kHz mono WAV and parses the
// verbose JSON response.
func (c *Client) Retranscribe(ctx context.Context, data []byte) (*types.Transcription, error) {
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

	resp, err := c.infer(ctx, audio.EncodeWAV(pcm))
	if err != nil {
		return nil, err
	}
	tr := resp.transcription()
	if tr == nil {
		return nil, nil
	}
	if c.language != "" {
		tr.Language = c.language
	}
	return tr, nil
}

// infer posts wav to /inference and decodes the verbose JSON reply.
func (c *Client) infer(ctx context.Context, wav []byte) (*verboseResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"temperature", strconv.FormatFloat(c.temperature, 'f', -1, 64)},
		// Disable the temperature fallback so decoding stays deterministic.
		{"temperature_inc", "0"},
		{"beam_size", strconv.Itoa(c.beamSize)},
		{"best_of", strconv.Itoa(c.bestOf)},
	}
	if c.language != "" {
		fields = append(fields, [2]string{"language", c.language})
	}
	if c.prompt != "" {
		fields = append(fields, [2]string{"prompt", c.prompt})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return &out, nil
}

// verboseResponse is the subset of whisper-server's verbose_json output the
// client reads.
type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	Text       string        `json:"text"`
	AvgLogprob float64       `json:"avg_logprob"`
	Words      []verboseWord `json:"words"`
}

type verboseWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// transcription converts the response. Words are rebuilt from the word
// pieces so that the text and the word list always have the same token
// count. Segments without word entries contribute their text with every
// token carrying exp(avg_logprob). A response without segments yields the
// top-level text with no confidences.
func (r *verboseResponse) transcription() *types.Transcription {
	if len(r.Segments) == 0 {
		return stt.Concat(types.Transcription{Text: r.Text, Language: r.Language})
	}

	var b stt.WordBuilder
	for _, seg := range r.Segments {
		b.Break()
		if len(seg.Words) == 0 {
			conf := math.Exp(seg.AvgLogprob)
			for _, tok := range types.Tokens(seg.Text) {
				b.Add(" "+tok, conf, 0, 0)
			}
			continue
		}
		for _, w := range seg.Words {
			b.Add(w.Word, w.Probability, seconds(w.Start), seconds(w.End))
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
		Language: r.Language,
	})
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
