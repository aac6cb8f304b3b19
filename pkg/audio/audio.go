// Package audio decodes stored call recordings into the 16-bit PCM format
// the speech recognisers consume.
//
// Recordings arrive as WAV or MP3 byte blobs. [Decode] sniffs the container,
// decodes it into signed 16-bit little-endian PCM and [PCM.Normalize] folds
// it down to mono at the recogniser sample rate.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// SpeechSampleRate is the sample rate expected by every re-transcription
// backend.
const SpeechSampleRate = 16000

var (
	// ErrNoAudio is returned for empty input.
	ErrNoAudio = errors.New("audio: no audio data")

	// ErrUnsupportedFormat is returned when the container is neither WAV nor
	// MP3.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

// Format describes the sample rate and channel count of PCM data.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// PCM is interleaved signed 16-bit little-endian audio.
type PCM struct {
	Data []byte
	Format
}

// Duration reports the playback length of p.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Data) / (2 * p.Channels)
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// Normalize converts p to mono at sampleRate. Down-mixing happens before
// resampling so that only one channel is interpolated.
func (p PCM) Normalize(sampleRate int) PCM {
	data := p.Data
	if p.Channels > 1 {
		data = DownmixMono16(data, p.Channels)
	}
	data = ResampleMono16(data, p.SampleRate, sampleRate)
	return PCM{Data: data, Format: Format{SampleRate: sampleRate, Channels: 1}}
}

// Container identifies an encoded audio format.
type Container string

const (
	ContainerUnknown Container = ""
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
)

// Sniff inspects the leading bytes of data.
func Sniff(data []byte) Container {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return ContainerWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync.
		return ContainerMP3
	}
	return ContainerUnknown
}

// Decode decodes a WAV or MP3 recording into PCM at its native format.
func Decode(data []byte) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, ErrNoAudio
	}
	switch Sniff(data) {
	case ContainerWAV:
		return decodeWAV(data)
	case ContainerMP3:
		return decodeMP3(data)
	}
	return PCM{}, ErrUnsupportedFormat
}

// DecodeSpeech decodes data and normalises it to 16 kHz mono.
func DecodeSpeech(data []byte) (PCM, error) {
	p, err := Decode(data)
	if err != nil {
		return PCM{}, err
	}
	return p.Normalize(SpeechSampleRate), nil
}
