package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always produces interleaved 16-bit stereo.
const mp3Channels = 2

func decodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("audio: open mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// Drop a trailing partial frame.
	pcm = pcm[:len(pcm)-len(pcm)%(2*mp3Channels)]
	return PCM{
		Data:   pcm,
		Format: Format{SampleRate: dec.SampleRate(), Channels: mp3Channels},
	}, nil
}
