package audio_test

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestSniff(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(audio.PCM{Format: audio.Format{SampleRate: 16000, Channels: 1}})
	tests := []struct {
		name string
		data []byte
		want audio.Container
	}{
		{"wav", wav, audio.ContainerWAV},
		{"id3", []byte("ID3\x04\x00"), audio.ContainerMP3},
		{"frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, audio.ContainerMP3},
		{"text", []byte("hello world"), audio.ContainerUnknown},
		{"short", []byte{0xFF}, audio.ContainerUnknown},
	}
	for _, tc := range tests {
		if got := audio.Sniff(tc.data); got != tc.want {
			t.Errorf("%s: Sniff = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	if _, err := audio.Decode(nil); !errors.Is(err, audio.ErrNoAudio) {
		t.Errorf("Decode(nil) err = %v, want ErrNoAudio", err)
	}
	if _, err := audio.Decode([]byte("not audio")); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("Decode(text) err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1000, -1000, 32767, -32768, 42}
	in := audio.PCM{
		Data:   samplesToBytes(samples),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	}
	got, err := audio.Decode(audio.EncodeWAV(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Format != in.Format {
		t.Errorf("format = %v, want %v", got.Format, in.Format)
	}
	if !slices.Equal(bytesToSamples(got.Data), samples) {
		t.Errorf("samples = %v, want %v", bytesToSamples(got.Data), samples)
	}
}

func TestDecodeSpeech_NormalizesStereo(t *testing.T) {
	t.Parallel()

	// 100 ms of 32 kHz stereo.
	frames := 3200
	samples := make([]int16, frames*2)
	for i := range frames {
		samples[i*2] = 1000
		samples[i*2+1] = 3000
	}
	wav := audio.EncodeWAV(audio.PCM{
		Data:   samplesToBytes(samples),
		Format: audio.Format{SampleRate: 32000, Channels: 2},
	})

	got, err := audio.DecodeSpeech(wav)
	if err != nil {
		t.Fatalf("DecodeSpeech: %v", err)
	}
	if got.SampleRate != audio.SpeechSampleRate || got.Channels != 1 {
		t.Fatalf("format = %v, want 16000Hz mono", got.Format)
	}
	if d := got.Duration(); d != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", d)
	}
	for i, s := range bytesToSamples(got.Data) {
		if s != 2000 {
			t.Fatalf("sample %d = %d, want 2000", i, s)
		}
	}
}

func TestDownmixMono16(t *testing.T) {
	t.Parallel()

	stereo := samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})
	got := bytesToSamples(audio.DownmixMono16(stereo, 2))
	if want := []int16{150, -150, 32767}; !slices.Equal(got, want) {
		t.Errorf("stereo = %v, want %v", got, want)
	}

	three := samplesToBytes([]int16{30, 60, 90, 0})
	got = bytesToSamples(audio.DownmixMono16(three, 3))
	if want := []int16{60}; !slices.Equal(got, want) {
		t.Errorf("3ch = %v, want %v (partial frame dropped)", got, want)
	}

	mono := samplesToBytes([]int16{1, 2})
	if out := audio.DownmixMono16(mono, 1); &out[0] != &mono[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		samples          int
		srcRate, dstRate int
		wantSamples      int
	}{
		{"48k to 16k", 480, 48000, 16000, 160},
		{"8k to 16k", 80, 8000, 16000, 160},
		{"same rate", 100, 16000, 16000, 100},
		{"invalid rate", 100, 0, 16000, 100},
	}
	for _, tc := range tests {
		pcm := make([]byte, tc.samples*2)
		got := audio.ResampleMono16(pcm, tc.srcRate, tc.dstRate)
		if len(got)/2 != tc.wantSamples {
			t.Errorf("%s: samples = %d, want %d", tc.name, len(got)/2, tc.wantSamples)
		}
	}

	// Upsampling interpolates between neighbours.
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{0, 1000}), 8000, 16000))
	if want := []int16{0, 500, 1000, 1000}; !slices.Equal(got, want) {
		t.Errorf("interpolated = %v, want %v", got, want)
	}
}

func TestFloat32(t *testing.T) {
	t.Parallel()

	got := audio.Float32(samplesToBytes([]int16{0, 16384, -32768}))
	if want := []float32{0, 0.5, -1}; !slices.Equal(got, want) {
		t.Errorf("Float32 = %v, want %v", got, want)
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	for f, want := range map[audio.Format]string{
		{SampleRate: 16000, Channels: 1}: "16000Hz mono",
		{SampleRate: 44100, Channels: 2}: "44100Hz stereo",
		{SampleRate: 48000, Channels: 6}: "48000Hz 6ch",
	} {
		if got := f.String(); got != want {
			t.Errorf("String = %q, want %q", got, want)
		}
	}
}
