package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-audio/wav"
)

func decodeWAV(data []byte) (PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return PCM{}, fmt.Errorf("audio: invalid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return PCM{}, fmt.Errorf("audio: wav has no format chunk")
	}

	depth := int(d.BitDepth)
	out := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(v, depth)))
	}
	return PCM{
		Data:   out,
		Format: Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels},
	}, nil
}

// toInt16 rescales an integer sample of the given bit depth. 8-bit WAV
// samples are unsigned.
func toInt16(v, depth int) int16 {
	switch {
	case depth == 8:
		return int16((v - 128) << 8)
	case depth > 16:
		return int16(v >> (depth - 16))
	}
	return int16(v)
}

// EncodeWAV wraps mono or interleaved 16-bit PCM in a canonical 44-byte
// RIFF/WAVE header.
func EncodeWAV(p PCM) []byte {
	const bitsPerSample = 16
	byteRate := p.SampleRate * p.Channels * bitsPerSample / 8
	blockAlign := p.Channels * bitsPerSample / 8
	dataSize := len(p.Data)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(p.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(p.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], p.Data)
	return buf
}
