package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned when data does not carry a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

const wavHeaderSize = 44

// EncodeWAV wraps mono 16-bit PCM in a canonical 44-byte RIFF header
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV extracts mono 16-bit PCM and its sample rate from a WAV file.
// Stereo input is down-mixed; μ-law WAV (format 7) is expanded to linear.
func DecodeWAV(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		format        uint16
		channels      uint16
		sampleRate    uint32
		bitsPerSample uint16
		haveFmt       bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) {
			// Streaming writers leave the data size unset; take what is there
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, 0, fmt.Errorf("wav fmt chunk too short: %d bytes", end-body)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			sampleRate = binary.LittleEndian.Uint32(data[body+4:])
			bitsPerSample = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("wav data chunk before fmt chunk")
			}
			pcm, err := toMonoLinear(data[body:end], format, channels, bitsPerSample)
			if err != nil {
				return nil, 0, err
			}
			return pcm, int(sampleRate), nil
		}

		// Chunks are word aligned
		offset = end + size%2
	}

	return nil, 0, fmt.Errorf("wav data chunk not found")
}

func toMonoLinear(raw []byte, format, channels, bitsPerSample uint16) ([]byte, error) {
	var pcm []byte
	switch {
	case format == 1 && bitsPerSample == 16:
		pcm = raw[:len(raw)-len(raw)%2]
	case format == 7 && bitsPerSample == 8:
		pcm = MulawToPCM(raw)
	default:
		return nil, fmt.Errorf("unsupported wav format %d with %d bits per sample", format, bitsPerSample)
	}

	if channels <= 1 {
		return pcm, nil
	}

	samples := BytesToSamples(pcm)
	frames := len(samples) / int(channels)
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < int(channels); c++ {
			sum += int(samples[i*int(channels)+c])
		}
		mono[i] = int16(sum / int(channels))
	}
	return SamplesToBytes(mono), nil
}
