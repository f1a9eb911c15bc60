package audio

import (
	"fmt"
	"time"
)

// Telephony frame geometry: 8kHz narrowband, 20ms per frame
const (
	SampleRate       = 8000
	FrameDuration    = 20 * time.Millisecond
	FrameSamples     = SampleRate * int(FrameDuration/time.Millisecond) / 1000 // 160
	MulawFrameBytes  = FrameSamples                                           // one byte per sample
	LinearFrameBytes = FrameSamples * 2                                       // 16-bit little-endian
)

// Encoding identifies how the bytes of an AudioFrame are encoded
type Encoding int

const (
	// EncodingMulaw is G.711 μ-law, 8 bits per sample (Twilio "audio/x-mulaw")
	EncodingMulaw Encoding = iota
	// EncodingLinear16 is signed 16-bit little-endian linear PCM
	EncodingLinear16
)

func (e Encoding) String() string {
	switch e {
	case EncodingMulaw:
		return "mulaw"
	case EncodingLinear16:
		return "linear16"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// BytesPerSample returns the storage size of one sample
func (e Encoding) BytesPerSample() int {
	if e == EncodingLinear16 {
		return 2
	}
	return 1
}

// AudioFrame is one 20ms slice of call audio.
// Frames are treated as immutable once produced; stages hand them on rather than editing them.
type AudioFrame struct {
	SessionID string
	Seq       uint64
	Encoding  Encoding
	Data      []byte
}

// Duration returns the playback length of the frame at the telephony sample rate
func (f AudioFrame) Duration() time.Duration {
	samples := len(f.Data) / f.Encoding.BytesPerSample()
	return time.Duration(samples) * time.Second / SampleRate
}
