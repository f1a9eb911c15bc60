package audio

import (
	"fmt"
)

// G.711 μ-law constants (16-bit linear variant)
const (
	mulawBias = 0x84  // 132, added before segment search
	mulawClip = 32635 // largest magnitude that survives the bias without overflow
)

// CodecError reports audio that cannot be transcoded as a whole frame
type CodecError struct {
	Op       string
	Length   int
	Expected int
	Reason   string
}

func (e *CodecError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("codec %s: %s (length %d)", e.Op, e.Reason, e.Length)
	}
	return fmt.Sprintf("codec %s: frame length %d, expected %d", e.Op, e.Length, e.Expected)
}

// Decode converts exactly one μ-law frame (160 bytes) into linear PCM (320 bytes)
func Decode(mulaw []byte) ([]byte, error) {
	if len(mulaw) != MulawFrameBytes {
		return nil, &CodecError{Op: "decode", Length: len(mulaw), Expected: MulawFrameBytes}
	}
	return MulawToPCM(mulaw), nil
}

// Encode converts exactly one linear PCM frame (320 bytes) into μ-law (160 bytes)
func Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != LinearFrameBytes {
		return nil, &CodecError{Op: "encode", Length: len(pcm), Expected: LinearFrameBytes}
	}
	return PCMToMulaw(pcm)
}

// DecodeFrame decodes a μ-law AudioFrame, keeping its session and sequence
func DecodeFrame(f AudioFrame) (AudioFrame, error) {
	if f.Encoding != EncodingMulaw {
		return AudioFrame{}, &CodecError{Op: "decode", Length: len(f.Data), Reason: "frame is " + f.Encoding.String()}
	}
	pcm, err := Decode(f.Data)
	if err != nil {
		return AudioFrame{}, err
	}
	return AudioFrame{SessionID: f.SessionID, Seq: f.Seq, Encoding: EncodingLinear16, Data: pcm}, nil
}

// EncodeFrame encodes a linear AudioFrame into μ-law
func EncodeFrame(f AudioFrame) (AudioFrame, error) {
	if f.Encoding != EncodingLinear16 {
		return AudioFrame{}, &CodecError{Op: "encode", Length: len(f.Data), Reason: "frame is " + f.Encoding.String()}
	}
	mulaw, err := Encode(f.Data)
	if err != nil {
		return AudioFrame{}, err
	}
	return AudioFrame{SessionID: f.SessionID, Seq: f.Seq, Encoding: EncodingMulaw, Data: mulaw}, nil
}

// MulawToPCM converts any number of μ-law samples to 16-bit little-endian PCM
func MulawToPCM(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		sample := mulawToLinear(b)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(uint16(sample) >> 8)
	}
	return pcm
}

// PCMToMulaw converts 16-bit little-endian PCM of any even length to μ-law
func PCMToMulaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, &CodecError{Op: "encode", Length: len(pcm), Reason: "odd byte count for 16-bit samples"}
	}
	mulaw := make([]byte, len(pcm)/2)
	for i := range mulaw {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		mulaw[i] = linearToMulaw(sample)
	}
	return mulaw, nil
}

// linearToMulaw compands one 16-bit sample into an 8-bit μ-law code word
func linearToMulaw(sample int16) byte {
	magnitude := int32(sample)
	var sign byte
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > mulawClip {
		magnitude = mulawClip
	}
	magnitude += mulawBias

	// Segment is the position of the highest set bit above bit 7
	exponent := byte(7)
	for mask := int32(0x4000); magnitude&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((magnitude >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

// mulawToLinear expands an 8-bit μ-law code word into a 16-bit sample
func mulawToLinear(code byte) int16 {
	code = ^code
	exponent := int32(code>>4) & 0x07
	mantissa := int32(code) & 0x0F

	magnitude := ((mantissa << 3) + mulawBias) << exponent
	magnitude -= mulawBias

	if code&0x80 != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
