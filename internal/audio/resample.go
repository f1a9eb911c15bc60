package audio

import (
	"fmt"
	"math"
)

// Resample converts 16-bit little-endian PCM between sample rates.
// Linear interpolation is adequate for speech headed into an 8kHz μ-law leg.
func Resample(pcm []byte, inputRate, outputRate int) ([]byte, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	if inputRate == outputRate || len(pcm) == 0 {
		return pcm, nil
	}
	return SamplesToBytes(resample(BytesToSamples(pcm), inputRate, outputRate)), nil
}

func resample(samples []int16, inputRate, outputRate int) []int16 {
	ratio := float64(outputRate) / float64(inputRate)
	outputLength := len(samples) * outputRate / inputRate
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// Resampler converts a PCM stream between sample rates chunk by chunk. It carries
// unconsumed input and the interpolation phase across writes, so the output matches
// a single Resample call over the whole stream.
type Resampler struct {
	inputRate  int
	outputRate int

	pending []int16 // input not yet passed by the output position
	pos     int64   // next output position relative to pending[0], in 1/outputRate input samples
	odd     []byte  // trailing byte of a split sample
}

// NewResampler creates a stream resampler
func NewResampler(inputRate, outputRate int) (*Resampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	return &Resampler{inputRate: inputRate, outputRate: outputRate}, nil
}

// InputRate returns the rate the resampler expects
func (r *Resampler) InputRate() int {
	return r.inputRate
}

// Write consumes the next piece of 16-bit little-endian PCM and returns the output
// samples that can be produced so far. Pieces may split a sample.
func (r *Resampler) Write(pcm []byte) []byte {
	if len(r.odd) > 0 {
		pcm = append(r.odd, pcm...)
		r.odd = nil
	}
	if len(pcm)%2 != 0 {
		r.odd = []byte{pcm[len(pcm)-1]}
		pcm = pcm[:len(pcm)-1]
	}
	r.pending = append(r.pending, BytesToSamples(pcm)...)
	if r.inputRate == r.outputRate {
		out := SamplesToBytes(r.pending)
		r.pending = r.pending[:0]
		return out
	}
	return SamplesToBytes(r.drain(false))
}

// Flush returns the output still owed for the tail of the stream and resets the phase
func (r *Resampler) Flush() []byte {
	out := SamplesToBytes(r.drain(true))
	r.pending = r.pending[:0]
	r.pos = 0
	r.odd = nil
	return out
}

// drain emits every output sample whose interpolation neighbours are buffered. At
// the end of the stream the last input sample stands in for the missing neighbour.
func (r *Resampler) drain(final bool) []int16 {
	rate := int64(r.outputRate)
	n := int64(len(r.pending))
	var out []int16
	for {
		idx0 := r.pos / rate
		if idx0 >= n {
			break
		}
		idx1 := idx0 + 1
		if idx1 >= n {
			if !final {
				break
			}
			idx1 = n - 1
		}
		fraction := float64(r.pos%rate) / float64(rate)
		out = append(out, int16(float64(r.pending[idx0])*(1.0-fraction)+float64(r.pending[idx1])*fraction))
		r.pos += int64(r.inputRate)
	}

	consumed := r.pos / rate
	if consumed > n {
		consumed = n
	}
	r.pending = append(r.pending[:0], r.pending[consumed:]...)
	r.pos -= consumed * rate
	return out
}

// BytesToSamples reinterprets little-endian PCM bytes as samples; a trailing odd byte is ignored
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
	}
	return samples
}

// SamplesToBytes serializes samples as little-endian PCM
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(uint16(s) >> 8)
	}
	return pcm
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
