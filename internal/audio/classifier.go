package audio

import "fmt"

// Classifier makes the raw per-frame speech/non-speech decision the VAD smooths
type Classifier interface {
	IsSpeech(pcm []byte) (bool, error)
}

// energyThresholds maps aggressiveness tiers 0-3 to RMS thresholds.
// Higher tiers reject more background noise at the cost of quiet speakers.
var energyThresholds = [...]float64{200, 300, 400, 500}

// EnergyClassifier labels a frame as speech when its RMS energy clears the tier threshold
type EnergyClassifier struct {
	threshold float64
}

// NewEnergyClassifier creates a classifier for the given aggressiveness tier (0-3)
func NewEnergyClassifier(aggressiveness int) (*EnergyClassifier, error) {
	if aggressiveness < 0 || aggressiveness >= len(energyThresholds) {
		return nil, fmt.Errorf("vad aggressiveness must be between 0 and %d, got %d", len(energyThresholds)-1, aggressiveness)
	}
	return &EnergyClassifier{threshold: energyThresholds[aggressiveness]}, nil
}

// Threshold returns the RMS level above which a frame counts as speech
func (c *EnergyClassifier) Threshold() float64 {
	return c.threshold
}

// IsSpeech classifies one linear PCM frame
func (c *EnergyClassifier) IsSpeech(pcm []byte) (bool, error) {
	if len(pcm) != LinearFrameBytes {
		return false, &CodecError{Op: "classify", Length: len(pcm), Expected: LinearFrameBytes}
	}
	return CalculateRMS(BytesToSamples(pcm)) > c.threshold, nil
}
