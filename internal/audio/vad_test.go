package audio

import (
	"errors"
	"math/rand"
	"testing"
)

func newTestDetector(t *testing.T, cfg VADConfig) *VADDetector {
	t.Helper()
	vad, err := NewVADDetector(cfg, nil)
	if err != nil {
		t.Fatalf("NewVADDetector failed: %v", err)
	}
	return vad
}

func toneFrame(amplitude int16) []byte {
	samples := make([]int16, FrameSamples)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return SamplesToBytes(samples)
}

func TestVADDetector_SpeechStartNeedsMajority(t *testing.T) {
	vad := newTestDetector(t, DefaultVADConfig())

	// Five scattered speaking frames stay below the start majority of 6
	pattern := []bool{true, false, true, false, true, false, true, false, true, false}
	for i, speech := range pattern {
		if ev := vad.Observe(speech); ev.Type != VADNone {
			t.Fatalf("Frame %d: expected no event, got %v", i, ev.Type)
		}
	}

	ev := vad.Observe(true)
	if ev.Type != VADSpeechStart {
		t.Fatalf("Expected speech start on sixth speaking frame, got %v", ev.Type)
	}
	// Oldest speaking frame was the first one observed
	if ev.Lookback != 11 {
		t.Errorf("Expected lookback 11, got %d", ev.Lookback)
	}
	if !vad.IsSpeaking() {
		t.Error("Expected detector to be speaking")
	}
}

func TestVADDetector_SilentFrameNeverStarts(t *testing.T) {
	vad := newTestDetector(t, VADConfig{Aggressiveness: 3, WindowFrames: 10, StartMajority: 3, SilenceFrames: 5})

	vad.Observe(true)
	vad.Observe(true)
	if ev := vad.Observe(false); ev.Type != VADNone {
		t.Errorf("Expected silent frame not to start speech, got %v", ev.Type)
	}
	if ev := vad.Observe(true); ev.Type != VADSpeechStart {
		t.Errorf("Expected speech start, got %v", ev.Type)
	} else if ev.Lookback != 4 {
		t.Errorf("Expected lookback 4, got %d", ev.Lookback)
	}
}

func TestVADDetector_SpeechEndAfterSilenceRun(t *testing.T) {
	vad := newTestDetector(t, DefaultVADConfig())

	starts := 0
	for i := 0; i < 10; i++ {
		if vad.Observe(true).Type == VADSpeechStart {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("Expected exactly one speech start, got %d", starts)
	}

	for i := 1; i <= 14; i++ {
		ev := vad.Observe(false)
		if ev.Type != VADNone {
			t.Fatalf("Silent frame %d: expected no event, got %v", i, ev.Type)
		}
		if ev.SilenceRun != i {
			t.Errorf("Silent frame %d: expected silence run %d, got %d", i, i, ev.SilenceRun)
		}
	}

	if ev := vad.Observe(false); ev.Type != VADSpeechEnd {
		t.Fatalf("Expected speech end on 15th silent frame, got %v", ev.Type)
	}
	if vad.State() != VADListening {
		t.Errorf("Expected listening state, got %v", vad.State())
	}
}

func TestVADDetector_SpeechInterruptsSilenceRun(t *testing.T) {
	vad := newTestDetector(t, DefaultVADConfig())
	for i := 0; i < 6; i++ {
		vad.Observe(true)
	}

	for i := 0; i < 14; i++ {
		vad.Observe(false)
	}
	if ev := vad.Observe(true); ev.Type != VADNone {
		t.Errorf("Expected no event when speech resumes, got %v", ev.Type)
	}
	for i := 0; i < 14; i++ {
		if ev := vad.Observe(false); ev.Type != VADNone {
			t.Fatalf("Expected silence run to restart, got %v on frame %d", ev.Type, i+1)
		}
	}
	if ev := vad.Observe(false); ev.Type != VADSpeechEnd {
		t.Errorf("Expected speech end, got %v", ev.Type)
	}
}

func TestVADDetector_WindowClearedAfterSpeechEnd(t *testing.T) {
	vad := newTestDetector(t, DefaultVADConfig())
	for i := 0; i < 20; i++ {
		vad.Observe(true)
	}
	for i := 0; i < 15; i++ {
		vad.Observe(false)
	}

	// A single speaking frame must not ride on the previous utterance's history
	if ev := vad.Observe(true); ev.Type != VADNone {
		t.Errorf("Expected no immediate restart, got %v", ev.Type)
	}
}

func TestVADDetector_NoDuplicateEvents(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	configs := []VADConfig{
		DefaultVADConfig(),
		{Aggressiveness: 0, WindowFrames: 5, StartMajority: 1, SilenceFrames: 1},
		{Aggressiveness: 2, WindowFrames: 10, StartMajority: 10, SilenceFrames: 3},
	}

	for _, cfg := range configs {
		vad := newTestDetector(t, cfg)
		inSpeech := false
		for i := 0; i < 5000; i++ {
			ev := vad.Observe(rng.Intn(3) > 0)
			switch ev.Type {
			case VADSpeechStart:
				if inSpeech {
					t.Fatalf("Config %+v frame %d: duplicate speech start", cfg, i)
				}
				inSpeech = true
			case VADSpeechEnd:
				if !inSpeech {
					t.Fatalf("Config %+v frame %d: speech end without start", cfg, i)
				}
				inSpeech = false
			}
			if inSpeech != vad.IsSpeaking() {
				t.Fatalf("Config %+v frame %d: event stream disagrees with state", cfg, i)
			}
		}
	}
}

func TestVADDetector_SmoothedSignal(t *testing.T) {
	vad := newTestDetector(t, VADConfig{Aggressiveness: 3, WindowFrames: 4, StartMajority: 4, SilenceFrames: 10})

	if ev := vad.Observe(true); !ev.Smoothed {
		t.Error("Expected smoothed speech with one of one frames speaking")
	}
	if ev := vad.Observe(false); ev.Smoothed {
		t.Error("Expected no smoothed speech at one of two")
	}
	vad.Observe(true)
	if ev := vad.Observe(true); !ev.Smoothed {
		t.Error("Expected smoothed speech at three of four")
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := newTestDetector(t, DefaultVADConfig())
	for i := 0; i < 6; i++ {
		vad.Observe(true)
	}
	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected listening after reset")
	}
	for i := 0; i < 5; i++ {
		if ev := vad.Observe(true); ev.Type != VADNone {
			t.Fatalf("Expected history to be cleared by reset, got %v", ev.Type)
		}
	}
}

func TestVADDetector_ProcessFrame(t *testing.T) {
	vad := newTestDetector(t, DefaultVADConfig())

	loud := toneFrame(5000)
	quiet := toneFrame(10)

	var events []VADEventType
	for i := 0; i < 8; i++ {
		ev, err := vad.ProcessFrame(loud)
		if err != nil {
			t.Fatalf("ProcessFrame failed: %v", err)
		}
		if !ev.Speech {
			t.Errorf("Expected loud frame %d to classify as speech", i)
		}
		if ev.Type != VADNone {
			events = append(events, ev.Type)
		}
	}
	for i := 0; i < 15; i++ {
		ev, err := vad.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("ProcessFrame failed: %v", err)
		}
		if ev.Speech {
			t.Errorf("Expected quiet frame %d to classify as silence", i)
		}
		if ev.Type != VADNone {
			events = append(events, ev.Type)
		}
	}

	if len(events) != 2 || events[0] != VADSpeechStart || events[1] != VADSpeechEnd {
		t.Errorf("Expected [speech_start speech_end], got %v", events)
	}

	_, err := vad.ProcessFrame(make([]byte, 100))
	var codecErr *CodecError
	if !errors.As(err, &codecErr) {
		t.Errorf("Expected CodecError for short frame, got %v", err)
	}
}

func TestVADConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   VADConfig
		valid bool
	}{
		{"default", DefaultVADConfig(), true},
		{"zero window", VADConfig{Aggressiveness: 3, WindowFrames: 0, StartMajority: 1, SilenceFrames: 1}, false},
		{"majority above window", VADConfig{Aggressiveness: 3, WindowFrames: 5, StartMajority: 6, SilenceFrames: 1}, false},
		{"zero silence", VADConfig{Aggressiveness: 3, WindowFrames: 5, StartMajority: 2, SilenceFrames: 0}, false},
		{"aggressiveness too high", VADConfig{Aggressiveness: 4, WindowFrames: 5, StartMajority: 2, SilenceFrames: 1}, false},
	}

	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.valid && err != nil {
			t.Errorf("%s: expected valid, got %v", tt.name, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestEnergyClassifier_Tiers(t *testing.T) {
	if _, err := NewEnergyClassifier(-1); err == nil {
		t.Error("Expected error for negative aggressiveness")
	}

	lenient, _ := NewEnergyClassifier(0)
	strict, _ := NewEnergyClassifier(3)
	if lenient.Threshold() >= strict.Threshold() {
		t.Errorf("Expected tier 0 threshold below tier 3, got %v and %v", lenient.Threshold(), strict.Threshold())
	}

	frame := toneFrame(300)
	if speech, _ := lenient.IsSpeech(frame); !speech {
		t.Error("Expected lenient classifier to accept a 300 RMS frame")
	}
	if speech, _ := strict.IsSpeech(frame); speech {
		t.Error("Expected strict classifier to reject a 300 RMS frame")
	}
}
