package audio

import "fmt"

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	Aggressiveness int // classifier tier, 0 (lenient) to 3 (strict)
	WindowFrames   int // classification history used for the start decision (30 frames = 600ms)
	StartMajority  int // speaking frames within the window needed to declare speech-start
	SilenceFrames  int // consecutive silent frames needed to declare speech-end (15 frames = 300ms)
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Aggressiveness: 3,
		WindowFrames:   30,
		StartMajority:  6,
		SilenceFrames:  15,
	}
}

// Validate checks that the thresholds describe a usable state machine
func (c VADConfig) Validate() error {
	if c.WindowFrames <= 0 {
		return fmt.Errorf("vad window must be positive, got %d", c.WindowFrames)
	}
	if c.StartMajority <= 0 || c.StartMajority > c.WindowFrames {
		return fmt.Errorf("vad start majority must be in [1, %d], got %d", c.WindowFrames, c.StartMajority)
	}
	if c.SilenceFrames <= 0 {
		return fmt.Errorf("vad silence frames must be positive, got %d", c.SilenceFrames)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("vad aggressiveness must be between 0 and 3, got %d", c.Aggressiveness)
	}
	return nil
}

// VADState is the detector's position in the listening/speaking cycle
type VADState int

const (
	VADListening VADState = iota
	VADSpeaking
)

func (s VADState) String() string {
	if s == VADSpeaking {
		return "speaking"
	}
	return "listening"
}

// VADEventType marks a state transition, or its absence
type VADEventType int

const (
	VADNone VADEventType = iota
	VADSpeechStart
	VADSpeechEnd
)

func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// VADEvent is the detector's verdict for one frame
type VADEvent struct {
	Type       VADEventType
	Speech     bool // raw classification of this frame
	Smoothed   bool // windowed majority including this frame
	Lookback   int  // on speech-start: frames from the oldest speaking frame in the window up to this one
	SilenceRun int  // consecutive silent frames ending at this one
	SpeechRun  int  // consecutive speaking frames ending at this one
}

// VADDetector performs Voice Activity Detection for a single session.
// It is not safe for concurrent use; the owning session worker is its only caller.
type VADDetector struct {
	config     VADConfig
	classifier Classifier

	window   []bool
	head     int // next write position
	filled   int
	speaking int // speaking frames currently in the window

	silenceRun int
	speechRun  int
	state      VADState
}

// NewVADDetector creates a new VAD detector. A nil classifier selects the energy classifier
// for the configured aggressiveness.
func NewVADDetector(config VADConfig, classifier Classifier) (*VADDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		ec, err := NewEnergyClassifier(config.Aggressiveness)
		if err != nil {
			return nil, err
		}
		classifier = ec
	}
	return &VADDetector{
		config:     config,
		classifier: classifier,
		window:     make([]bool, config.WindowFrames),
	}, nil
}

// ProcessFrame classifies one linear PCM frame and advances the state machine
func (v *VADDetector) ProcessFrame(pcm []byte) (VADEvent, error) {
	speech, err := v.classifier.IsSpeech(pcm)
	if err != nil {
		return VADEvent{}, err
	}
	return v.Observe(speech), nil
}

// Observe advances the state machine with an already-made classification
func (v *VADDetector) Observe(speech bool) VADEvent {
	v.push(speech)

	if speech {
		v.speechRun++
		v.silenceRun = 0
	} else {
		v.silenceRun++
		v.speechRun = 0
	}

	ev := VADEvent{
		Speech:     speech,
		Smoothed:   v.speaking*2 > v.filled,
		SilenceRun: v.silenceRun,
		SpeechRun:  v.speechRun,
	}

	switch v.state {
	case VADListening:
		if speech && v.speaking >= v.config.StartMajority {
			v.state = VADSpeaking
			ev.Type = VADSpeechStart
			ev.Lookback = v.lookback()
		}
	case VADSpeaking:
		if v.silenceRun >= v.config.SilenceFrames {
			v.state = VADListening
			ev.Type = VADSpeechEnd
			// The next start needs fresh evidence, not the tail of this utterance
			v.clearWindow()
		}
	}

	return ev
}

func (v *VADDetector) push(speech bool) {
	if v.filled == len(v.window) {
		if v.window[v.head] {
			v.speaking--
		}
	} else {
		v.filled++
	}
	v.window[v.head] = speech
	if speech {
		v.speaking++
	}
	v.head = (v.head + 1) % len(v.window)
}

// lookback counts frames from the oldest speaking entry in the window to the newest entry
func (v *VADDetector) lookback() int {
	oldest := (v.head - v.filled + len(v.window)) % len(v.window)
	for i := 0; i < v.filled; i++ {
		if v.window[(oldest+i)%len(v.window)] {
			return v.filled - i
		}
	}
	return 0
}

func (v *VADDetector) clearWindow() {
	for i := range v.window {
		v.window[i] = false
	}
	v.head = 0
	v.filled = 0
	v.speaking = 0
}

// Reset returns the detector to an empty LISTENING state
func (v *VADDetector) Reset() {
	v.clearWindow()
	v.silenceRun = 0
	v.speechRun = 0
	v.state = VADListening
}

// State returns the current detector state
func (v *VADDetector) State() VADState {
	return v.state
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.state == VADSpeaking
}

// Config returns the thresholds the detector was built with
func (v *VADDetector) Config() VADConfig {
	return v.config
}
