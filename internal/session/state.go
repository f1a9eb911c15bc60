package session

import (
	"errors"
	"fmt"
)

// TurnState is the position of a session in the turn cycle
type TurnState int32

const (
	StateListening TurnState = iota
	StateTranscribing
	StateGenerating
	StateSynthesizing
	StatePlaying
	StateClosed
)

func (s TurnState) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateGenerating:
		return "GENERATING"
	case StateSynthesizing:
		return "SYNTHESIZING"
	case StatePlaying:
		return "PLAYING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("TurnState(%d)", int32(s))
	}
}

// Stage names used in errors, logs and metrics
const (
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StagePlay       = "play"
)

var (
	// ErrSessionClosed is returned when delivering to or opening on a closed session
	ErrSessionClosed = errors.New("session closed")

	// ErrTooManyFailures ends a session after consecutive failed turns
	ErrTooManyFailures = errors.New("too many consecutive turn failures")

	errInterrupted = errors.New("turn interrupted")
)

// StageError carries the stage a turn failed in
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// TurnResult is what a finished turn reports back to its session
type TurnResult struct {
	Transcript  string
	Reply       string
	AudioFrames int
	Outcome     string
	Err         error
}
