package session

import (
	"context"
	"time"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/config"
	"github.com/lexiqai/voice-turn-gateway/internal/llm"
	"github.com/lexiqai/voice-turn-gateway/internal/stt"
	"github.com/lexiqai/voice-turn-gateway/internal/tts"
)

// Config holds the per-session turn parameters
type Config struct {
	VAD                    audio.VADConfig
	MinUtterance           time.Duration
	StageTimeout           time.Duration
	MaxConsecutiveFailures int
	InboundQueueSize       int
	BargeInEnabled         bool
	GreetingText           string
	ApologyText            string
	SystemPrompt           string
	HistoryMaxMessages     int
}

// DefaultConfig returns the tuned defaults
func DefaultConfig() Config {
	return Config{
		VAD:                    audio.DefaultVADConfig(),
		MinUtterance:           400 * time.Millisecond,
		StageTimeout:           15 * time.Second,
		MaxConsecutiveFailures: 3,
		InboundQueueSize:       256,
		SystemPrompt:           config.DefaultSystemPrompt,
		HistoryMaxMessages:     10,
	}
}

// NewConfig derives the session configuration from the application config
func NewConfig(c *config.Config) Config {
	return Config{
		VAD: audio.VADConfig{
			Aggressiveness: c.VADAggressiveness,
			WindowFrames:   c.VADWindowFrames,
			StartMajority:  c.VADStartMajority,
			SilenceFrames:  c.VADSilenceFrames,
		},
		MinUtterance:           time.Duration(c.MinUtteranceMs) * time.Millisecond,
		StageTimeout:           time.Duration(c.StageTimeoutSeconds) * time.Second,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		InboundQueueSize:       c.InboundQueueSize,
		BargeInEnabled:         c.BargeInEnabled,
		GreetingText:           c.GreetingText,
		ApologyText:            c.ApologyText,
		SystemPrompt:           c.SystemPrompt,
		HistoryMaxMessages:     c.HistoryMaxMessages,
	}
}

// Services are the remote collaborators a turn calls into
type Services struct {
	Transcriber stt.Transcriber
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
}

// Transport carries outbound audio to the telephony edge. Calls from one session
// are made from a single goroutine at a time, in playback order.
type Transport interface {
	// SendAudio transmits one μ-law frame
	SendAudio(ctx context.Context, frame []byte) error

	// SendMark asks the far end to report when playback reaches this point
	SendMark(ctx context.Context, name string) error

	// Clear drops audio buffered at the far end
	Clear(ctx context.Context) error
}
