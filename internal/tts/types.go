package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
)

// ErrEmptyText is wrapped by a SynthesisError when there is nothing to speak
var ErrEmptyText = errors.New("empty text")

// AudioChunk is one piece of synthesized audio. A chunk with Err set is the last one.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Encoding   audio.Encoding
	Err        error
}

// Synthesizer turns text into a finite stream of audio chunks.
// The channel is closed when synthesis ends.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error)
	Name() string
}

// SynthesisError reports a failed synthesis request or stream
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed (%s): %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

func validateText(provider, text string) error {
	if strings.TrimSpace(text) == "" {
		return &SynthesisError{Provider: provider, Err: ErrEmptyText}
	}
	return nil
}

// send delivers a chunk unless the consumer has gone away
func send(ctx context.Context, ch chan<- AudioChunk, chunk AudioChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a chunk stream into one buffer. All chunks must share a format.
func Collect(ctx context.Context, chunks <-chan AudioChunk) ([]byte, int, error) {
	var data []byte
	rate := 0
	for {
		select {
		case <-ctx.Done():
			return data, rate, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return data, rate, nil
			}
			if chunk.Err != nil {
				return data, rate, chunk.Err
			}
			if rate == 0 {
				rate = chunk.SampleRate
			} else if chunk.SampleRate != rate {
				return data, rate, fmt.Errorf("sample rate changed mid-stream: %d to %d", rate, chunk.SampleRate)
			}
			data = append(data, chunk.Data...)
		}
	}
}
