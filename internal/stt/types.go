package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
)

// ErrEmptyAudio is wrapped by a TranscriptionError when there is nothing to send
var ErrEmptyAudio = errors.New("empty audio")

// Transcriber turns one finished utterance into text
type Transcriber interface {
	// Transcribe sends linear PCM audio and returns the transcript, which may be empty
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, encoding audio.Encoding) (string, error)

	// Name identifies the provider in logs and metrics
	Name() string
}

// TranscriptionError reports a failed transcription
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (%s): %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// validateInput rejects audio no provider could transcribe
func validateInput(provider string, pcm []byte, sampleRate int, encoding audio.Encoding) error {
	if len(pcm) == 0 {
		return &TranscriptionError{Provider: provider, Err: ErrEmptyAudio}
	}
	if encoding != audio.EncodingLinear16 {
		return &TranscriptionError{Provider: provider, Err: fmt.Errorf("unsupported encoding %s", encoding)}
	}
	if len(pcm)%2 != 0 {
		return &TranscriptionError{Provider: provider, Err: fmt.Errorf("corrupt audio: odd byte count %d", len(pcm))}
	}
	if sampleRate <= 0 {
		return &TranscriptionError{Provider: provider, Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}
	return nil
}

func joinTranscripts(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}
