package llm

import (
	"context"
	"fmt"
)

// Chunk is one increment of generated text. A chunk with Err set is the last one.
type Chunk struct {
	Text string
	Err  error
}

// Generator produces a reply for the conversation so far as a finite stream of text chunks.
// The returned channel is closed when generation ends; it cannot be restarted.
type Generator interface {
	Generate(ctx context.Context, conv *Conversation) (<-chan Chunk, error)
	Name() string
}

// GenerationError reports a failed generation request or stream
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Collect drains a chunk stream into a single string
func Collect(ctx context.Context, chunks <-chan Chunk) (string, error) {
	var text []byte
	for {
		select {
		case <-ctx.Done():
			return string(text), ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return string(text), nil
			}
			if chunk.Err != nil {
				return string(text), chunk.Err
			}
			text = append(text, chunk.Text...)
		}
	}
}

// send delivers a chunk unless the consumer has gone away
func send(ctx context.Context, ch chan<- Chunk, chunk Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
