package stt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
)

const deepgramProvider = "deepgram"

// DeepgramConfig selects the Deepgram model and language
type DeepgramConfig struct {
	APIKey   string
	Model    string // nova-2, enhanced, base
	Language string
	Host     string // optional endpoint override, e.g. a self-hosted deployment
}

// DeepgramTranscriber implements Transcriber with Deepgram's pre-recorded REST API.
// Each utterance is posted as a small WAV file once speech has ended.
type DeepgramTranscriber struct {
	config         DeepgramConfig
	client         *prerecorded.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramTranscriber creates a Deepgram transcriber guarded by cb
func NewDeepgramTranscriber(cfg DeepgramConfig, cb *resilience.CircuitBreaker, logger zerolog.Logger) *DeepgramTranscriber {
	c := listenClient.NewREST(cfg.APIKey, &interfaces.ClientOptions{Host: cfg.Host})
	return &DeepgramTranscriber{
		config:         cfg,
		client:         prerecorded.New(c),
		circuitBreaker: cb,
		logger:         logger.With().Str("component", "stt").Str("provider", deepgramProvider).Logger(),
	}
}

// Name returns the provider name
func (d *DeepgramTranscriber) Name() string {
	return deepgramProvider
}

// Transcribe sends one utterance to Deepgram
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, encoding audio.Encoding) (string, error) {
	if err := validateInput(deepgramProvider, pcm, sampleRate, encoding); err != nil {
		return "", err
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.config.Model,
		Language:    d.config.Language,
		Punctuate:   true,
		SmartFormat: true,
	}

	start := time.Now()
	var transcript string
	err := d.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		res, err := d.client.FromStream(ctx, bytes.NewReader(audio.EncodeWAV(pcm, sampleRate)), options)
		if err != nil {
			return err
		}
		if res == nil || res.Results == nil {
			return fmt.Errorf("response carried no results")
		}

		var parts []string
		for _, channel := range res.Results.Channels {
			if len(channel.Alternatives) > 0 {
				parts = append(parts, channel.Alternatives[0].Transcript)
			}
		}
		transcript = joinTranscripts(parts)
		return nil
	})
	observability.RecordProviderRequest(deepgramProvider, err == nil)
	if err != nil {
		return "", &TranscriptionError{Provider: deepgramProvider, Err: err}
	}

	d.logger.Debug().
		Dur("latency", time.Since(start)).
		Int("audio_bytes", len(pcm)).
		Str("transcript", transcript).
		Msg("Deepgram transcription complete")
	return transcript, nil
}
