package stt

import (
	"context"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
)

const googleProvider = "google"

// recognizer is the slice of the Cloud Speech client the transcriber uses
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
}

type speechClient struct {
	client *speech.Client
}

func (s speechClient) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return s.client.Recognize(ctx, req)
}

// GoogleTranscriber implements Transcriber with Cloud Speech-to-Text synchronous recognition
type GoogleTranscriber struct {
	client         recognizer
	closer         func() error
	language       string
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewGoogleTranscriber creates a transcriber using Application Default Credentials
func NewGoogleTranscriber(ctx context.Context, language string, cb *resilience.CircuitBreaker, logger zerolog.Logger) (*GoogleTranscriber, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleTranscriber{
		client:         speechClient{client: client},
		closer:         client.Close,
		language:       language,
		circuitBreaker: cb,
		logger:         logger.With().Str("component", "stt").Str("provider", googleProvider).Logger(),
	}, nil
}

// Name returns the provider name
func (g *GoogleTranscriber) Name() string {
	return googleProvider
}

// Close releases the underlying gRPC connection
func (g *GoogleTranscriber) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

// Transcribe sends one utterance to Cloud Speech
func (g *GoogleTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, encoding audio.Encoding) (string, error) {
	if err := validateInput(googleProvider, pcm, sampleRate, encoding); err != nil {
		return "", err
	}

	req := recognizeRequest(pcm, sampleRate, g.language)

	start := time.Now()
	var transcript string
	err := g.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := g.client.Recognize(ctx, req)
		if err != nil {
			return err
		}
		var parts []string
		for _, result := range resp.GetResults() {
			if alts := result.GetAlternatives(); len(alts) > 0 {
				parts = append(parts, alts[0].GetTranscript())
			}
		}
		transcript = joinTranscripts(parts)
		return nil
	})
	observability.RecordProviderRequest(googleProvider, err == nil)
	if err != nil {
		return "", &TranscriptionError{Provider: googleProvider, Err: err}
	}

	g.logger.Debug().
		Dur("latency", time.Since(start)).
		Str("transcript", transcript).
		Msg("Cloud Speech transcription complete")
	return transcript, nil
}

func recognizeRequest(pcm []byte, sampleRate int, language string) *speechpb.RecognizeRequest {
	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			AudioChannelCount:          1,
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
			Model:                      "phone_call",
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	}
}
