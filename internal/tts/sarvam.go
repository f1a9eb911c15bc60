package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
)

const (
	sarvamProvider = "sarvam"

	// DefaultSarvamURL is the Sarvam text-to-speech endpoint
	DefaultSarvamURL = "https://api.sarvam.ai/text-to-speech"
)

// SarvamConfig configures the Sarvam synthesizer
type SarvamConfig struct {
	APIKey   string
	Speaker  string
	Language string
	Model    string // defaults to bulbul:v2
	URL      string // defaults to DefaultSarvamURL
}

type sarvamRequest struct {
	Inputs             []string `json:"inputs"`
	TargetLanguageCode string   `json:"target_language_code"`
	Speaker            string   `json:"speaker"`
	SpeechSampleRate   int      `json:"speech_sample_rate"`
	Pace               float64  `json:"pace"`
	Model              string   `json:"model"`
}

type sarvamResponse struct {
	Audios []string `json:"audios"`
}

// SarvamSynthesizer implements Synthesizer with Sarvam's request/response API.
// Audio is requested at the telephony rate and returned as a single chunk.
type SarvamSynthesizer struct {
	config         SarvamConfig
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// NewSarvamSynthesizer creates a Sarvam synthesizer guarded by cb and retried with rc
func NewSarvamSynthesizer(cfg SarvamConfig, cb *resilience.CircuitBreaker, rc *resilience.RetryConfig, logger zerolog.Logger) *SarvamSynthesizer {
	if cfg.URL == "" {
		cfg.URL = DefaultSarvamURL
	}
	if cfg.Model == "" {
		cfg.Model = "bulbul:v2"
	}
	return &SarvamSynthesizer{
		config:         cfg,
		httpClient:     &http.Client{},
		circuitBreaker: cb,
		retryConfig:    rc,
		logger:         logger.With().Str("component", "tts").Str("provider", sarvamProvider).Logger(),
	}
}

// Name returns the provider name
func (s *SarvamSynthesizer) Name() string {
	return sarvamProvider
}

// Synthesize requests the whole phrase and emits it as one chunk
func (s *SarvamSynthesizer) Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error) {
	if err := validateText(sarvamProvider, text); err != nil {
		return nil, err
	}

	body, err := json.Marshal(sarvamRequest{
		Inputs:             []string{text},
		TargetLanguageCode: s.config.Language,
		Speaker:            s.config.Speaker,
		SpeechSampleRate:   audio.SampleRate,
		Pace:               1.0,
		Model:              s.config.Model,
	})
	if err != nil {
		return nil, &SynthesisError{Provider: sarvamProvider, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	start := time.Now()
	var wav []byte
	err = s.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			data, err := s.request(ctx, body)
			if err != nil {
				return err
			}
			wav = data
			return nil
		}, s.retryConfig, resilience.IsRetryableNetworkError)
	})
	observability.RecordProviderRequest(sarvamProvider, err == nil)
	if err != nil {
		return nil, &SynthesisError{Provider: sarvamProvider, Err: err}
	}

	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, &SynthesisError{Provider: sarvamProvider, Err: err}
	}

	s.logger.Debug().Int("bytes", len(pcm)).Int("sample_rate", rate).Dur("latency", time.Since(start)).Msg("Synthesis complete")

	ch := make(chan AudioChunk, 1)
	ch <- AudioChunk{Data: pcm, SampleRate: rate, Encoding: audio.EncodingLinear16}
	close(ch)
	return ch, nil
}

func (s *SarvamSynthesizer) request(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Subscription-Key", s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("sarvam API returned status %d: %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}

	var result sarvamResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Audios) == 0 || result.Audios[0] == "" {
		return nil, errors.New("no audio in response")
	}

	wav, err := base64.StdEncoding.DecodeString(result.Audios[0])
	if err != nil {
		return nil, fmt.Errorf("invalid audio encoding: %w", err)
	}
	return wav, nil
}
