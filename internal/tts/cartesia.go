package tts

import (
	"bytes"
	"context"
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
	cartesiaProvider = "cartesia"

	// DefaultCartesiaURL is the Cartesia byte-stream endpoint
	DefaultCartesiaURL = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion    = "2024-06-10"

	// 100ms of 24kHz PCM16
	cartesiaReadSize = 4800
)

// CartesiaConfig configures the Cartesia synthesizer
type CartesiaConfig struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	SampleRate int
	Language   string
	URL        string // defaults to DefaultCartesiaURL
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaRequest represents the request payload for Cartesia TTS API
type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// CartesiaSynthesizer implements Synthesizer with Cartesia's raw PCM byte stream.
// Audio is forwarded as it arrives, so playback can start before synthesis ends.
type CartesiaSynthesizer struct {
	config         CartesiaConfig
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewCartesiaSynthesizer creates a Cartesia synthesizer guarded by cb
func NewCartesiaSynthesizer(cfg CartesiaConfig, cb *resilience.CircuitBreaker, logger zerolog.Logger) *CartesiaSynthesizer {
	if cfg.URL == "" {
		cfg.URL = DefaultCartesiaURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &CartesiaSynthesizer{
		config:         cfg,
		httpClient:     &http.Client{},
		circuitBreaker: cb,
		logger:         logger.With().Str("component", "tts").Str("provider", cartesiaProvider).Logger(),
	}
}

// Name returns the provider name
func (c *CartesiaSynthesizer) Name() string {
	return cartesiaProvider
}

// Synthesize converts text to PCM16 at the configured sample rate and streams it
func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error) {
	if err := validateText(cartesiaProvider, text); err != nil {
		return nil, err
	}

	body, err := json.Marshal(cartesiaRequest{
		ModelID:    c.config.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.config.VoiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.config.SampleRate,
		},
		Language: c.config.Language,
	})
	if err != nil {
		return nil, &SynthesisError{Provider: cartesiaProvider, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	start := time.Now()
	var resp *http.Response
	err = c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", c.config.APIKey)
		req.Header.Set("Cartesia-Version", cartesiaVersion)

		r, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		if r.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			r.Body.Close()
			return fmt.Errorf("cartesia API returned status %d: %s", r.StatusCode, msg)
		}
		resp = r
		return nil
	})
	observability.RecordProviderRequest(cartesiaProvider, err == nil)
	if err != nil {
		return nil, &SynthesisError{Provider: cartesiaProvider, Err: err}
	}

	ch := make(chan AudioChunk, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, cartesiaReadSize)
		var carry []byte
		total := 0
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...)
				// keep sample alignment across reads
				even := len(data) &^ 1
				carry = append([]byte(nil), data[even:]...)
				if even > 0 {
					if total == 0 {
						c.logger.Debug().Dur("latency", time.Since(start)).Msg("First audio received")
					}
					total += even
					chunk := AudioChunk{Data: data[:even:even], SampleRate: c.config.SampleRate, Encoding: audio.EncodingLinear16}
					if !send(ctx, ch, chunk) {
						return
					}
				}
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				send(ctx, ch, AudioChunk{Err: &SynthesisError{Provider: cartesiaProvider, Err: readErr}})
				return
			}
		}

		if total == 0 {
			send(ctx, ch, AudioChunk{Err: &SynthesisError{Provider: cartesiaProvider, Err: errors.New("empty audio response")}})
			return
		}
		c.logger.Debug().Int("bytes", total).Dur("latency", time.Since(start)).Msg("Synthesis complete")
	}()

	return ch, nil
}
