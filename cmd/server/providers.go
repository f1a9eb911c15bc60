package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/cache"
	"github.com/lexiqai/voice-turn-gateway/internal/config"
	"github.com/lexiqai/voice-turn-gateway/internal/llm"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
	"github.com/lexiqai/voice-turn-gateway/internal/stt"
	"github.com/lexiqai/voice-turn-gateway/internal/tts"
)

// providers holds the remote services shared by every session
type providers struct {
	transcriber stt.Transcriber
	generator   llm.Generator
	synthesizer tts.Synthesizer
	store       cache.AudioStore
	checks      map[string]observability.HealthCheckFunc
	closers     []io.Closer
}

func (p *providers) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		_ = p.closers[i].Close()
	}
}

func retryConfig(cfg *config.Config) *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

func newBreaker(cfg *config.Config, name string, logger zerolog.Logger) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, cfg.CircuitBreakerFailureThreshold,
		time.Duration(cfg.CircuitBreakerTimeoutSeconds)*time.Second).
		WithHalfOpenMax(cfg.CircuitBreakerHalfOpenMaxRequest).
		OnStateChange(func(name string, state resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(state))
			logger.Warn().Str("service", name).Str("state", state.String()).Msg("Circuit breaker state changed")
		})
}

func buildProviders(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*providers, error) {
	p := &providers{checks: make(map[string]observability.HealthCheckFunc)}
	rc := retryConfig(cfg)

	if err := p.buildStore(ctx, cfg, logger); err != nil {
		return nil, err
	}

	switch cfg.STTProvider {
	case config.ProviderGoogle:
		g, err := stt.NewGoogleTranscriber(ctx, cfg.GoogleSpeechLanguage, newBreaker(cfg, "google_speech", logger), logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create Google Speech client: %w", err)
		}
		p.transcriber = g
		p.closers = append(p.closers, g)
	default:
		p.transcriber = stt.NewDeepgramTranscriber(stt.DeepgramConfig{
			APIKey:   cfg.DeepgramAPIKey,
			Model:    cfg.DeepgramModel,
			Language: cfg.DeepgramLanguage,
			Host:     cfg.DeepgramHost,
		}, newBreaker(cfg, "deepgram", logger), logger)
	}

	switch cfg.GenerationProvider {
	case config.ProviderGemini:
		g, err := llm.NewGeminiGenerator(ctx, llm.GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.GeminiModel,
			MaxTokens: cfg.GenerationMaxTokens,
		}, newBreaker(cfg, "gemini", logger), logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		p.generator = g
	case config.ProviderOrchestrator:
		o, err := llm.NewOrchestratorGenerator(llm.OrchestratorConfig{
			URL:        cfg.OrchestratorURL,
			TLSEnabled: cfg.OrchestratorTLSEnabled,
		}, newBreaker(cfg, "orchestrator", logger), rc, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create Orchestrator client: %w", err)
		}
		p.generator = o
		p.closers = append(p.closers, o)
		p.checks["orchestrator"] = o.HealthCheck
	default:
		o, err := llm.NewOpenAIGenerator(llm.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.OpenAIModel,
			MaxTokens: cfg.GenerationMaxTokens,
		}, newBreaker(cfg, "openai", logger), rc, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		p.generator = o
	}

	var synth tts.Synthesizer
	switch cfg.TTSProvider {
	case config.ProviderSarvam:
		synth = tts.NewSarvamSynthesizer(tts.SarvamConfig{
			APIKey:   cfg.SarvamAPIKey,
			Speaker:  cfg.SarvamSpeaker,
			Language: cfg.SarvamLanguage,
		}, newBreaker(cfg, "sarvam", logger), rc, logger)
	default:
		synth = tts.NewCartesiaSynthesizer(tts.CartesiaConfig{
			APIKey:     cfg.CartesiaAPIKey,
			VoiceID:    cfg.CartesiaVoiceID,
			ModelID:    cfg.CartesiaModelID,
			SampleRate: cfg.CartesiaSampleRate,
		}, newBreaker(cfg, "cartesia", logger), logger)
	}
	p.synthesizer = tts.NewCachingSynthesizer(synth, p.store,
		time.Duration(cfg.PhraseCacheTTLSeconds)*time.Second, logger,
		cfg.GreetingText, cfg.ApologyText)

	return p, nil
}

func (p *providers) buildStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.CacheBackend != config.CacheRedis {
		p.store = cache.NewMemoryStore()
		return nil
	}

	store, err := cache.NewRedisStoreFromURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	err = resilience.Reconnect(ctx, logger, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return store.Ping(pctx)
	}, nil)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("redis unreachable: %w", err)
	}

	p.store = store
	p.closers = append(p.closers, store)
	p.checks["redis"] = store.Ping
	return nil
}
