package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/voice-turn-gateway/internal/config"
	"github.com/lexiqai/voice-turn-gateway/internal/legacy"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/session"
	"github.com/lexiqai/voice-turn-gateway/internal/telephony"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_provider", cfg.STTProvider).
		Str("generation_provider", cfg.GenerationProvider).
		Str("tts_provider", cfg.TTSProvider).
		Str("cache_backend", cfg.CacheBackend).
		Str("log_level", cfg.LogLevel).
		Bool("barge_in_enabled", cfg.BargeInEnabled).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Turn Gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName: cfg.TracingServiceName,
			Environment: cfg.Environment,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(tctx)
		}()
	}

	p, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize providers")
	}
	defer p.Close()

	manager := session.NewManager(session.NewConfig(cfg), session.Services{
		Transcriber: p.transcriber,
		Generator:   p.generator,
		Synthesizer: p.synthesizer,
	}, logger)

	processor := legacy.NewProcessor(legacy.Config{
		AccountSID:    cfg.TwilioAccountSID,
		AuthToken:     cfg.TwilioAuthToken,
		SystemPrompt:  cfg.SystemPrompt,
		ReplyMaxChars: cfg.LegacyReplyMaxChars,
		AudioTTL:      time.Duration(cfg.AudioCacheTTLSeconds) * time.Second,
		StageTimeout:  time.Duration(cfg.StageTimeoutSeconds) * time.Second,
	}, p.transcriber, p.generator, p.synthesizer, p.store, retryConfig(cfg), logger)

	// Create HTTP server
	mux := http.NewServeMux()

	// Register Twilio WebSocket handler
	mux.Handle("/streams/twilio", telephony.NewStreamHandler(manager, cfg.PlaybackPacingEnabled, logger))

	// Record-then-process fallback webhooks
	legacy.NewHandler(legacy.HandlerConfig{
		BaseURL:          cfg.BaseURL(),
		GreetingText:     cfg.GreetingText,
		ApologyText:      cfg.ApologyText,
		RecordMaxSeconds: cfg.LegacyRecordMaxSeconds,
		RecordTimeout:    cfg.LegacyRecordTimeoutSeconds,
	}, processor, logger).Register(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler(manager.Active))
	mux.HandleFunc("/ready", observability.ReadinessHandler(p.checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No write timeout: media stream connections live for the whole call
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("stream_url", cfg.StreamURL()).
			Str("voice_webhook", cfg.BaseURL()+"/voice").
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info().Int("active_sessions", manager.Active()).Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Sessions first: their handlers hold hijacked connections the server does not track
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Sessions did not end before the shutdown deadline")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
