package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Provider names accepted by the *_PROVIDER settings
const (
	ProviderDeepgram     = "deepgram"
	ProviderGoogle       = "google"
	ProviderOpenAI       = "openai"
	ProviderGemini       = "gemini"
	ProviderOrchestrator = "orchestrator"
	ProviderCartesia     = "cartesia"
	ProviderSarvam       = "sarvam"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// DefaultSystemPrompt keeps replies short enough to be spoken on a phone line
const DefaultSystemPrompt = "You are a friendly, helpful voice assistant speaking with a caller over the phone. " +
	"Answer in one to three short sentences of plain spoken language. Do not use lists, markdown, emoji or " +
	"special characters. If you did not understand the caller, politely ask them to repeat."

// Config holds all configuration for the voice turn gateway
type Config struct {
	// Server configuration
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Twilio connects to wss://<this-host>/streams/twilio and fetches legacy replies from
	// <this-host>/audio-stream/{id}. If unset, http://localhost:PORT is assumed.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`

	// Voice activity detection
	VADAggressiveness int `envconfig:"VAD_AGGRESSIVENESS" default:"3"`  // 0 (lenient) to 3 (strict)
	VADWindowFrames   int `envconfig:"VAD_WINDOW_FRAMES" default:"30"`  // 600ms of 20ms frames
	VADStartMajority  int `envconfig:"VAD_START_MAJORITY" default:"6"`  // speaking frames in window to start
	VADSilenceFrames  int `envconfig:"VAD_SILENCE_FRAMES" default:"15"` // consecutive silent frames to end
	MinUtteranceMs    int `envconfig:"MIN_UTTERANCE_MS" default:"400"`  // shorter utterances are discarded

	// Turn handling
	StageTimeoutSeconds    int    `envconfig:"STAGE_TIMEOUT_SECONDS" default:"15"`   // per remote call
	MaxConsecutiveFailures int    `envconfig:"MAX_CONSECUTIVE_FAILURES" default:"3"` // before teardown
	InboundQueueSize       int    `envconfig:"INBOUND_QUEUE_SIZE" default:"256"`     // frames per session
	BargeInEnabled         bool   `envconfig:"BARGE_IN_ENABLED" default:"false"`     // cancel turns on new speech
	PlaybackPacingEnabled  bool   `envconfig:"PLAYBACK_PACING_ENABLED" default:"true"`
	GreetingText           string `envconfig:"GREETING_TEXT" default:"Hello! How can I help you today?"`
	ApologyText            string `envconfig:"APOLOGY_TEXT" default:"I'm sorry, I'm having technical difficulties. Please call again later. Goodbye."`
	SystemPrompt           string `envconfig:"SYSTEM_PROMPT" default:""`
	HistoryMaxMessages     int    `envconfig:"HISTORY_MAX_MESSAGES" default:"10"`
	GenerationMaxTokens    int    `envconfig:"GENERATION_MAX_TOKENS" default:"100"`

	// Speech-to-text
	STTProvider          string `envconfig:"STT_PROVIDER" default:"deepgram"`
	DeepgramAPIKey       string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel        string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage     string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`
	DeepgramHost         string `envconfig:"DEEPGRAM_HOST"`
	GoogleSpeechLanguage string `envconfig:"GOOGLE_SPEECH_LANGUAGE" default:"en-US"`

	// Language generation
	GenerationProvider     string `envconfig:"GENERATION_PROVIDER" default:"openai"`
	OpenAIAPIKey           string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL          string `envconfig:"OPENAI_BASE_URL" default:"https://api.groq.com/openai/v1"`
	OpenAIModel            string `envconfig:"OPENAI_MODEL" default:"llama-3.3-70b-versatile"`
	GeminiAPIKey           string `envconfig:"GEMINI_API_KEY"`
	GeminiModel            string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	OrchestratorURL        string `envconfig:"ORCHESTRATOR_URL" default:"localhost:50051"`
	OrchestratorTLSEnabled bool   `envconfig:"ORCHESTRATOR_TLS_ENABLED" default:"false"`

	// Text-to-speech
	TTSProvider        string `envconfig:"TTS_PROVIDER" default:"cartesia"`
	CartesiaAPIKey     string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID    string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID    string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-english"`
	CartesiaSampleRate int    `envconfig:"CARTESIA_SAMPLE_RATE" default:"24000"`
	SarvamAPIKey       string `envconfig:"SARVAM_API_KEY"`
	SarvamSpeaker      string `envconfig:"SARVAM_SPEAKER" default:"anushka"`
	SarvamLanguage     string `envconfig:"SARVAM_LANGUAGE" default:"en-IN"`

	// Audio and phrase cache
	CacheBackend          string `envconfig:"CACHE_BACKEND" default:"memory"`
	RedisURL              string `envconfig:"REDIS_URL" default:""`
	AudioCacheTTLSeconds  int    `envconfig:"AUDIO_CACHE_TTL_SECONDS" default:"900"`
	PhraseCacheTTLSeconds int    `envconfig:"PHRASE_CACHE_TTL_SECONDS" default:"86400"`

	// Resilience configuration
	CircuitBreakerFailureThreshold   int `envconfig:"CIRCUIT_BREAKER_FAILURE_THRESHOLD" default:"5"`     // Failures before opening circuit
	CircuitBreakerTimeoutSeconds     int `envconfig:"CIRCUIT_BREAKER_TIMEOUT_SECONDS" default:"60"`      // Seconds before attempting recovery
	CircuitBreakerHalfOpenMaxRequest int `envconfig:"CIRCUIT_BREAKER_HALF_OPEN_MAX_REQUESTS" default:"3"` // Trial requests when half-open
	RetryMaxAttempts                 int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`                    // Maximum attempts per call
	RetryInitialDelayMs              int `envconfig:"RETRY_INITIAL_DELAY_MS" default:"100"`              // Initial backoff in milliseconds
	RetryMaxDelayMs                  int `envconfig:"RETRY_MAX_DELAY_MS" default:"2000"`                 // Backoff ceiling in milliseconds

	// Legacy record-then-process flow
	TwilioAccountSID           string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken            string `envconfig:"TWILIO_AUTH_TOKEN"`
	LegacyRecordMaxSeconds     int    `envconfig:"LEGACY_RECORD_MAX_SECONDS" default:"10"`
	LegacyRecordTimeoutSeconds int    `envconfig:"LEGACY_RECORD_TIMEOUT_SECONDS" default:"3"`
	LegacyReplyMaxChars        int    `envconfig:"LEGACY_REPLY_MAX_CHARS" default:"250"`

	// Observability configuration
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty          bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled     bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	TracingEnabled     bool   `envconfig:"TRACING_ENABLED" default:"false"`
	TracingServiceName string `envconfig:"TRACING_SERVICE_NAME" default:"voice-turn-gateway"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	cfg.STTProvider = strings.ToLower(cfg.STTProvider)
	cfg.GenerationProvider = strings.ToLower(cfg.GenerationProvider)
	cfg.TTSProvider = strings.ToLower(cfg.TTSProvider)
	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks provider-dependent credentials and numeric ranges
func (c *Config) Validate() error {
	switch c.STTProvider {
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case ProviderGoogle:
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}

	switch c.GenerationProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when GENERATION_PROVIDER=openai")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when GENERATION_PROVIDER=gemini")
		}
	case ProviderOrchestrator:
		if c.OrchestratorURL == "" {
			return fmt.Errorf("ORCHESTRATOR_URL is required when GENERATION_PROVIDER=orchestrator")
		}
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.GenerationProvider)
	}

	switch c.TTSProvider {
	case ProviderCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required when TTS_PROVIDER=cartesia")
		}
	case ProviderSarvam:
		if c.SarvamAPIKey == "" {
			return fmt.Errorf("SARVAM_API_KEY is required when TTS_PROVIDER=sarvam")
		}
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider)
	}

	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}

	if c.VADAggressiveness < 0 || c.VADAggressiveness > 3 {
		return fmt.Errorf("VAD_AGGRESSIVENESS must be between 0 and 3, got %d", c.VADAggressiveness)
	}
	if c.VADWindowFrames <= 0 || c.VADStartMajority <= 0 || c.VADStartMajority > c.VADWindowFrames {
		return fmt.Errorf("VAD_START_MAJORITY must be between 1 and VAD_WINDOW_FRAMES (%d), got %d", c.VADWindowFrames, c.VADStartMajority)
	}
	if c.VADSilenceFrames <= 0 {
		return fmt.Errorf("VAD_SILENCE_FRAMES must be positive, got %d", c.VADSilenceFrames)
	}
	if c.MinUtteranceMs < 0 {
		return fmt.Errorf("MIN_UTTERANCE_MS must not be negative, got %d", c.MinUtteranceMs)
	}
	if c.StageTimeoutSeconds <= 0 {
		return fmt.Errorf("STAGE_TIMEOUT_SECONDS must be positive, got %d", c.StageTimeoutSeconds)
	}
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("MAX_CONSECUTIVE_FAILURES must be positive, got %d", c.MaxConsecutiveFailures)
	}
	if c.InboundQueueSize <= 0 {
		return fmt.Errorf("INBOUND_QUEUE_SIZE must be positive, got %d", c.InboundQueueSize)
	}
	if c.HistoryMaxMessages < 0 {
		return fmt.Errorf("HISTORY_MAX_MESSAGES must not be negative, got %d", c.HistoryMaxMessages)
	}

	return nil
}

// BaseURL returns the public base URL without a trailing slash
func (c *Config) BaseURL() string {
	if c.PublicBaseURL == "" {
		return "http://localhost:" + c.Port
	}
	return strings.TrimRight(c.PublicBaseURL, "/")
}

// StreamURL returns the WebSocket URL Twilio should connect media streams to
func (c *Config) StreamURL() string {
	base := c.BaseURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/streams/twilio"
}
