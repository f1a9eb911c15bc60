package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
)

const geminiProvider = "gemini"

// GeminiConfig configures the Gemini generator
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string // optional endpoint override
}

// GeminiGenerator implements Generator with Gemini's streaming content API
type GeminiGenerator struct {
	config         GeminiConfig
	client         *genai.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewGeminiGenerator creates a Gemini generator guarded by cb
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, cb *resilience.CircuitBreaker, logger zerolog.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key must not be empty")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{
		config:         cfg,
		client:         client,
		circuitBreaker: cb,
		logger:         logger.With().Str("component", "llm").Str("provider", geminiProvider).Logger(),
	}, nil
}

// Name returns the provider name
func (g *GeminiGenerator) Name() string {
	return geminiProvider
}

// Generate streams a reply to the conversation. The breaker records the outcome of the
// whole stream, since the first response is only known once iteration starts.
func (g *GeminiGenerator) Generate(ctx context.Context, conv *Conversation) (<-chan Chunk, error) {
	if conv == nil || conv.Len() == 0 {
		return nil, &GenerationError{Provider: geminiProvider, Err: fmt.Errorf("empty conversation")}
	}

	contents := geminiContents(conv)
	config := &genai.GenerateContentConfig{}
	if conv.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(conv.SystemPrompt, genai.RoleUser)
	}
	if g.config.MaxTokens > 0 {
		config.MaxOutputTokens = int32(g.config.MaxTokens)
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		start := time.Now()

		err := g.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
			first := true
			for resp, err := range g.client.Models.GenerateContentStream(ctx, g.config.Model, contents, config) {
				if err != nil {
					return err
				}
				text := resp.Text()
				if text == "" {
					continue
				}
				if first {
					g.logger.Debug().Dur("latency", time.Since(start)).Msg("First token received")
					first = false
				}
				if !send(ctx, ch, Chunk{Text: text}) {
					return ctx.Err()
				}
			}
			return nil
		})
		observability.RecordProviderRequest(geminiProvider, err == nil)
		if err != nil {
			send(ctx, ch, Chunk{Err: &GenerationError{Provider: geminiProvider, Err: err}})
		}
	}()

	return ch, nil
}

// geminiContents maps history to Gemini roles; system messages travel as user turns
func geminiContents(conv *Conversation) []*genai.Content {
	history := conv.Messages()
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}
