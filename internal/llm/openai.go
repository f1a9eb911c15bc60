package llm

import (
	"context"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
)

const openAIProvider = "openai"

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint (Groq by default)
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// OpenAIGenerator implements Generator over the streaming chat completions API
type OpenAIGenerator struct {
	config         OpenAIConfig
	client         oai.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// NewOpenAIGenerator creates a generator guarded by cb. Opening the stream is retried with rc.
func NewOpenAIGenerator(cfg OpenAIConfig, cb *resilience.CircuitBreaker, rc *resilience.RetryConfig, logger zerolog.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries are handled by resilience.Retry
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIGenerator{
		config:         cfg,
		client:         oai.NewClient(opts...),
		circuitBreaker: cb,
		retryConfig:    rc,
		logger:         logger.With().Str("component", "llm").Str("provider", openAIProvider).Logger(),
	}, nil
}

// Name returns the provider name
func (g *OpenAIGenerator) Name() string {
	return openAIProvider
}

// Generate streams a reply to the conversation
func (g *OpenAIGenerator) Generate(ctx context.Context, conv *Conversation) (<-chan Chunk, error) {
	if conv == nil || conv.Len() == 0 {
		return nil, &GenerationError{Provider: openAIProvider, Err: fmt.Errorf("empty conversation")}
	}

	params := g.buildParams(conv)
	start := time.Now()

	var stream *ssestream.Stream[oai.ChatCompletionChunk]
	err := g.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			s := g.client.Chat.Completions.NewStreaming(ctx, params)
			if err := s.Err(); err != nil {
				s.Close()
				return err
			}
			stream = s
			return nil
		}, g.retryConfig, resilience.IsRetryableNetworkError)
	})
	observability.RecordProviderRequest(openAIProvider, err == nil)
	if err != nil {
		return nil, &GenerationError{Provider: openAIProvider, Err: err}
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		first := true
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if first {
				g.logger.Debug().Dur("latency", time.Since(start)).Msg("First token received")
				first = false
			}
			if !send(ctx, ch, Chunk{Text: text}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			observability.RecordProviderRequest(openAIProvider, false)
			send(ctx, ch, Chunk{Err: &GenerationError{Provider: openAIProvider, Err: err}})
		}
	}()

	return ch, nil
}

func (g *OpenAIGenerator) buildParams(conv *Conversation) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, conv.Len()+1)
	if conv.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(conv.SystemPrompt))
	}
	for _, m := range conv.Messages() {
		switch m.Role {
		case RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(m.Content)
			messages = append(messages, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.config.Model),
		Messages: messages,
	}
	if g.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(g.config.MaxTokens))
	}
	return params
}
