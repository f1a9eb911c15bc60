package llm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
)

const (
	orchestratorProvider = "orchestrator"

	// OrchestratorService is the gRPC service name the remote agent registers
	OrchestratorService = "lexiq.orchestrator.v1.CognitiveOrchestrator"

	processTextMethod = "/" + OrchestratorService + "/ProcessText"
)

var processTextDesc = &grpc.StreamDesc{
	StreamName:    "ProcessText",
	ServerStreams: true,
}

// OrchestratorConfig configures the connection to a remote conversational agent
type OrchestratorConfig struct {
	URL         string
	TLSEnabled  bool
	DialOptions []grpc.DialOption // appended after the defaults
}

// OrchestratorGenerator implements Generator by delegating the reply to a remote agent
// over a server-streaming gRPC call. Requests and responses are protobuf Structs:
//
//	request:  {conversation_id, text, system_prompt, history: [{role, content}]}
//	response: {text_chunk, is_done, error: {code, message}}
type OrchestratorGenerator struct {
	config         OrchestratorConfig
	conn           *grpc.ClientConn
	health         healthpb.HealthClient
	mu             sync.RWMutex
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// NewOrchestratorGenerator creates the client. The connection is established lazily.
func NewOrchestratorGenerator(cfg OrchestratorConfig, cb *resilience.CircuitBreaker, rc *resilience.RetryConfig, logger zerolog.Logger) (*OrchestratorGenerator, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("orchestrator url must not be empty")
	}

	var opts []grpc.DialOption
	if cfg.TLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator client for %s: %w", cfg.URL, err)
	}

	return &OrchestratorGenerator{
		config:         cfg,
		conn:           conn,
		health:         healthpb.NewHealthClient(conn),
		circuitBreaker: cb,
		retryConfig:    rc,
		logger:         logger.With().Str("component", "llm").Str("provider", orchestratorProvider).Logger(),
	}, nil
}

// Name returns the provider name
func (o *OrchestratorGenerator) Name() string {
	return orchestratorProvider
}

// Generate sends the latest caller message with its history and streams the agent's reply
func (o *OrchestratorGenerator) Generate(ctx context.Context, conv *Conversation) (<-chan Chunk, error) {
	if conv == nil || conv.Len() == 0 {
		return nil, &GenerationError{Provider: orchestratorProvider, Err: fmt.Errorf("empty conversation")}
	}

	req, err := buildOrchestratorRequest(conv)
	if err != nil {
		return nil, &GenerationError{Provider: orchestratorProvider, Err: err}
	}

	o.mu.RLock()
	conn := o.conn
	o.mu.RUnlock()
	if conn == nil {
		return nil, &GenerationError{Provider: orchestratorProvider, Err: fmt.Errorf("client is closed")}
	}

	var stream grpc.ClientStream
	err = o.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			s, err := conn.NewStream(ctx, processTextDesc, processTextMethod)
			if err != nil {
				return err
			}
			if err := s.SendMsg(req); err != nil {
				return err
			}
			if err := s.CloseSend(); err != nil {
				return err
			}
			stream = s
			return nil
		}, o.retryConfig, resilience.IsRetryableNetworkError)
	})
	observability.RecordProviderRequest(orchestratorProvider, err == nil)
	if err != nil {
		return nil, &GenerationError{Provider: orchestratorProvider, Err: err}
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)

		for {
			resp := &structpb.Struct{}
			if err := stream.RecvMsg(resp); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				o.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("Error receiving from ProcessText stream")
				send(ctx, ch, Chunk{Err: &GenerationError{Provider: orchestratorProvider, Err: err}})
				return
			}

			fields := resp.GetFields()
			if e := fields["error"].GetStructValue(); e != nil {
				code := e.GetFields()["code"].GetStringValue()
				msg := e.GetFields()["message"].GetStringValue()
				o.logger.Error().Str("code", code).Str("message", msg).Msg("Orchestrator error")
				send(ctx, ch, Chunk{Err: &GenerationError{Provider: orchestratorProvider, Err: fmt.Errorf("%s: %s", code, msg)}})
				return
			}

			if text := fields["text_chunk"].GetStringValue(); text != "" {
				if !send(ctx, ch, Chunk{Text: text}) {
					return
				}
			}

			if fields["is_done"].GetBoolValue() {
				o.logger.Debug().Str("conversation_id", conv.ID).Msg("ProcessText stream completed")
				return
			}
		}
	}()

	return ch, nil
}

// HealthCheck queries the standard gRPC health service for the orchestrator
func (o *OrchestratorGenerator) HealthCheck(ctx context.Context) error {
	o.mu.RLock()
	conn := o.conn
	o.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("orchestrator client is closed")
	}

	resp, err := o.health.Check(ctx, &healthpb.HealthCheckRequest{Service: OrchestratorService})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("orchestrator is %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection
func (o *OrchestratorGenerator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.conn == nil {
		return nil
	}
	err := o.conn.Close()
	o.conn = nil
	return err
}

func buildOrchestratorRequest(conv *Conversation) (*structpb.Struct, error) {
	history := conv.Messages()
	items := make([]any, 0, len(history))
	for _, m := range history {
		items = append(items, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	return structpb.NewStruct(map[string]any{
		"conversation_id": conv.ID,
		"text":            conv.LastUserMessage(),
		"system_prompt":   conv.SystemPrompt,
		"history":         items,
	})
}
