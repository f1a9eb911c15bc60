package legacy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/cache"
	"github.com/lexiqai/voice-turn-gateway/internal/llm"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
	"github.com/lexiqai/voice-turn-gateway/internal/stt"
	"github.com/lexiqai/voice-turn-gateway/internal/tts"
)

const (
	audioKeyPrefix   = "reply:"
	maxRecordingSize = 10 << 20
)

// ErrNoRecording is returned when /process is called without a RecordingUrl
var ErrNoRecording = errors.New("no recording url")

// Config configures the record-then-process flow
type Config struct {
	AccountSID    string
	AuthToken     string
	SystemPrompt  string
	ReplyMaxChars int
	AudioTTL      time.Duration
	StageTimeout  time.Duration
	NoSpeechText  string
}

// Reply is the outcome of one processed recording
type Reply struct {
	Transcript string
	Text       string
	AudioID    string
}

// Processor turns one recorded utterance into one stored spoken reply
type Processor struct {
	config      Config
	transcriber stt.Transcriber
	generator   llm.Generator
	synthesizer tts.Synthesizer
	store       cache.AudioStore
	httpClient  *http.Client
	retryConfig *resilience.RetryConfig
	logger      zerolog.Logger
}

// NewProcessor creates a processor backed by the same providers as the streaming path
func NewProcessor(cfg Config, transcriber stt.Transcriber, generator llm.Generator, synthesizer tts.Synthesizer,
	store cache.AudioStore, rc *resilience.RetryConfig, logger zerolog.Logger) *Processor {
	if cfg.ReplyMaxChars <= 0 {
		cfg.ReplyMaxChars = 250
	}
	if cfg.AudioTTL <= 0 {
		cfg.AudioTTL = 15 * time.Minute
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 15 * time.Second
	}
	if cfg.NoSpeechText == "" {
		cfg.NoSpeechText = "Sorry, I didn't hear you. Please say that again."
	}
	return &Processor{
		config:      cfg,
		transcriber: transcriber,
		generator:   generator,
		synthesizer: synthesizer,
		store:       store,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryConfig: rc,
		logger:      logger.With().Str("component", "legacy").Logger(),
	}
}

// Process downloads a recording, answers it and stores the spoken reply
func (p *Processor) Process(ctx context.Context, recordingURL string) (*Reply, error) {
	if recordingURL == "" {
		return nil, ErrNoRecording
	}

	wav, err := p.download(ctx, recordingURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download recording: %w", err)
	}

	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, err
	}
	if pcm, err = audio.Resample(pcm, rate, audio.SampleRate); err != nil {
		return nil, err
	}

	reply := &Reply{}
	if len(pcm) > 0 {
		tctx, cancel := context.WithTimeout(ctx, p.config.StageTimeout)
		reply.Transcript, err = p.transcriber.Transcribe(tctx, pcm, audio.SampleRate, audio.EncodingLinear16)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(reply.Transcript) == "" {
		reply.Text = p.config.NoSpeechText
	} else {
		reply.Text, err = p.generate(ctx, reply.Transcript)
		if err != nil {
			return nil, err
		}
	}

	reply.AudioID, err = p.Speak(ctx, reply.Text)
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("transcript", reply.Transcript).
		Str("reply", reply.Text).
		Str("audio_id", reply.AudioID).
		Msg("Recording processed")
	return reply, nil
}

// Speak synthesizes text as an 8kHz WAV, stores it and returns its id
func (p *Processor) Speak(ctx context.Context, text string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, p.config.StageTimeout)
	defer cancel()

	chunks, err := p.synthesizer.Synthesize(sctx, text)
	if err != nil {
		return "", err
	}
	pcm, rate, err := tts.Collect(sctx, chunks)
	if err != nil {
		return "", err
	}
	if len(pcm) == 0 {
		return "", &tts.SynthesisError{Provider: p.synthesizer.Name(), Err: errors.New("no audio")}
	}
	if pcm, err = audio.Resample(pcm, rate, audio.SampleRate); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := p.store.Put(ctx, audioKeyPrefix+id, audio.EncodeWAV(pcm, audio.SampleRate), p.config.AudioTTL); err != nil {
		return "", fmt.Errorf("failed to store reply audio: %w", err)
	}
	return id, nil
}

// Audio returns stored reply audio
func (p *Processor) Audio(ctx context.Context, id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, cache.ErrNotFound
	}
	return p.store.Get(ctx, audioKeyPrefix+id)
}

func (p *Processor) generate(ctx context.Context, transcript string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, p.config.StageTimeout)
	defer cancel()

	conv := llm.NewConversation(p.config.SystemPrompt, 2)
	conv.AddUser(transcript)

	chunks, err := p.generator.Generate(gctx, conv)
	if err != nil {
		return "", err
	}
	text, err := llm.Collect(gctx, chunks)
	if err != nil {
		return "", err
	}
	text = cleanReply(text, p.config.ReplyMaxChars)
	if text == "" {
		return "", &llm.GenerationError{Provider: p.generator.Name(), Err: errors.New("empty reply")}
	}
	return text, nil
}

// cleanReply flattens a reply to one line of at most limit characters
func cleanReply(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit]))
}

func (p *Processor) download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if p.config.AccountSID != "" {
			req.SetBasicAuth(p.config.AccountSID, p.config.AuthToken)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("recording download returned status %d", resp.StatusCode)
			// Twilio can answer 404 for a moment after the recording callback
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return resilience.NewRetryableError(err)
			}
			return err
		}

		data, err = io.ReadAll(io.LimitReader(resp.Body, maxRecordingSize))
		return err
	}, p.retryConfig, resilience.IsRetryableNetworkError)
	return data, err
}
