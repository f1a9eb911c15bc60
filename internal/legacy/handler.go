package legacy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/cache"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
)

// HandlerConfig configures the TwiML served to Twilio
type HandlerConfig struct {
	BaseURL          string // public URL Twilio uses to reach this service
	GreetingText     string
	ApologyText      string
	RecordMaxSeconds int
	RecordTimeout    int
	SayVoice         string
	SayLanguage      string
}

// Handler serves the record-then-process webhooks
type Handler struct {
	config    HandlerConfig
	processor *Processor
	logger    zerolog.Logger
}

// NewHandler creates the webhook handler
func NewHandler(cfg HandlerConfig, processor *Processor, logger zerolog.Logger) *Handler {
	if cfg.RecordMaxSeconds <= 0 {
		cfg.RecordMaxSeconds = 10
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 3
	}
	return &Handler{
		config:    cfg,
		processor: processor,
		logger:    logger.With().Str("component", "legacy").Logger(),
	}
}

// Register adds the webhook routes to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /voice", h.Voice)
	mux.HandleFunc("POST /process", h.ProcessRecording)
	mux.HandleFunc("GET /audio-stream/{id}", h.AudioStream)
}

// Voice answers an incoming call with the greeting and starts recording
func (h *Handler) Voice(w http.ResponseWriter, r *http.Request) {
	resp := Response{Verbs: []any{h.speak(r.Context(), h.config.GreetingText), h.record()}}
	if err := writeTwiML(w, resp); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write TwiML")
	}
}

// ProcessRecording answers the caller's last recording and records again
func (h *Handler) ProcessRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	callSID := r.PostForm.Get("CallSid")
	recordingURL := r.PostForm.Get("RecordingUrl")

	start := time.Now()
	var play any
	reply, err := h.processor.Process(r.Context(), recordingURL)
	observability.RecordLegacyRequest(err == nil)
	if err != nil {
		h.logger.Error().Err(err).Str("call_sid", callSID).Str("recording_url", recordingURL).Msg("Failed to process recording")
		play = h.say(h.config.ApologyText)
	} else {
		h.logger.Info().Str("call_sid", callSID).Dur("latency", time.Since(start)).Msg("Reply ready")
		play = Play{URL: h.audioURL(reply.AudioID)}
	}

	if err := writeTwiML(w, Response{Verbs: []any{play, h.record()}}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write TwiML")
	}
}

// AudioStream serves stored reply audio
func (h *Handler) AudioStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := h.processor.Audio(r.Context(), id)
	if errors.Is(err, cache.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("audio_id", id).Msg("Failed to load reply audio")
		http.Error(w, "audio unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug().Err(err).Str("audio_id", id).Msg("Failed to write reply audio")
	}
}

// speak plays synthesized text, falling back to Twilio's own voice
func (h *Handler) speak(ctx context.Context, text string) any {
	id, err := h.processor.Speak(ctx, text)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Synthesis failed, falling back to <Say>")
		return h.say(text)
	}
	return Play{URL: h.audioURL(id)}
}

func (h *Handler) say(text string) Say {
	return Say{Voice: h.config.SayVoice, Language: h.config.SayLanguage, Text: text}
}

func (h *Handler) record() Record {
	return Record{
		Action:    h.config.BaseURL + "/process",
		Method:    http.MethodPost,
		MaxLength: h.config.RecordMaxSeconds,
		Timeout:   h.config.RecordTimeout,
		PlayBeep:  false,
	}
}

func (h *Handler) audioURL(id string) string {
	return h.config.BaseURL + "/audio-stream/" + id
}
