package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/cache"
	"github.com/lexiqai/voice-turn-gateway/internal/resilience"
)

func newBreaker(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, 5, time.Minute)
}

func TestCartesiaSynthesizer_StreamsPCM(t *testing.T) {
	pcm := make([]byte, 9601)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	var got cartesiaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key" {
			t.Errorf("Expected api key header, got %q", r.Header.Get("X-API-Key"))
		}
		if r.Header.Get("Cartesia-Version") == "" {
			t.Error("Expected Cartesia-Version header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pcm)
	}))
	defer server.Close()

	synth := NewCartesiaSynthesizer(CartesiaConfig{
		APIKey: "key", VoiceID: "voice", ModelID: "sonic-english", SampleRate: 24000, URL: server.URL,
	}, newBreaker("cartesia"), zerolog.Nop())

	chunks, err := synth.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	data, rate, err := Collect(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Expected no stream error, got %v", err)
	}
	if rate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", rate)
	}
	if len(data) != 9600 {
		t.Errorf("Expected trailing odd byte to be dropped leaving 9600 bytes, got %d", len(data))
	}
	if got.Transcript != "Hello there." || got.Voice.ID != "voice" || got.OutputFormat.Encoding != "pcm_s16le" {
		t.Errorf("Unexpected request payload: %+v", got)
	}
}

func TestCartesiaSynthesizer_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid voice", http.StatusBadRequest)
	}))
	defer server.Close()

	synth := NewCartesiaSynthesizer(CartesiaConfig{APIKey: "key", URL: server.URL}, newBreaker("cartesia"), zerolog.Nop())
	_, err := synth.Synthesize(context.Background(), "Hello")

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Expected SynthesisError, got %v", err)
	}
	if synthErr.Provider != "cartesia" {
		t.Errorf("Expected provider cartesia, got %s", synthErr.Provider)
	}
}

func TestSynthesize_EmptyTextMakesNoRequest(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	synths := []Synthesizer{
		NewCartesiaSynthesizer(CartesiaConfig{URL: server.URL}, newBreaker("cartesia"), zerolog.Nop()),
		NewSarvamSynthesizer(SarvamConfig{URL: server.URL}, newBreaker("sarvam"), &resilience.RetryConfig{MaxAttempts: 1}, zerolog.Nop()),
	}
	for _, s := range synths {
		_, err := s.Synthesize(context.Background(), "   ")
		if !errors.Is(err, ErrEmptyText) {
			t.Errorf("Expected ErrEmptyText from %s, got %v", s.Name(), err)
		}
	}
	if calls != 0 {
		t.Errorf("Expected no remote calls, got %d", calls)
	}
}

func TestSarvamSynthesizer_DecodesWAV(t *testing.T) {
	pcm := make([]byte, 640)
	wav := audio.EncodeWAV(pcm, 8000)

	var got sarvamRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("API-Subscription-Key") != "key" {
			t.Errorf("Expected subscription key header, got %q", r.Header.Get("API-Subscription-Key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(sarvamResponse{Audios: []string{base64.StdEncoding.EncodeToString(wav)}})
	}))
	defer server.Close()

	synth := NewSarvamSynthesizer(SarvamConfig{APIKey: "key", Speaker: "anushka", Language: "en-IN", URL: server.URL},
		newBreaker("sarvam"), &resilience.RetryConfig{MaxAttempts: 1}, zerolog.Nop())

	chunks, err := synth.Synthesize(context.Background(), "Namaste")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	data, rate, err := Collect(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Expected no stream error, got %v", err)
	}
	if rate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", rate)
	}
	if len(data) != len(pcm) {
		t.Errorf("Expected %d bytes, got %d", len(pcm), len(data))
	}
	if got.SpeechSampleRate != 8000 || got.Speaker != "anushka" || len(got.Inputs) != 1 {
		t.Errorf("Unexpected request payload: %+v", got)
	}
}

func TestSarvamSynthesizer_NoAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"audios":[]}`))
	}))
	defer server.Close()

	synth := NewSarvamSynthesizer(SarvamConfig{APIKey: "key", URL: server.URL},
		newBreaker("sarvam"), &resilience.RetryConfig{MaxAttempts: 1}, zerolog.Nop())

	var synthErr *SynthesisError
	if _, err := synth.Synthesize(context.Background(), "Hello"); !errors.As(err, &synthErr) {
		t.Errorf("Expected SynthesisError, got %v", err)
	}
}

type countingSynth struct {
	calls int
	data  []byte
}

func (c *countingSynth) Name() string { return "counting" }

func (c *countingSynth) Synthesize(_ context.Context, text string) (<-chan AudioChunk, error) {
	c.calls++
	ch := make(chan AudioChunk, 2)
	half := len(c.data) / 2
	ch <- AudioChunk{Data: c.data[:half], SampleRate: 16000, Encoding: audio.EncodingLinear16}
	ch <- AudioChunk{Data: c.data[half:], SampleRate: 16000, Encoding: audio.EncodingLinear16}
	close(ch)
	return ch, nil
}

func TestCachingSynthesizer_ServesRegisteredPhrase(t *testing.T) {
	next := &countingSynth{data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	store := cache.NewMemoryStore()
	synth := NewCachingSynthesizer(next, store, time.Hour, zerolog.Nop(), "Hello! How can I help you today?")
	ctx := context.Background()

	first, err := synth.Synthesize(ctx, "Hello! How can I help you today?")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	data, _, _ := Collect(ctx, first)
	if len(data) != 8 {
		t.Fatalf("Expected 8 bytes on miss, got %d", len(data))
	}

	// differs only in case and spacing
	second, err := synth.Synthesize(ctx, "hello!  how can I help you today?")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	data, rate, _ := Collect(ctx, second)
	if next.calls != 1 {
		t.Errorf("Expected 1 upstream call, got %d", next.calls)
	}
	if rate != 16000 || len(data) != 8 {
		t.Errorf("Expected cached 8 bytes at 16000Hz, got %d bytes at %d", len(data), rate)
	}
}

func TestCachingSynthesizer_PassesThroughOtherText(t *testing.T) {
	next := &countingSynth{data: []byte{1, 2}}
	synth := NewCachingSynthesizer(next, cache.NewMemoryStore(), time.Hour, zerolog.Nop(), "greeting")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ch, _ := synth.Synthesize(ctx, "something else")
		_, _, _ = Collect(ctx, ch)
	}
	if next.calls != 2 {
		t.Errorf("Expected 2 upstream calls for unregistered text, got %d", next.calls)
	}
}
