package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/llm"
	"github.com/lexiqai/voice-turn-gateway/internal/tts"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	bytes []int
	text  string
	err   error
	block bool // wait for the stage deadline instead of answering
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, _ int, _ audio.Encoding) (string, error) {
	f.mu.Lock()
	f.calls++
	f.bytes = append(f.bytes, len(pcm))
	text, err, block := f.text, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return text, err
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	chunks    []string
	history   []int
	err       error // returned by Generate
	streamErr error // sent after the chunks, if set
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(_ context.Context, conv *llm.Conversation) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	f.calls++
	f.history = append(f.history, conv.Len())
	chunks, err, streamErr := f.chunks, f.err, f.streamErr
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Chunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- llm.Chunk{Text: c}
	}
	if streamErr != nil {
		ch <- llm.Chunk{Err: streamErr}
	}
	close(ch)
	return ch, nil
}

func (f *fakeGenerator) fail(err, streamErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.streamErr = streamErr
}

func (f *fakeGenerator) History() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.history...)
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSynthesizer struct {
	mu      sync.Mutex
	texts   []string
	started chan struct{} // signalled on each call, if set
	release chan struct{} // blocks each call until closed, if set
	size    int
	rate    int
	piece   int   // split audio into chunks of this many bytes, if set
	sample  int16 // value of every synthesized sample
	err     error
}

func (f *fakeSynthesizer) Name() string { return "fake" }

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) (<-chan tts.AudioChunk, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	rate := f.rate
	if rate == 0 {
		rate = audio.SampleRate
	}
	samples := make([]int16, f.size/2)
	for i := range samples {
		samples[i] = f.sample
	}
	data := audio.SamplesToBytes(samples)
	piece := f.piece
	if piece <= 0 {
		piece = len(data) + 1
	}

	ch := make(chan tts.AudioChunk, len(data)/piece+1)
	for len(data) > 0 {
		n := min(piece, len(data))
		ch <- tts.AudioChunk{Data: data[:n], SampleRate: rate, Encoding: audio.EncodingLinear16}
		data = data[n:]
	}
	close(ch)
	return ch, nil
}

func (f *fakeSynthesizer) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSynthesizer) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	marks  []string
	clears int
}

func (f *fakeTransport) SendAudio(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) SendMark(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, name)
	return nil
}

func (f *fakeTransport) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeTransport) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTransport) Marks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marks...)
}

func (f *fakeTransport) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

// speechFrame is a loud square wave, well above every classifier threshold
func speechFrame(t *testing.T, seq uint64) audio.AudioFrame {
	t.Helper()
	samples := make([]int16, audio.FrameSamples)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	mulaw, err := audio.Encode(audio.SamplesToBytes(samples))
	if err != nil {
		t.Fatalf("Expected no error encoding speech, got %v", err)
	}
	return audio.AudioFrame{Seq: seq, Encoding: audio.EncodingMulaw, Data: mulaw}
}

// silenceFrame is digital silence (μ-law 0xFF)
func silenceFrame(seq uint64) audio.AudioFrame {
	data := make([]byte, audio.MulawFrameBytes)
	for i := range data {
		data[i] = 0xFF
	}
	return audio.AudioFrame{Seq: seq, Encoding: audio.EncodingMulaw, Data: data}
}

// feeder hands out increasing sequence numbers across an entire test
type feeder struct {
	t   *testing.T
	s   *CallSession
	seq uint64
}

func (f *feeder) speech(n int) {
	for i := 0; i < n; i++ {
		f.seq++
		if err := f.s.Deliver(speechFrame(f.t, f.seq)); err != nil {
			f.t.Fatalf("Expected no error delivering frame, got %v", err)
		}
	}
}

func (f *feeder) silence(n int) {
	for i := 0; i < n; i++ {
		f.seq++
		if err := f.s.Deliver(silenceFrame(f.seq)); err != nil {
			f.t.Fatalf("Expected no error delivering frame, got %v", err)
		}
	}
}

// waitProcessed waits for the worker to handle every delivered frame
func (f *feeder) waitProcessed() {
	f.t.Helper()
	waitFor(f.t, "frames processed", func() bool { return f.s.Processed() == int64(f.seq) })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
