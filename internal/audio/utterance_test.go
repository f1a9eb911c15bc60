package audio

import (
	"errors"
	"testing"
	"time"
)

func linearFrame(seq uint64) AudioFrame {
	return AudioFrame{SessionID: "s1", Seq: seq, Encoding: EncodingLinear16, Data: make([]byte, LinearFrameBytes)}
}

func TestUtteranceBuffer_FreezeReturnsFrames(t *testing.T) {
	buf := NewUtteranceBuffer("s1")
	start := time.Unix(100, 0)
	buf.Begin(start)

	for seq := uint64(1); seq <= 20; seq++ {
		if err := buf.Append(linearFrame(seq)); err != nil {
			t.Fatalf("Append %d failed: %v", seq, err)
		}
	}

	u, err := buf.Freeze(start.Add(time.Second))
	if err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	if len(u.Frames) != 20 {
		t.Errorf("Expected 20 frames, got %d", len(u.Frames))
	}
	if u.StartSeq != 1 || u.EndSeq != 20 {
		t.Errorf("Expected seq span 1-20, got %d-%d", u.StartSeq, u.EndSeq)
	}
	if u.Duration() != 400*time.Millisecond {
		t.Errorf("Expected 400ms, got %v", u.Duration())
	}
	if len(u.PCM()) != 20*LinearFrameBytes {
		t.Errorf("Expected %d PCM bytes, got %d", 20*LinearFrameBytes, len(u.PCM()))
	}
	if buf.Len() != 0 || buf.IsOpen() {
		t.Error("Expected buffer to be empty and closed after freeze")
	}
}

func TestUtteranceBuffer_AppendAfterFreeze(t *testing.T) {
	buf := NewUtteranceBuffer("s1")
	buf.Begin(time.Now())
	_ = buf.Append(linearFrame(1))
	if _, err := buf.Freeze(time.Now()); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	err := buf.Append(linearFrame(2))
	var seqErr *OutOfSequenceError
	if !errors.As(err, &seqErr) {
		t.Fatalf("Expected OutOfSequenceError, got %v", err)
	}
	if seqErr.Seq != 2 {
		t.Errorf("Expected error for seq 2, got %d", seqErr.Seq)
	}

	// The next speech-start reopens the buffer
	buf.Begin(time.Now())
	if err := buf.Append(linearFrame(3)); err != nil {
		t.Errorf("Expected append after Begin to succeed, got %v", err)
	}
}

func TestUtteranceBuffer_FrozenUtteranceIsIndependent(t *testing.T) {
	buf := NewUtteranceBuffer("s1")
	buf.Begin(time.Now())
	_ = buf.Append(linearFrame(1))
	u, _ := buf.Freeze(time.Now())

	buf.Begin(time.Now())
	_ = buf.Append(linearFrame(9))

	if u.Frames[0].Seq != 1 {
		t.Errorf("Expected frozen utterance to keep seq 1, got %d", u.Frames[0].Seq)
	}
}

func TestUtteranceBuffer_Errors(t *testing.T) {
	buf := NewUtteranceBuffer("s1")

	var seqErr *OutOfSequenceError
	if err := buf.Append(linearFrame(1)); !errors.As(err, &seqErr) {
		t.Errorf("Expected OutOfSequenceError before Begin, got %v", err)
	}
	if _, err := buf.Freeze(time.Now()); !errors.As(err, &seqErr) {
		t.Errorf("Expected OutOfSequenceError freezing a closed buffer, got %v", err)
	}

	buf.Begin(time.Now())
	_ = buf.Append(linearFrame(5))
	if err := buf.Append(linearFrame(5)); !errors.As(err, &seqErr) {
		t.Errorf("Expected OutOfSequenceError for repeated seq, got %v", err)
	}

	var codecErr *CodecError
	mulaw := AudioFrame{Seq: 6, Encoding: EncodingMulaw, Data: make([]byte, MulawFrameBytes)}
	if err := buf.Append(mulaw); !errors.As(err, &codecErr) {
		t.Errorf("Expected CodecError for mulaw frame, got %v", err)
	}

	buf.Discard()
	if buf.IsOpen() || buf.Len() != 0 {
		t.Error("Expected discard to close and empty the buffer")
	}
}
