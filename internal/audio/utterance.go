package audio

import (
	"fmt"
	"time"
)

// OutOfSequenceError reports a pipeline step taken in the wrong order
type OutOfSequenceError struct {
	Op     string
	Seq    uint64
	Reason string
}

func (e *OutOfSequenceError) Error() string {
	return fmt.Sprintf("out of sequence %s (seq %d): %s", e.Op, e.Seq, e.Reason)
}

// Utterance is the frozen audio of one speaking turn
type Utterance struct {
	SessionID string
	Frames    []AudioFrame
	StartSeq  uint64
	EndSeq    uint64
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns the audio length of the utterance
func (u *Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

// PCM concatenates the frames into one linear PCM buffer
func (u *Utterance) PCM() []byte {
	size := 0
	for _, f := range u.Frames {
		size += len(f.Data)
	}
	pcm := make([]byte, 0, size)
	for _, f := range u.Frames {
		pcm = append(pcm, f.Data...)
	}
	return pcm
}

// UtteranceBuffer accumulates linear frames between speech-start and speech-end.
// Like the VAD it belongs to a single session worker.
type UtteranceBuffer struct {
	sessionID string
	frames    []AudioFrame
	open      bool
	startedAt time.Time
	lastSeq   uint64
}

// NewUtteranceBuffer creates an empty, closed buffer
func NewUtteranceBuffer(sessionID string) *UtteranceBuffer {
	return &UtteranceBuffer{sessionID: sessionID}
}

// Begin opens the buffer for a new utterance on speech-start
func (b *UtteranceBuffer) Begin(at time.Time) {
	b.frames = b.frames[:0]
	b.open = true
	b.startedAt = at
	b.lastSeq = 0
}

// Append adds a linear frame to the open utterance
func (b *UtteranceBuffer) Append(f AudioFrame) error {
	if !b.open {
		return &OutOfSequenceError{Op: "append", Seq: f.Seq, Reason: "no utterance in progress"}
	}
	if f.Encoding != EncodingLinear16 {
		return &CodecError{Op: "append", Length: len(f.Data), Reason: "utterance frames must be linear16"}
	}
	if len(b.frames) > 0 && f.Seq <= b.lastSeq {
		return &OutOfSequenceError{Op: "append", Seq: f.Seq, Reason: fmt.Sprintf("not after seq %d", b.lastSeq)}
	}
	b.frames = append(b.frames, f)
	b.lastSeq = f.Seq
	return nil
}

// Freeze hands out the accumulated utterance and leaves the buffer empty and closed
func (b *UtteranceBuffer) Freeze(at time.Time) (*Utterance, error) {
	if !b.open {
		return nil, &OutOfSequenceError{Op: "freeze", Seq: b.lastSeq, Reason: "no utterance in progress"}
	}

	frames := make([]AudioFrame, len(b.frames))
	copy(frames, b.frames)

	u := &Utterance{
		SessionID: b.sessionID,
		Frames:    frames,
		StartedAt: b.startedAt,
		EndedAt:   at,
	}
	if len(frames) > 0 {
		u.StartSeq = frames[0].Seq
		u.EndSeq = frames[len(frames)-1].Seq
	}

	b.frames = b.frames[:0]
	b.open = false
	return u, nil
}

// Discard closes the buffer without producing an utterance
func (b *UtteranceBuffer) Discard() {
	b.frames = b.frames[:0]
	b.open = false
}

// Len returns the number of buffered frames
func (b *UtteranceBuffer) Len() int {
	return len(b.frames)
}

// IsOpen reports whether an utterance is being accumulated
func (b *UtteranceBuffer) IsOpen() bool {
	return b.open
}
