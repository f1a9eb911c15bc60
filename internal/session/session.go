package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/llm"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
)

// turnEvent is sent by an in-flight turn to the session worker
type turnEvent struct {
	turn   *turn
	state  TurnState
	result *TurnResult // set on the final event
}

// CallSession is one active media stream. A single worker goroutine (Run) owns the
// detector, the utterance buffer and the turn state; at most one turn is in flight.
type CallSession struct {
	id        string
	callID    string
	streamSID string
	config    Config
	services  Services
	transport Transport
	logger    zerolog.Logger
	metrics   *observability.Metrics

	inbound chan audio.AudioFrame
	events  chan turnEvent
	closed  chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	turnWG    sync.WaitGroup

	state     atomic.Int32
	bargeIns  atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64
	failures  atomic.Int32
	lastFail  atomic.Pointer[StageError]
	runErr    error

	// owned by the worker
	vad          *audio.VADDetector
	buffer       *audio.UtteranceBuffer
	recent       []audio.AudioFrame
	pending      []audio.AudioFrame
	current      *turn
	turnCancel   context.CancelFunc
	turnCount    int
	conversation *llm.Conversation
}

// NewCallSession creates a session in LISTENING. Run must be called to process frames.
func NewCallSession(callID, streamSID string, cfg Config, services Services, transport Transport, logger zerolog.Logger) (*CallSession, error) {
	if services.Transcriber == nil || services.Generator == nil || services.Synthesizer == nil {
		return nil, errors.New("transcriber, generator and synthesizer are required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = DefaultConfig().InboundQueueSize
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultConfig().MaxConsecutiveFailures
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultConfig().StageTimeout
	}

	vad, err := audio.NewVADDetector(cfg.VAD, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid VAD config: %w", err)
	}

	id := uuid.NewString()
	conv := llm.NewConversation(cfg.SystemPrompt, cfg.HistoryMaxMessages)
	conv.ID = id

	s := &CallSession{
		id:           id,
		callID:       callID,
		streamSID:    streamSID,
		config:       cfg,
		services:     services,
		transport:    transport,
		logger:       observability.SessionLogger(logger, id, callID, streamSID),
		metrics:      observability.NewSessionMetrics(id),
		inbound:      make(chan audio.AudioFrame, cfg.InboundQueueSize),
		events:       make(chan turnEvent, 8),
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
		vad:          vad,
		buffer:       audio.NewUtteranceBuffer(id),
		conversation: conv,
	}
	s.state.Store(int32(StateListening))
	return s, nil
}

// ID returns the session identifier
func (s *CallSession) ID() string {
	return s.id
}

// CallID returns the telephony call identifier
func (s *CallSession) CallID() string {
	return s.callID
}

// State returns the current turn state
func (s *CallSession) State() TurnState {
	return TurnState(s.state.Load())
}

// BargeIns returns how many times speech started while a turn was in flight
func (s *CallSession) BargeIns() int64 {
	return s.bargeIns.Load()
}

// Dropped returns how many inbound frames were dropped because the queue was full
func (s *CallSession) Dropped() int64 {
	return s.dropped.Load()
}

// Processed returns how many inbound frames the worker has handled
func (s *CallSession) Processed() int64 {
	return s.processed.Load()
}

// Failures returns the number of consecutive failed turns
func (s *CallSession) Failures() int {
	return int(s.failures.Load())
}

// LastFailure returns the error of the most recent failed turn, or nil
func (s *CallSession) LastFailure() *StageError {
	return s.lastFail.Load()
}

// Done is closed when Run has returned
func (s *CallSession) Done() <-chan struct{} {
	return s.done
}

// Err returns the error Run ended with, once Done is closed
func (s *CallSession) Err() error {
	select {
	case <-s.done:
		return s.runErr
	default:
		return nil
	}
}

// Deliver queues an inbound frame without blocking. When the queue is full the frame
// is dropped with a warning.
func (s *CallSession) Deliver(frame audio.AudioFrame) error {
	select {
	case <-s.closed:
		s.metrics.RecordDroppedFrame(observability.DropClosed)
		return ErrSessionClosed
	default:
	}

	select {
	case s.inbound <- frame:
		s.metrics.RecordInboundFrame(len(frame.Data))
		return nil
	default:
		s.dropped.Add(1)
		s.metrics.RecordDroppedFrame(observability.DropQueueFull)
		s.logger.Warn().Uint64("seq", frame.Seq).Str("state", s.State().String()).Msg("Inbound queue full, dropping frame")
		return nil
	}
}

// Close ends the session. In-flight remote calls are abandoned and no further audio is sent.
func (s *CallSession) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Run is the session worker. It returns nil when the session is closed or ctx is done,
// and ErrTooManyFailures after a failure teardown.
func (s *CallSession) Run(ctx context.Context) error {
	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Session started")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	err := s.loop(ctx)
	cancel()

	if s.turnCancel != nil {
		s.turnCancel()
	}
	s.turnWG.Wait()
	s.Close()
	s.setState(StateClosed)

	s.metrics.RecordSessionEnd()
	s.logger.Info().Int("turns", s.turnCount).Int64("barge_ins", s.BargeIns()).Msg("Session ended")

	s.runErr = err
	close(s.done)
	return err
}

func (s *CallSession) loop(ctx context.Context) error {
	if s.config.GreetingText != "" {
		s.startSpeech(ctx, "greeting", s.config.GreetingText)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-s.inbound:
			s.handleFrame(ctx, frame)
			s.processed.Add(1)
		case ev := <-s.events:
			if ev.turn != s.current {
				continue
			}
			if ev.result == nil {
				s.setState(ev.state)
				continue
			}
			if err := s.finishTurn(ctx, ev.turn, ev.result); err != nil {
				return err
			}
		}
	}
}

// handleFrame decodes one frame, runs the detector and feeds the utterance buffer
func (s *CallSession) handleFrame(ctx context.Context, frame audio.AudioFrame) {
	linear, err := toLinear(frame)
	if err != nil {
		s.metrics.RecordDroppedFrame(observability.DropCodec)
		s.logger.Warn().Err(err).Uint64("seq", frame.Seq).Msg("Dropping malformed frame")
		return
	}

	ev, err := s.vad.ProcessFrame(linear.Data)
	if err != nil {
		s.metrics.RecordDroppedFrame(observability.DropCodec)
		s.logger.Warn().Err(err).Uint64("seq", frame.Seq).Msg("Dropping unclassifiable frame")
		return
	}
	if ev.Type != audio.VADNone {
		s.metrics.RecordVADEvent(ev.Type.String())
		s.logger.Debug().Str("event", ev.Type.String()).Uint64("seq", frame.Seq).Int("lookback", ev.Lookback).Msg("VAD event")
	}

	if s.current != nil {
		if ev.Type == audio.VADSpeechStart {
			s.bargeIn()
		}
		return
	}

	s.remember(linear)

	switch {
	case ev.Type == audio.VADSpeechStart:
		s.buffer.Begin(time.Now())
		s.pending = s.pending[:0]
		// pre-roll: the speaking frames that satisfied the majority are part of the utterance
		start := len(s.recent) - ev.Lookback
		if start < 0 {
			start = 0
		}
		for _, f := range s.recent[start:] {
			s.append(f)
		}

	case ev.Type == audio.VADSpeechEnd:
		// trailing silence is not part of the utterance
		s.pending = s.pending[:0]
		utt, err := s.buffer.Freeze(time.Now())
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to freeze utterance")
			return
		}
		s.startTurn(ctx, utt)

	case s.vad.IsSpeaking():
		if ev.Speech {
			for _, f := range s.pending {
				s.append(f)
			}
			s.pending = s.pending[:0]
			s.append(linear)
		} else {
			s.pending = append(s.pending, linear)
		}
	}
}

func (s *CallSession) append(f audio.AudioFrame) {
	if err := s.buffer.Append(f); err != nil {
		s.logger.Error().Err(err).Uint64("seq", f.Seq).Msg("Utterance append rejected")
	}
}

// remember keeps the last window of frames for pre-roll
func (s *CallSession) remember(f audio.AudioFrame) {
	limit := s.vad.Config().WindowFrames
	if len(s.recent) >= limit {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, f)
}

func (s *CallSession) bargeIn() {
	s.bargeIns.Add(1)
	s.metrics.RecordBargeIn()
	s.logger.Warn().Str("state", s.State().String()).Bool("cancel", s.config.BargeInEnabled).Msg("Barge-in detected")
	if s.config.BargeInEnabled && s.current != nil {
		s.current.interrupt()
	}
}

// startTurn takes ownership of a frozen utterance
func (s *CallSession) startTurn(ctx context.Context, utt *audio.Utterance) {
	if utt.Duration() < s.config.MinUtterance {
		s.metrics.RecordTurn(observability.OutcomeDiscardedShort)
		s.logger.Debug().Dur("duration", utt.Duration()).Int("frames", len(utt.Frames)).Msg("Discarding short utterance")
		s.enterListening()
		return
	}

	s.turnCount++
	t := s.newTurn(fmt.Sprintf("turn-%d", s.turnCount), false)
	s.setState(StateTranscribing)
	s.logger.Info().Str("turn", t.name).Dur("duration", utt.Duration()).Int("frames", len(utt.Frames)).Msg("Utterance complete, starting turn")

	s.launch(ctx, t, func(ctx context.Context) *TurnResult {
		return s.runTurn(ctx, t, utt)
	})
}

// startSpeech plays a fixed prompt through the reply path
func (s *CallSession) startSpeech(ctx context.Context, name, text string) {
	t := s.newTurn(name, true)
	s.setState(StatePlaying)
	s.launch(ctx, t, func(ctx context.Context) *TurnResult {
		return s.runSpeech(ctx, t, text)
	})
}

func (s *CallSession) launch(ctx context.Context, t *turn, fn func(context.Context) *TurnResult) {
	turnCtx, cancel := context.WithCancel(ctx)
	s.current = t
	s.turnCancel = cancel

	s.turnWG.Add(1)
	go func() {
		defer s.turnWG.Done()
		result := fn(turnCtx)
		select {
		case s.events <- turnEvent{turn: t, result: result}:
		case <-turnCtx.Done():
		}
	}()
}

// finishTurn applies a turn's outcome. It returns ErrTooManyFailures once the
// failure limit is reached, after the apology has been played.
func (s *CallSession) finishTurn(ctx context.Context, t *turn, result *TurnResult) error {
	s.turnCancel()
	s.current = nil
	s.turnCancel = nil
	s.metrics.RecordTurn(result.Outcome)

	log := s.logger.With().Str("turn", t.name).Str("outcome", result.Outcome).Logger()

	switch result.Outcome {
	case observability.OutcomeCompleted:
		if !t.prompt {
			s.failures.Store(0)
		}
		log.Info().Int("frames", result.AudioFrames).Msg("Turn complete")

	case observability.OutcomeInterrupted:
		log.Info().Msg("Turn interrupted by caller")
		if err := s.transport.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear far-end audio")
		}

	case observability.OutcomeFailed:
		stage := ""
		var stageErr *StageError
		if errors.As(result.Err, &stageErr) {
			stage = stageErr.Stage
		}
		if t.prompt {
			log.Error().Err(result.Err).Str("stage", stage).Msg("Prompt playback failed")
			break
		}
		if stageErr != nil {
			s.lastFail.Store(stageErr)
		}
		failures := int(s.failures.Add(1))
		s.metrics.RecordError("turn_failed", stage)
		log.Error().Err(result.Err).Str("stage", stage).Int("consecutive_failures", failures).Msg("Turn failed")

		if failures >= s.config.MaxConsecutiveFailures {
			s.teardown(ctx)
			return ErrTooManyFailures
		}

	default:
		log.Debug().Msg("Turn ended without reply")
	}

	s.enterListening()
	return nil
}

// teardown plays the apology, best effort, before the session ends
func (s *CallSession) teardown(ctx context.Context) {
	s.metrics.RecordTeardown("consecutive_failures")
	s.logger.Error().Int("failures", s.Failures()).Msg("Too many consecutive failures, tearing down session")

	if s.config.ApologyText == "" {
		return
	}
	s.setState(StatePlaying)
	t := s.newTurn("apology", true)
	result := s.runSpeech(ctx, t, s.config.ApologyText)
	if result.Err != nil {
		s.logger.Warn().Err(result.Err).Msg("Failed to play apology")
	}
}

// enterListening starts a fresh listening phase
func (s *CallSession) enterListening() {
	s.vad.Reset()
	s.buffer.Discard()
	s.recent = s.recent[:0]
	s.pending = s.pending[:0]
	s.setState(StateListening)
}

func (s *CallSession) setState(state TurnState) {
	prev := TurnState(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.Debug().Str("from", prev.String()).Str("to", state.String()).Msg("State transition")
	}
}

// toLinear accepts μ-law frames from the edge and already linear frames from tests or tools
func toLinear(f audio.AudioFrame) (audio.AudioFrame, error) {
	if f.Encoding == audio.EncodingLinear16 {
		if len(f.Data) != audio.LinearFrameBytes {
			return audio.AudioFrame{}, &audio.CodecError{Op: "decode", Length: len(f.Data), Expected: audio.LinearFrameBytes}
		}
		return f, nil
	}
	return audio.DecodeFrame(f)
}
