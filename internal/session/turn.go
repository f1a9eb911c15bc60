package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/llm"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/tts"
)

// Buffered synthesized audio between synthesis and playback, in provider chunks
const playbackQueueSize = 64

type turn struct {
	name        string
	prompt      bool // fixed phrase: no stage reports, never counted as a failure
	started     time.Time
	interrupted atomic.Bool
}

func (s *CallSession) newTurn(name string, prompt bool) *turn {
	return &turn{name: name, prompt: prompt, started: time.Now()}
}

// interrupt raises the cooperative cancellation flag checked at stage boundaries
func (t *turn) interrupt() {
	t.interrupted.Store(true)
}

// report tells the worker which stage the turn has reached
func (s *CallSession) report(ctx context.Context, t *turn, state TurnState) {
	if t.prompt {
		return
	}
	select {
	case s.events <- turnEvent{turn: t, state: state}:
	case <-ctx.Done():
	}
}

// callStage bounds one remote stage by the stage timeout and records it
func (s *CallSession) callStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "stage."+stage, "session_id", s.id, "stage", stage)
	ctx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordStage(stage, time.Since(start), err == nil)
	observability.EndSpan(span, err)

	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// runTurn drives one utterance through transcription, generation, synthesis and playback
func (s *CallSession) runTurn(ctx context.Context, t *turn, utt *audio.Utterance) *TurnResult {
	ctx, span := observability.StartSpan(ctx, "turn", "session_id", s.id, "turn", t.name)
	result := &TurnResult{}
	defer func() { observability.EndSpan(span, result.Err) }()

	var transcript string
	err := s.callStage(ctx, StageTranscribe, func(ctx context.Context) error {
		text, err := s.services.Transcriber.Transcribe(ctx, utt.PCM(), audio.SampleRate, audio.EncodingLinear16)
		transcript = strings.TrimSpace(text)
		return err
	})
	if err != nil {
		return finish(result, err)
	}
	result.Transcript = transcript
	if transcript == "" {
		result.Outcome = observability.OutcomeEmptyTranscript
		return result
	}
	if t.interrupted.Load() {
		return finish(result, errInterrupted)
	}
	s.logger.Info().Str("turn", t.name).Str("transcript", transcript).Msg("Transcription complete")

	s.report(ctx, t, StateGenerating)
	historyLen := s.conversation.Len()
	s.conversation.AddUser(transcript)

	var reply strings.Builder
	sentences := make(chan string, 16)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.callStage(gctx, StageGenerate, func(ctx context.Context) error {
			return s.generate(ctx, &reply, sentences)
		})
		// on failure the speaker stops on the group context instead of finishing the reply
		if err == nil {
			close(sentences)
		}
		return err
	})
	g.Go(func() error {
		frames, err := s.speak(gctx, t, sentences)
		result.AudioFrames = frames
		return err
	})

	err = g.Wait()
	result.Reply = strings.TrimSpace(reply.String())
	if err != nil {
		s.conversation.Truncate(historyLen)
		return finish(result, err)
	}

	s.conversation.AddAssistant(result.Reply)
	result.Outcome = observability.OutcomeCompleted
	return result
}

// generate streams the reply and hands out complete sentences as soon as they form
func (s *CallSession) generate(ctx context.Context, reply *strings.Builder, sentences chan<- string) error {
	chunks, err := s.services.Generator.Generate(ctx, s.conversation)
	if err != nil {
		return err
	}

	emit := func(sentence string) error {
		select {
		case sentences <- sentence:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	buffer := llm.NewSentenceBuffer()
	for chunk := range chunks {
		if chunk.Err != nil {
			return chunk.Err
		}
		reply.WriteString(chunk.Text)
		for _, sentence := range buffer.Add(chunk.Text) {
			if err := emit(sentence); err != nil {
				return err
			}
		}
	}
	// a generator closes its stream early when ctx ends
	if err := ctx.Err(); err != nil {
		return err
	}

	if rest := buffer.Flush(); rest != "" {
		if err := emit(rest); err != nil {
			return err
		}
	}
	if strings.TrimSpace(reply.String()) == "" {
		return errors.New("empty reply")
	}
	return nil
}

// runSpeech plays a fixed prompt
func (s *CallSession) runSpeech(ctx context.Context, t *turn, text string) *TurnResult {
	ctx, span := observability.StartSpan(ctx, "prompt", "session_id", s.id, "prompt", t.name)
	result := &TurnResult{Reply: text}
	defer func() { observability.EndSpan(span, result.Err) }()

	sentences := make(chan string, 1)
	sentences <- text
	close(sentences)

	frames, err := s.speak(ctx, t, sentences)
	result.AudioFrames = frames
	if err != nil {
		return finish(result, err)
	}
	result.Outcome = observability.OutcomeCompleted
	return result
}

// speak synthesizes sentences in order and plays the audio as it arrives. Synthesis of
// the next sentence overlaps playback of the current one. Returns the frames sent.
func (s *CallSession) speak(ctx context.Context, t *turn, sentences <-chan string) (int, error) {
	pcm := make(chan []byte, playbackQueueSize)
	frames := 0

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.synthesize(gctx, t, sentences, pcm)
		// on failure the player stops on the group context without a mark
		if err == nil {
			close(pcm)
		}
		return err
	})

	g.Go(func() error {
		assembler := audio.NewFrameAssembler(audio.LinearFrameBytes, audio.LinearFrameBytes*50)
		send := func(frame []byte) error {
			if t.interrupted.Load() {
				return errInterrupted
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			mulaw, err := audio.Encode(frame)
			if err != nil {
				return &StageError{Stage: StagePlay, Err: err}
			}
			if frames == 0 {
				s.report(gctx, t, StatePlaying)
				s.metrics.RecordTimeToFirstAudio(time.Since(t.started))
			}
			if err := s.transport.SendAudio(gctx, mulaw); err != nil {
				return &StageError{Stage: StagePlay, Err: err}
			}
			frames++
			s.metrics.RecordOutboundFrame(len(mulaw))
			return nil
		}

	loop:
		for {
			select {
			case data, ok := <-pcm:
				if !ok {
					break loop
				}
				if err := assembler.Frames(data, send); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		for {
			frame, ok := assembler.Flush()
			if !ok {
				break
			}
			if err := send(frame); err != nil {
				return err
			}
		}

		if frames > 0 {
			if err := s.transport.SendMark(gctx, t.name); err != nil {
				s.logger.Warn().Err(err).Str("turn", t.name).Msg("Failed to send playback mark")
			}
		}
		return nil
	})

	err := g.Wait()
	return frames, err
}

// synthesize turns sentences into 8kHz PCM pieces in order until sentences is closed
func (s *CallSession) synthesize(ctx context.Context, t *turn, sentences <-chan string, pcm chan<- []byte) error {
	var conv telephonyConverter
	emit := func(ctx context.Context, data []byte) error {
		if len(data) == 0 {
			return nil
		}
		select {
		case pcm <- data:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	first := true
	for {
		var sentence string
		var ok bool
		select {
		case sentence, ok = <-sentences:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			return emit(ctx, conv.flush())
		}
		if t.interrupted.Load() {
			return errInterrupted
		}
		if first {
			s.report(ctx, t, StateSynthesizing)
			first = false
		}

		err := s.callStage(ctx, StageSynthesize, func(ctx context.Context) error {
			chunks, err := s.services.Synthesizer.Synthesize(ctx, sentence)
			if err != nil {
				return err
			}
			for chunk := range chunks {
				if chunk.Err != nil {
					return chunk.Err
				}
				data, err := conv.convert(chunk)
				if err != nil {
					return err
				}
				if err := emit(ctx, data); err != nil {
					return err
				}
			}
			return ctx.Err()
		})
		if err != nil {
			return err
		}
	}
}

// telephonyConverter turns synthesized chunks into 8kHz linear PCM. Resampler state
// spans chunks of the same rate, so chunk boundaries neither drop nor repeat samples.
type telephonyConverter struct {
	resampler *audio.Resampler
}

func (c *telephonyConverter) convert(chunk tts.AudioChunk) ([]byte, error) {
	data := chunk.Data
	if chunk.Encoding == audio.EncodingMulaw {
		data = audio.MulawToPCM(data)
	}
	rate := chunk.SampleRate
	if rate == 0 {
		rate = audio.SampleRate
	}

	var out []byte
	if c.resampler != nil && c.resampler.InputRate() != rate {
		out = c.flush()
	}
	if c.resampler == nil {
		r, err := audio.NewResampler(rate, audio.SampleRate)
		if err != nil {
			return nil, err
		}
		c.resampler = r
	}
	return append(out, c.resampler.Write(data)...), nil
}

// flush returns the tail still held by the resampler
func (c *telephonyConverter) flush() []byte {
	if c.resampler == nil {
		return nil
	}
	out := c.resampler.Flush()
	c.resampler = nil
	return out
}

// finish classifies a turn error into an outcome
func finish(result *TurnResult, err error) *TurnResult {
	result.Err = err
	if errors.Is(err, errInterrupted) {
		result.Outcome = observability.OutcomeInterrupted
		return result
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		result.Err = &StageError{Stage: StagePlay, Err: err}
	}
	result.Outcome = observability.OutcomeFailed
	return result
}
