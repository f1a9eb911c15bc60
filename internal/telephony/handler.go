package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
	"github.com/lexiqai/voice-turn-gateway/internal/session"
)

// StreamHandler accepts Twilio Media Streams connections and runs one session per stream
type StreamHandler struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	pacing   bool
	logger   zerolog.Logger

	droppedPayloads atomic.Int64
}

// NewStreamHandler creates the /streams/twilio handler. pacing sends reply frames at
// the 20ms frame rate instead of as fast as they are produced.
func NewStreamHandler(manager *session.Manager, pacing bool, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			// Twilio does not send an Origin header; requests are authenticated upstream
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		pacing: pacing,
		logger: logger.With().Str("component", "twilio_stream").Logger(),
	}
}

// DroppedPayloads returns the number of media payloads that failed to decode
func (h *StreamHandler) DroppedPayloads() int64 {
	return h.droppedPayloads.Load()
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	st := &stream{
		handler:   h,
		conn:      conn,
		transport: newTwilioTransport(conn, "", h.pacing, h.logger),
		logger:    h.logger,
	}
	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Twilio WebSocket connection established")

	err = st.readLoop(ctx)

	var perr *SessionProtocolError
	switch {
	case errors.As(err, &perr):
		observability.RecordProtocolError(perr.Event)
		st.logger.Error().Err(err).Msg("Closing stream on protocol error")
		st.shutdown(websocket.ClosePolicyViolation, perr.Reason)
	case err != nil:
		st.logger.Warn().Err(err).Msg("Twilio stream ended with error")
		st.shutdown(websocket.CloseNormalClosure, "")
	default:
		st.shutdown(websocket.CloseNormalClosure, "")
	}

	if st.session != nil {
		<-st.session.Done()
		st.logger.Info().Int64("barge_ins", st.session.BargeIns()).Msg("Call session ended")
	}
}

// stream is the per-connection state. Everything but shutdown is touched only by the read loop.
type stream struct {
	handler   *StreamHandler
	conn      *websocket.Conn
	transport *twilioTransport
	session   *session.CallSession
	logger    zerolog.Logger

	streamSID string
	lastSeq   uint64
	seenSeq   bool
	lastChunk uint64
	seenChunk bool

	closeOnce sync.Once
}

func (st *stream) readLoop(ctx context.Context) error {
	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				st.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			if st.session != nil && st.session.Err() != nil {
				return st.session.Err()
			}
			return nil
		}

		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			st.logger.Error().Err(err).Msg("Failed to parse Twilio message")
			continue
		}

		if err := st.checkSequence(&msg); err != nil {
			return err
		}

		done, err := st.handle(ctx, &msg)
		if err != nil || done {
			return err
		}
	}
}

func (st *stream) checkSequence(msg *StreamMessage) error {
	if msg.SequenceNumber == "" {
		return nil
	}
	seq, err := parseCounter(msg.SequenceNumber)
	if err != nil {
		return st.protocolError(msg.Event, "sequenceNumber: "+err.Error())
	}
	if st.seenSeq && seq <= st.lastSeq {
		return st.protocolError(msg.Event, "sequenceNumber did not increase")
	}
	st.lastSeq = seq
	st.seenSeq = true
	return nil
}

// handle applies one message. done reports that the stream has ended normally.
func (st *stream) handle(ctx context.Context, msg *StreamMessage) (done bool, err error) {
	switch msg.Event {
	case EventConnected:
		st.logger.Info().Str("protocol", msg.Protocol).Str("version", msg.Version).Msg("Twilio stream connected")

	case EventStart:
		return false, st.start(ctx, msg)

	case EventMedia:
		return false, st.media(msg)

	case EventMark:
		if msg.Mark != nil {
			st.logger.Debug().Str("mark", msg.Mark.Name).Msg("Playback reached mark")
		}

	case EventDTMF:
		if msg.DTMF != nil {
			st.logger.Debug().Str("digit", msg.DTMF.Digit).Msg("DTMF received")
		}

	case EventStop:
		st.logger.Info().Msg("Call stopped")
		return true, nil

	default:
		st.logger.Debug().Str("event", msg.Event).Msg("Ignoring unknown Twilio event")
	}
	return false, nil
}

func (st *stream) start(ctx context.Context, msg *StreamMessage) error {
	if st.session != nil {
		return st.protocolError(msg.Event, "duplicate start")
	}
	if msg.Start == nil {
		return st.protocolError(msg.Event, "missing start payload")
	}

	streamSID := msg.StreamSid
	if streamSID == "" {
		streamSID = msg.Start.StreamSid
	}
	if f := msg.Start.MediaFormat; f != nil && f.Encoding != "" && f.Encoding != MediaFormatMulaw {
		st.logger.Warn().Str("encoding", f.Encoding).Int("sample_rate", f.SampleRate).Msg("Unexpected media format, decoding as μ-law")
	}

	st.streamSID = streamSID
	st.transport.streamSID = streamSID
	st.logger = st.logger.With().Str("call_sid", msg.Start.CallSid).Str("stream_sid", streamSID).Logger()
	st.transport.logger = st.logger

	sess, err := st.handler.manager.Open(ctx, msg.Start.CallSid, streamSID, st.transport)
	if err != nil {
		return err
	}
	st.session = sess
	st.logger.Info().Str("session_id", sess.ID()).Strs("tracks", msg.Start.Tracks).Msg("Call started")

	// A session that ends first, by teardown or server shutdown, closes the stream from its side
	go func() {
		<-sess.Done()
		if errors.Is(sess.Err(), session.ErrTooManyFailures) {
			st.shutdown(websocket.CloseNormalClosure, "session ended")
			return
		}
		st.shutdown(websocket.CloseGoingAway, "")
	}()
	return nil
}

func (st *stream) media(msg *StreamMessage) error {
	if st.session == nil {
		return st.protocolError(msg.Event, "media before start")
	}
	if msg.Media == nil {
		return st.protocolError(msg.Event, "missing media payload")
	}
	if msg.Media.Track != "" && msg.Media.Track != "inbound" {
		return nil
	}

	chunk := st.lastChunk + 1
	if msg.Media.Chunk != "" {
		n, err := parseCounter(msg.Media.Chunk)
		if err != nil {
			return st.protocolError(msg.Event, "chunk: "+err.Error())
		}
		if st.seenChunk && n <= st.lastChunk {
			return st.protocolError(msg.Event, "chunk number did not increase")
		}
		chunk = n
	}
	st.lastChunk = chunk
	st.seenChunk = true

	data, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		st.handler.droppedPayloads.Add(1)
		observability.RecordStreamDrop(observability.DropPayload)
		st.logger.Warn().Err(err).Uint64("chunk", chunk).Msg("Failed to decode base64 audio, dropping chunk")
		return nil
	}

	err = st.session.Deliver(audio.AudioFrame{
		SessionID: st.session.ID(),
		Seq:       chunk,
		Encoding:  audio.EncodingMulaw,
		Data:      data,
	})
	if errors.Is(err, session.ErrSessionClosed) {
		st.logger.Debug().Uint64("chunk", chunk).Msg("Session closed, dropping chunk")
		return nil
	}
	return err
}

func (st *stream) protocolError(event, reason string) error {
	return &SessionProtocolError{StreamSID: st.streamSID, Event: event, Reason: reason}
}

// shutdown closes the session and the socket once
func (st *stream) shutdown(code int, reason string) {
	st.closeOnce.Do(func() {
		if st.session != nil {
			st.session.Close()
		}
		st.transport.close(code, reason)
		st.conn.Close()
	})
}
