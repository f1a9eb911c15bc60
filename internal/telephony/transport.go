package telephony

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
)

const writeTimeout = 10 * time.Second

// twilioTransport writes session output to one Media Streams socket.
// Writes are serialized; gorilla connections allow a single concurrent writer.
type twilioTransport struct {
	conn      *websocket.Conn
	streamSID string
	pacing    bool
	logger    zerolog.Logger

	mu   sync.Mutex
	next time.Time // earliest send time of the next paced frame
}

func newTwilioTransport(conn *websocket.Conn, streamSID string, pacing bool, logger zerolog.Logger) *twilioTransport {
	return &twilioTransport{
		conn:      conn,
		streamSID: streamSID,
		pacing:    pacing,
		logger:    logger,
	}
}

// SendAudio sends one μ-law frame. With pacing enabled frames leave at the frame rate.
func (t *twilioTransport) SendAudio(ctx context.Context, frame []byte) error {
	if t.pacing {
		if err := t.wait(ctx); err != nil {
			return err
		}
	}
	return t.write(ctx, outboundMessage{
		Event:     EventMedia,
		StreamSid: t.streamSID,
		Media:     &outboundMedia{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

// SendMark asks Twilio to echo name once playback reaches this point
func (t *twilioTransport) SendMark(ctx context.Context, name string) error {
	return t.write(ctx, outboundMessage{
		Event:     EventMark,
		StreamSid: t.streamSID,
		Mark:      &MarkPayload{Name: name},
	})
}

// Clear flushes audio Twilio has buffered but not yet played
func (t *twilioTransport) Clear(ctx context.Context) error {
	t.mu.Lock()
	t.next = time.Time{}
	t.mu.Unlock()
	return t.write(ctx, outboundMessage{Event: EventClear, StreamSid: t.streamSID})
}

func (t *twilioTransport) wait(ctx context.Context) error {
	t.mu.Lock()
	now := time.Now()
	if t.next.Before(now) {
		t.next = now
	}
	delay := t.next.Sub(now)
	t.next = t.next.Add(audio.FrameDuration)
	t.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *twilioTransport) write(ctx context.Context, msg outboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := t.conn.WriteJSON(msg); err != nil {
		t.logger.Warn().Err(err).Str("event", msg.Event).Msg("Failed to write to Twilio stream")
		return err
	}
	return nil
}

// close sends a close frame with code and reason
func (t *twilioTransport) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.logger.Debug().Err(err).Int("code", code).Msg("Failed to send close frame")
	}
}
