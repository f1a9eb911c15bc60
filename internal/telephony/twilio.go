package telephony

import (
	"fmt"
	"strconv"
)

// Twilio Media Streams event names
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

// MediaFormatMulaw is the only inbound encoding Twilio streams use
const MediaFormatMulaw = "audio/x-mulaw"

// StreamMessage is one inbound message from Twilio Media Streams
type StreamMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload describes the stream when it starts
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

// MediaFormat describes the encoding of inbound payloads
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one chunk of base64 μ-law audio
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload names a playback position
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload is sent when the stream ends
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// DTMFPayload reports a keypress on the call
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// outboundMessage is sent to Twilio: media, mark or clear
type outboundMessage struct {
	Event     string         `json:"event"`
	StreamSid string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
	Mark      *MarkPayload   `json:"mark,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

// SessionProtocolError reports a stream that broke the Media Streams message contract.
// The session is closed and the socket is closed with policy violation (1008).
type SessionProtocolError struct {
	StreamSID string
	Event     string
	Reason    string
}

func (e *SessionProtocolError) Error() string {
	if e.StreamSID == "" {
		return fmt.Sprintf("protocol error on %s event: %s", e.Event, e.Reason)
	}
	return fmt.Sprintf("protocol error on stream %s, %s event: %s", e.StreamSID, e.Event, e.Reason)
}

// parseCounter parses the decimal counters Twilio sends as strings
func parseCounter(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid counter %q", s)
	}
	return n, nil
}
