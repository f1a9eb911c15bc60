package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels for voice_turn_dropped_frames_total
const (
	DropQueueFull = "queue_full"
	DropCodec     = "codec"
	DropClosed    = "closed"
	DropPayload   = "payload"
)

// Labels for voice_turn_turns_total
const (
	OutcomeCompleted       = "completed"
	OutcomeDiscardedShort  = "discarded_short"
	OutcomeEmptyTranscript = "empty_transcript"
	OutcomeFailed          = "failed"
	OutcomeInterrupted     = "interrupted"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_turn_active_sessions",
		Help: "Number of active media stream sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_turn_sessions_total",
		Help: "Total number of media stream sessions opened",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_turn_session_duration_seconds",
		Help:    "Duration of media stream sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	sessionTeardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_session_teardowns_total",
		Help: "Sessions ended by the gateway rather than the caller",
	}, []string{"reason"})

	// Frame metrics
	inboundFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_turn_inbound_frames_total",
		Help: "Inbound audio frames accepted into session queues",
	})

	droppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_dropped_frames_total",
		Help: "Inbound audio frames dropped before reaching the detector",
	}, []string{"reason"})

	outboundFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_turn_outbound_frames_total",
		Help: "Outbound audio frames transmitted to the telephony edge",
	})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Detection and turn metrics
	vadEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_vad_events_total",
		Help: "Speech start and end events raised by the detector",
	}, []string{"type"})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_turns_total",
		Help: "Turns by outcome",
	}, []string{"outcome"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_turn_stage_latency_seconds",
		Help:    "Latency of each turn stage in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_stage_failures_total",
		Help: "Turn aborts by the stage that failed",
	}, []string{"stage"})

	timeToFirstAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_turn_time_to_first_audio_seconds",
		Help:    "Time from speech end to the first transmitted reply frame",
		Buckets: []float64{0.25, 0.5, 0.75, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_turn_barge_ins_total",
		Help: "Speech starts detected while a turn was in flight",
	})

	// Provider metrics
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_provider_requests_total",
		Help: "Remote provider calls by provider and status",
	}, []string{"provider", "status"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_turn_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	phraseCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_phrase_cache_total",
		Help: "Phrase cache lookups by result",
	}, []string{"result"})

	legacyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_legacy_requests_total",
		Help: "Record-then-process fallback requests by status",
	}, []string{"status"})
)

// Metrics records per-session measurements. It only touches prometheus collectors,
// which are safe for concurrent use, so the session worker and its turn may share it.
type Metrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTeardown records a gateway-initiated session end
func (m *Metrics) RecordTeardown(reason string) {
	sessionTeardowns.WithLabelValues(reason).Inc()
}

// RecordInboundFrame records a frame accepted into the session queue
func (m *Metrics) RecordInboundFrame(bytes int) {
	inboundFrames.Inc()
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordDroppedFrame records a frame dropped for the given reason
func (m *Metrics) RecordDroppedFrame(reason string) {
	droppedFrames.WithLabelValues(reason).Inc()
}

// RecordOutboundFrame records a transmitted reply frame
func (m *Metrics) RecordOutboundFrame(bytes int) {
	outboundFrames.Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordVADEvent records a detector transition
func (m *Metrics) RecordVADEvent(eventType string) {
	vadEvents.WithLabelValues(eventType).Inc()
}

// RecordTurn records a finished turn
func (m *Metrics) RecordTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordStage records the latency of one stage and, on failure, the stage that failed
func (m *Metrics) RecordStage(stage string, latency time.Duration, success bool) {
	stageLatency.WithLabelValues(stage).Observe(latency.Seconds())
	if !success {
		stageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordTimeToFirstAudio records the delay from speech end to the first reply frame
func (m *Metrics) RecordTimeToFirstAudio(d time.Duration) {
	timeToFirstAudio.Observe(d.Seconds())
}

// RecordBargeIn records speech detected while a turn was in flight
func (m *Metrics) RecordBargeIn() {
	bargeIns.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordProviderRequest records the outcome of a remote provider call
func RecordProviderRequest(provider string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	providerRequests.WithLabelValues(provider, status).Inc()
}

// RecordPhraseCache records a phrase cache lookup ("hit", "miss" or "error")
func RecordPhraseCache(result string) {
	phraseCache.WithLabelValues(result).Inc()
}

// RecordLegacyRequest records a record-then-process request
func RecordLegacyRequest(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	legacyRequests.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordStreamDrop records inbound stream audio dropped before it reached a session
func RecordStreamDrop(reason string) {
	droppedFrames.WithLabelValues(reason).Inc()
}

// RecordProtocolError records a media stream closed for a protocol violation
func RecordProtocolError(event string) {
	errorsTotal.WithLabelValues("protocol_"+event, "telephony").Inc()
}
