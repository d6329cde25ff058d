// Package metrics holds the Prometheus collectors for the call path. All
// Record methods are no-ops on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the receptionist.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsActive   prometheus.Gauge
	CallsTotal    *prometheus.CounterVec
	CallDuration  prometheus.Histogram
	BargeInsTotal prometheus.Counter
	AudioBytes    *prometheus.CounterVec
	DroppedFrames *prometheus.CounterVec
	// Time from stream start to the first assistant audio and to the first
	// answered utterance.
	CallFirstAudio    prometheus.Histogram
	CallFirstResponse prometheus.Histogram
	UtterancesTotal   prometheus.Counter

	// Conversation metrics
	TurnsTotal        *prometheus.CounterVec
	TurnDuration      *prometheus.HistogramVec
	FirstTextLatency  prometheus.Histogram
	ToolCallsTotal    prometheus.Counter
	BookingsTotal     *prometheus.CounterVec
	SpeechFallbacks   *prometheus.CounterVec
	WebhookCallsTotal *prometheus.CounterVec
}

// New creates a Metrics instance on its own registry, including the Go and
// process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "reception"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls with an open media stream",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Finished calls by outcome",
		}, []string{"outcome"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Media stream duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		BargeInsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Times a caller interrupted the assistant",
		}),
		AudioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes carried on media streams",
		}, []string{"direction"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_audio_frames_total",
			Help:      "Audio frames dropped by reason",
		}, []string{"reason"}),
		CallFirstAudio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_first_audio_seconds",
			Help:      "Time from stream start to the first assistant audio",
			Buckets:   []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
		}),
		CallFirstResponse: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_first_response_seconds",
			Help:      "Time from stream start to the first answered utterance",
			Buckets:   []float64{2, 5, 10, 20, 30, 60, 120},
		}),
		UtterancesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Finished caller utterances",
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed caller utterances by mode and status",
		}, []string{"mode", "status"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to process one caller utterance",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 10, 30},
		}, []string{"mode"}),
		FirstTextLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_text_seconds",
			Help:      "Time from utterance to the first phrase sent to speech",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 5},
		}),
		ToolCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls requested by the model",
		}),
		BookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Bookings created during calls",
		}, []string{"business_id"}),
		SpeechFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_fallbacks_total",
			Help:      "Turns spoken without streaming synthesis, by result",
		}, []string{"result"}),
		WebhookCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_calls_total",
			Help:      "Incoming-call webhooks by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CallsActive,
		m.CallsTotal,
		m.CallDuration,
		m.BargeInsTotal,
		m.AudioBytes,
		m.DroppedFrames,
		m.CallFirstAudio,
		m.CallFirstResponse,
		m.UtterancesTotal,
		m.TurnsTotal,
		m.TurnDuration,
		m.FirstTextLatency,
		m.ToolCallsTotal,
		m.BookingsTotal,
		m.SpeechFallbacks,
		m.WebhookCallsTotal,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

// CallSummary is what a finished call reports.
type CallSummary struct {
	Outcome    string
	Duration   time.Duration
	BargeIns   int
	Utterances int
	BytesIn    int64
	BytesOut   int64
	Dropped    map[string]int
	// Zero when the call never got that far.
	FirstAudio    time.Duration
	FirstResponse time.Duration
}

func (m *Metrics) RecordCallEnd(s CallSummary) {
	if m == nil {
		return
	}
	outcome := s.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(outcome).Inc()
	m.CallDuration.Observe(s.Duration.Seconds())
	m.BargeInsTotal.Add(float64(s.BargeIns))
	m.UtterancesTotal.Add(float64(s.Utterances))
	if s.FirstAudio > 0 {
		m.CallFirstAudio.Observe(s.FirstAudio.Seconds())
	}
	if s.FirstResponse > 0 {
		m.CallFirstResponse.Observe(s.FirstResponse.Seconds())
	}
	if s.BytesIn > 0 {
		m.AudioBytes.WithLabelValues("in").Add(float64(s.BytesIn))
	}
	if s.BytesOut > 0 {
		m.AudioBytes.WithLabelValues("out").Add(float64(s.BytesOut))
	}
	for reason, n := range s.Dropped {
		m.DroppedFrames.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordTurn records one processed utterance.
func (m *Metrics) RecordTurn(mode string, failed bool, toolCalls int, duration, firstText time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "failed"
	}
	m.TurnsTotal.WithLabelValues(mode, status).Inc()
	m.TurnDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if firstText > 0 {
		m.FirstTextLatency.Observe(firstText.Seconds())
	}
	if toolCalls > 0 {
		m.ToolCallsTotal.Add(float64(toolCalls))
	}
}

func (m *Metrics) RecordBooking(businessID string) {
	if m == nil {
		return
	}
	m.BookingsTotal.WithLabelValues(businessID).Inc()
}

// RecordSpeechFallback counts a turn synthesized in one request; result is
// "audio", "clip" or "silent".
func (m *Metrics) RecordSpeechFallback(result string) {
	if m == nil {
		return
	}
	m.SpeechFallbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordWebhook(result string) {
	if m == nil {
		return
	}
	m.WebhookCallsTotal.WithLabelValues(result).Inc()
}
