package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceorb_active_sessions",
		Help: "Number of connected shell sessions",
	})
	AudioLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceorb_audio_level",
		Help: "Most recent smoothed audio level (0..1)",
	})
)

// Counters
var (
	ConnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceorb_connects_total",
		Help: "Total successful backend connects",
	})
	ConnectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceorb_connect_failures_total",
		Help: "Total failed connect attempts by error kind",
	}, []string{"kind"})
	FramesRenderedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceorb_frames_rendered_total",
		Help: "Total visualization frames rendered",
	})
	RenderErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceorb_render_errors_total",
		Help: "Total per-frame render errors recovered",
	})
	PeaksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceorb_audio_peaks_total",
		Help: "Total sampler peak events",
	})
	ProtocolViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceorb_protocol_violations_total",
		Help: "Total backend protocol violations logged and ignored",
	})
	GuardrailTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceorb_guardrail_trips_total",
		Help: "Total assistant turns flagged by the guardrail hook",
	})
	EncodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceorb_opus_encode_errors_total",
		Help: "Total Opus encode failures on the mic path",
	})
)
