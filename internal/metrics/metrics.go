package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "homesync_voice"

// Metrics holds every series the voice engine exports.
type Metrics struct {
	SessionsStarted      prometheus.Counter
	SessionStartFailures *prometheus.CounterVec
	SessionsOpen         prometheus.Gauge
	ChannelCloseFailures prometheus.Counter

	FramesSent    prometheus.Counter
	FramesDropped *prometheus.CounterVec
	CodecErrors   prometheus.Counter
	InputLevel    prometheus.Gauge

	SegmentsScheduled prometheus.Counter
	PlaybackLead      prometheus.Gauge

	Commands   *prometheus.CounterVec
	Dispatches *prometheus.CounterVec
}

// New registers the engine metrics on reg. Passing a fresh registry keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Voice sessions that reached the connecting state.",
		}),
		SessionStartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_start_failures_total",
			Help:      "Voice session starts that failed, by reason.",
		}, []string{"reason"}),
		SessionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Voice sessions currently open.",
		}),
		ChannelCloseFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_close_failures_total",
			Help:      "Backend channel close calls that returned an error.",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_sent_total",
			Help:      "Microphone frames handed to the backend channel.",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_dropped_total",
			Help:      "Microphone frames dropped, by reason.",
		}, []string{"reason"}),
		CodecErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_errors_total",
			Help:      "Inbound audio chunks that failed to decode.",
		}),
		InputLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_input_rms",
			Help:      "RMS level of the most recent microphone block.",
		}),
		SegmentsScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_scheduled_total",
			Help:      "Audio segments scheduled for playback.",
		}),
		PlaybackLead: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_lead_seconds",
			Help:      "Audio scheduled ahead of the output clock.",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Structured commands seen at turn completion, by action and result.",
		}, []string{"action", "result"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatched commands, by mode and result.",
		}, []string{"mode", "result"}),
	}
}

// Nop returns metrics bound to a private registry, for callers that do not export them.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
