package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cortex_lipsync"

// Metrics holds the engine collectors. Each instance registers on its own
// registerer so tests and embedded engines do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	Frames           *prometheus.CounterVec
	FrameDuration    prometheus.Histogram
	Blinks           prometheus.Counter
	SpeechSegments   prometheus.Counter
	MouthOpen        prometheus.Gauge
	MorphChannels    prometheus.Gauge
	ConnectedClients prometheus.Gauge
	InboundFrames    prometheus.Counter
	DroppedFrames    *prometheus.CounterVec
	ConfigReloads    prometheus.Counter
}

// New creates collectors on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Frames: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Total number of engine frames by mouth mode",
			},
			[]string{"mode"},
		),

		FrameDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "frame_duration_seconds",
				Help:      "Time spent in analysis and engine update per frame",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
			},
		),

		Blinks: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blinks_total",
				Help:      "Total number of blinks started",
			},
		),

		SpeechSegments: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_segments_total",
				Help:      "Total number of completed speech segments",
			},
		),

		MouthOpen: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mouth_open",
				Help:      "Most recent synthesized mouthOpen parameter",
			},
		),

		MorphChannels: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "morph_channels",
				Help:      "Number of morph channels discovered in the loaded scene",
			},
		),

		ConnectedClients: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_clients",
				Help:      "Number of connected WebSocket clients",
			},
		),

		InboundFrames: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_inbound_frames_total",
				Help:      "Total number of audio frames received from clients",
			},
		),

		DroppedFrames: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_dropped_frames_total",
				Help:      "Total number of frames dropped by the stream hub",
			},
			[]string{"reason"},
		),

		ConfigReloads: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of applied configuration reloads",
			},
		),
	}
}
