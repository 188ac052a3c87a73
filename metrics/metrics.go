package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClientMetrics struct {
	RequestCount    *prometheus.CounterVec
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type TranscodeAPIMetrics struct {
	HTTPRequestsInFlight prometheus.Gauge

	PlaylistRequestCount      prometheus.Counter
	PlaylistSynthDurationSec  prometheus.Histogram
	SegmentRequestDurationSec *prometheus.SummaryVec

	EncodesInFlight   prometheus.Gauge
	EncodeDurationSec *prometheus.HistogramVec

	ContinuousWorkersRunning prometheus.Gauge
	ContinuousSuspendCount   prometheus.Counter
	ContinuousResumeCount    prometheus.Counter
	ContinuousKillCount      *prometheus.CounterVec

	PipelineStepDurationSec *prometheus.SummaryVec

	MetadataClient ClientMetrics
}

func NewMetrics() *TranscodeAPIMetrics {
	m := &TranscodeAPIMetrics{
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		}),

		// Playlist and segment serving metrics
		PlaylistRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playlist_request_count",
			Help: "The total number of playlist requests served",
		}),
		PlaylistSynthDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "playlist_synth_duration_seconds",
			Help:    "Time taken to synthesize a playlist from source keyframes",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SegmentRequestDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "segment_request_duration_seconds",
			Help: "The latency of segment requests broken up by kind and success",
		}, []string{"kind", "success"}),

		// Encoder metrics
		EncodesInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "encodes_in_flight",
			Help: "Number of encoder processes currently running",
		}),
		EncodeDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "encode_duration_seconds",
			Help:    "Time taken by encoder invocations broken up by kind",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),

		// Continuous worker supervision metrics
		ContinuousWorkersRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "continuous_workers_running",
			Help: "Number of continuous encoder workers currently supervised",
		}),
		ContinuousSuspendCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "continuous_suspend_count",
			Help: "Times a continuous encoder was suspended for running ahead of playback",
		}),
		ContinuousResumeCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "continuous_resume_count",
			Help: "Times a suspended continuous encoder was resumed",
		}),
		ContinuousKillCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "continuous_kill_count",
			Help: "Times a continuous encoder was killed, broken up by reason",
		}, []string{"reason"}),

		// Post-upload pipeline metrics
		PipelineStepDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "pipeline_step_duration_seconds",
			Help: "The time post-upload pipeline steps take, broken up by step and success",
		}, []string{"step", "success"}),

		// Clients metrics
		MetadataClient: ClientMetrics{
			RequestCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "metadata_client_request_count",
				Help: "The total number of requests to the metadata provider",
			}, []string{"host"}),
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "metadata_client_retry_count",
				Help: "The number of retries of a successful request to the metadata provider",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "metadata_client_failure_count",
				Help: "The total number of failed metadata provider requests",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "metadata_client_request_duration",
				Help:    "Time taken for metadata provider requests",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host"}),
		},
	}

	return m
}

var Metrics = NewMetrics()
