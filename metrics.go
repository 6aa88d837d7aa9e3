package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	// Capture loop
	buffersProcessed prometheus.Counter
	deadlineOverruns prometheus.Counter
	iterationSeconds prometheus.Histogram

	// Channels
	channelRMS *prometheus.GaugeVec
	recording  *prometheus.GaugeVec

	// Sessions
	recordingsStarted     prometheus.Counter
	recordingsCompleted   prometheus.Counter
	sinkErrors            prometheus.Counter
	transcriptionFailures prometheus.Counter
	persistenceFailures   prometheus.Counter
	handoffDepth          prometheus.Gauge

	// Observers
	observers       *prometheus.GaugeVec
	droppedMessages *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		buffersProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrscribe_buffers_processed_total",
			Help: "Wideband buffers read from the capture device and channelized",
		}),
		deadlineOverruns: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrscribe_deadline_overruns_total",
			Help: "Loop iterations that took longer than one buffer's worth of capture time",
		}),
		iterationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sdrscribe_iteration_seconds",
			Help:    "Time spent channelizing one wideband buffer",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		channelRMS: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdrscribe_channel_rms",
			Help: "RMS of the channel-filtered signal for the last buffer",
		}, []string{"channel"}),
		recording: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdrscribe_channel_recording",
			Help: "1 while the channel has an open recording session",
		}, []string{"channel"}),
		recordingsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrscribe_recordings_started_total",
			Help: "Recording sessions opened",
		}),
		recordingsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrscribe_recordings_completed_total",
			Help: "Recording sessions finalized and persisted",
		}),
		sinkErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrscribe_sink_errors_total",
			Help: "Audio sink open, write or finalize failures",
		}),
		transcriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrscribe_transcription_failures_total",
			Help: "Recordings stored without text because transcription failed",
		}),
		persistenceFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrscribe_persistence_failures_total",
			Help: "Completed recordings that could not be stored",
		}),
		handoffDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "sdrscribe_handoff_queue_depth",
			Help: "Jobs waiting for a handoff worker",
		}),
		observers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdrscribe_observers",
			Help: "Connected websocket observers",
		}, []string{"hub"}),
		droppedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sdrscribe_dropped_messages_total",
			Help: "Messages not delivered to a slow observer",
		}, []string{"hub"}),
	}
}
