package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordingSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionlink_recording_sessions_total",
		Help: "Total number of recording sessions by outcome",
	}, []string{"outcome"})

	RecordingFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionlink_recording_frames_total",
		Help: "Total number of recording frames by result",
	}, []string{"result"})

	RecordingFramesBehind = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionlink_recording_frames_behind",
		Help: "Frames admitted to the recording but not yet encoded",
	})
)

// Recording frame results.
const (
	FrameAdmitted    = "admitted"
	FrameEncoded     = "encoded"
	FrameDecodeError = "decode_error"
	FrameDiscarded   = "discarded"
)

// Recording session outcomes.
const (
	SessionCompleted = "completed"
	SessionAbandoned = "abandoned"
	SessionOpenError = "open_error"
)
