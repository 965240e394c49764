package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionlink_frames_dispatched_total",
		Help: "Total number of frames handed to subscribers",
	})

	SourceSelectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionlink_source_selects_total",
		Help: "Total number of source-select commands queued by source",
	}, []string{"source"})

	ProtocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionlink_protocol_errors_total",
		Help: "Total number of messages dropped because the body did not match its type",
	})

	SubscriberPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionlink_subscriber_panics_total",
		Help: "Total number of frame subscribers that panicked",
	})
)
