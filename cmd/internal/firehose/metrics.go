package firehose

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protoimsg_firehose_events_total",
		Help: "Stream events received, by kind.",
	}, []string{"kind"})

	eventErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protoimsg_firehose_event_errors_total",
		Help: "Stream events that failed to decode or apply, by stage.",
	}, []string{"stage"})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "protoimsg_firehose_reconnects_total",
		Help: "Upstream connection attempts after the first.",
	})

	cursorGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "protoimsg_firehose_cursor_time_us",
		Help: "time_us of the last persisted cursor.",
	})
)
