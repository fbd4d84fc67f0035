package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "protoimsg_ws_connections",
		Help: "Authenticated websocket connections on this node.",
	})

	framesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protoimsg_ws_frames_in_total",
		Help: "Inbound client frames, by type.",
	}, []string{"type"})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "protoimsg_ws_frames_dropped_total",
		Help: "Outbound frames dropped because a connection's send queue was full.",
	})

	closesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protoimsg_ws_closes_total",
		Help: "Server-initiated closes, by reason.",
	}, []string{"reason"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protoimsg_ws_rate_limited_total",
		Help: "Client frames refused by rate limiting, by scope.",
	}, []string{"scope"})

	watchNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "protoimsg_presence_watch_notifications_total",
		Help: "Presence frames delivered to community watchers.",
	})
)
