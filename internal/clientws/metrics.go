package clientws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clientws_connections",
		Help: "Open widget websocket connections",
	})

	metricInboundDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clientws_inbound_dropped_total",
		Help: "Inbound widget messages dropped, by reason",
	}, []string{"reason"})

	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clientws_commands_total",
		Help: "Commands sent to widgets",
	}, []string{"type"})

	metricAckTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clientws_ack_timeouts_total",
		Help: "Commands whose ack did not arrive in time",
	}, []string{"type"})
)
