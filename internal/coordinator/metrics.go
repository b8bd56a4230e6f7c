package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cast_coordinator_operations_total",
		Help: "Session operations received, by operation.",
	}, []string{"op"})

	channelConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cast_channel_connections",
		Help: "Currently attached notification-channel connections.",
	})

	upstreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cast_sfu_upstream_failures_total",
		Help: "SFU control-plane calls that failed.",
	})
)
