// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_connected_clients",
		Help: "Number of authenticated sessions currently registered",
	})

	OpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_open_connections",
		Help: "Number of accepted connections, authenticated or not",
	})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linechat_commands_total",
		Help: "Client commands processed by kind and outcome",
	}, []string{"command", "outcome"})

	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linechat_command_duration_seconds",
		Help:    "Time to process each command kind",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linechat_deliveries_total",
		Help: "Lines queued to sessions by kind",
	}, []string{"kind"})

	EvictedSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_evicted_sessions_total",
		Help: "Sessions closed because their outbound queue was full",
	})

	AcceptErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_accept_errors_total",
		Help: "Listener accept failures",
	})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(OpenConnections)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(EvictedSessions)
	prometheus.MustRegister(AcceptErrors)
}
