package colbot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "colbot"

// Metrics holds the bot's prometheus collectors. Each bot gets its own
// registry so tests (and multiple instances in one process) don't
// collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	Commands           *prometheus.CounterVec
	Votes              prometheus.Counter
	StoreOperations    *prometheus.CounterVec
	StoreFallbackWrite prometheus.Counter
	PendingLevels      prometheus.Gauge
	DiscordConnected   prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_total",
				Help:      "Commands handled, by command name and outcome",
			},
			[]string{"command", "outcome"},
		),
		Votes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "votes_total",
				Help:      "Votes successfully recorded",
			},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "store_operations_total",
				Help:      "Store backend operations, by backend, operation and result",
			},
			[]string{"backend", "operation", "result"},
		),
		StoreFallbackWrite: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "store_fallback_writes_total",
				Help:      "Saves written to the local fallback after the primary failed",
			},
		),
		PendingLevels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pending_levels",
				Help:      "Levels in the registry as of the last load or save",
			},
		),
		DiscordConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "discord_connected",
				Help:      "1 while the discord gateway is connected",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "HTTP API requests, by method, route and status",
			},
			[]string{"method", "path", "status"},
		),
	}
	reg.MustRegister(
		m.Commands,
		m.Votes,
		m.StoreOperations,
		m.StoreFallbackWrite,
		m.PendingLevels,
		m.DiscordConnected,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) observeCommand(command string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorOutcome(err)
	}
	m.Commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) observeStore(backend, operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreOperations.WithLabelValues(backend, operation, result).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.PendingLevels.Set(float64(n))
}
