package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the adapter's operational statistics. All methods are
// safe on a nil receiver so components can run without metrics wired in.
type Metrics struct {
	commandsTotal   *prometheus.CounterVec
	commandFailures *prometheus.CounterVec
	coverRuntime    *prometheus.CounterVec
	gatewayOnline   prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inelnet_commands_total",
			Help: "Total RF commands delivered to the gateway, by action.",
		}, []string{"action"}),
		commandFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inelnet_command_failures_total",
			Help: "Total RF commands that exhausted all delivery attempts, by action.",
		}, []string{"action"}),
		coverRuntime: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inelnet_cover_runtime_seconds_total",
			Help: "Accumulated motor runtime per cover in seconds.",
		}, []string{"cover"}),
		gatewayOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inelnet_gateway_online",
			Help: "Whether recent gateway transports succeeded (1 online, 0 offline). Reflects delivery, not physical state.",
		}),
	}

	prometheus.MustRegister(
		m.commandsTotal,
		m.commandFailures,
		m.coverRuntime,
		m.gatewayOnline,
	)

	m.gatewayOnline.Set(1)

	return m
}

// Handler serves the default Prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) CommandSent(action string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) CommandFailed(action string) {
	if m == nil {
		return
	}
	m.commandFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) CoverRan(cover string, d time.Duration) {
	if m == nil {
		return
	}
	m.coverRuntime.WithLabelValues(cover).Add(d.Seconds())
}

func (m *Metrics) SetGatewayOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.gatewayOnline.Set(1)
	} else {
		m.gatewayOnline.Set(0)
	}
}
