package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gauges supplies the point-in-time values scraped with every collection.
type Gauges struct {
	OpenPositions     func() int
	HaltedInstruments func() int
}

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	signals        *prometheus.CounterVec
	orders         *prometheus.CounterVec
	tradesClosed   *prometheus.CounterVec
	realizedPnl    prometheus.Counter
	realizedLoss   prometheus.Counter
	gatewayLatency *prometheus.HistogramVec
	gatewayErrors  *prometheus.CounterVec
}

// NewMetrics registers every collector.
func NewMetrics(g Gauges) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sniper_signals_total", Help: "Evaluated signals by outcome"},
			[]string{"outcome"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sniper_orders_total", Help: "Order placements by leg and result"},
			[]string{"leg", "result"},
		),
		tradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sniper_trades_closed_total", Help: "Closed trades by close reason"},
			[]string{"reason"},
		),
		// Counters only go up, so profit and loss are tracked separately.
		realizedPnl: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "sniper_realized_pnl_usd_total", Help: "Sum of realized profit in USD"},
		),
		realizedLoss: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "sniper_realized_loss_usd_total", Help: "Sum of realized loss in USD"},
		),
		gatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sniper_gateway_latency_seconds",
				Help:    "Venue call latency by operation",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sniper_gateway_errors_total", Help: "Failed venue calls by operation"},
			[]string{"op"},
		),
	}
	m.registry.MustRegister(m.signals, m.orders, m.tradesClosed, m.realizedPnl, m.realizedLoss,
		m.gatewayLatency, m.gatewayErrors)
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if g.OpenPositions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "sniper_open_positions", Help: "Registry entries not CLOSED"},
			func() float64 { return float64(g.OpenPositions()) },
		))
	}
	if g.HaltedInstruments != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "sniper_halted_instruments", Help: "Instruments awaiting operator acknowledgment"},
			func() float64 { return float64(g.HaltedInstruments()) },
		))
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the collectors, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveGatewayCall implements gateway.Observer.
func (m *Metrics) ObserveGatewayCall(op string, took time.Duration, err error) {
	m.gatewayLatency.WithLabelValues(op).Observe(took.Seconds())
	if err != nil {
		m.gatewayErrors.WithLabelValues(op).Inc()
	}
}
