// Package monitor turns lifecycle events into Prometheus metrics and operator
// alerts.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sniper-core/internal/events"
)

// Monitor watches the bus, updates metrics and forwards incidents to a sink.
type Monitor struct {
	bus     *events.Bus
	metrics *Metrics
	sink    AlertSink
	logger  zerolog.Logger
}

// New creates a monitor. sink may be nil.
func New(bus *events.Bus, metrics *Metrics, sink AlertSink, logger zerolog.Logger) *Monitor {
	return &Monitor{bus: bus, metrics: metrics, sink: sink, logger: logger.With().Str("component", "monitor").Logger()}
}

// Start subscribes to every lifecycle topic. Subscriptions end with ctx; the
// returned wait function blocks until every consumer has drained.
func (m *Monitor) Start(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	topics := []events.Event{
		events.EventSignalOutcome,
		events.EventOrderPlaced,
		events.EventTradeClosed,
		events.EventIncident,
		events.EventHaltChanged,
	}
	for _, topic := range topics {
		stream, unsub := m.bus.Subscribe(topic, 128)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					m.Handle(msg)
				}
			}
		}()
	}
	return wg.Wait
}

// Handle applies one event payload.
func (m *Monitor) Handle(msg any) {
	switch ev := msg.(type) {
	case events.SignalOutcome:
		m.metrics.signals.WithLabelValues(ev.Outcome).Inc()
	case events.OrderPlaced:
		result := "ok"
		if ev.Err != nil {
			result = "error"
		}
		m.metrics.orders.WithLabelValues(ev.Leg, result).Inc()
	case events.TradeClosed:
		m.metrics.tradesClosed.WithLabelValues(ev.CloseReason).Inc()
		v, _ := ev.PnlUSD.Float64()
		if v >= 0 {
			m.metrics.realizedPnl.Add(v)
		} else {
			m.metrics.realizedLoss.Add(-v)
		}
	case events.Incident:
		m.alert(fmt.Sprintf("[%s] %s %s: %s", time.Now().UTC().Format(time.RFC3339), ev.Instrument, ev.Kind, ev.Detail))
	case events.HaltChanged:
		if !ev.Halted {
			m.alert(fmt.Sprintf("[%s] %s resumed by %s", time.Now().UTC().Format(time.RFC3339), ev.Instrument, ev.Operator))
		}
	}
}

func (m *Monitor) alert(text string) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Send(text); err != nil {
		m.logger.Warn().Err(err).Msg("alert delivery failed")
	}
}
