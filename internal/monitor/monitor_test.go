package monitor

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sniper-core/internal/events"
)

type memSink struct{ msgs []string }

func (s *memSink) Send(message string) error {
	s.msgs = append(s.msgs, message)
	return nil
}

func TestHandleUpdatesMetrics(t *testing.T) {
	m := NewMetrics(Gauges{OpenPositions: func() int { return 2 }, HaltedInstruments: func() int { return 1 }})
	sink := &memSink{}
	mon := New(nil, m, sink, zerolog.Nop())

	mon.Handle(events.SignalOutcome{Instrument: "BTCUSDT", Outcome: "opened"})
	mon.Handle(events.SignalOutcome{Instrument: "ETHUSDT", Outcome: "skipped"})
	mon.Handle(events.SignalOutcome{Instrument: "ETHUSDT", Outcome: "skipped"})
	mon.Handle(events.OrderPlaced{Leg: "ENTRY"})
	mon.Handle(events.OrderPlaced{Leg: "STOP_LOSS", Err: errors.New("rejected")})
	mon.Handle(events.TradeClosed{CloseReason: "TAKE_PROFIT_FILLED", PnlUSD: decimal.NewFromInt(4)})
	mon.Handle(events.TradeClosed{CloseReason: "STOP_LOSS_FILLED", PnlUSD: decimal.NewFromInt(-2)})
	mon.Handle(events.Incident{Instrument: "BTCUSDT", Kind: "UNMANAGED_POSITION", Detail: "close rejected"})
	mon.Handle(events.HaltChanged{Instrument: "BTCUSDT", Halted: false, Operator: "alice"})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"signals opened", testutil.ToFloat64(m.signals.WithLabelValues("opened")), 1},
		{"signals skipped", testutil.ToFloat64(m.signals.WithLabelValues("skipped")), 2},
		{"entry ok", testutil.ToFloat64(m.orders.WithLabelValues("ENTRY", "ok")), 1},
		{"stop-loss error", testutil.ToFloat64(m.orders.WithLabelValues("STOP_LOSS", "error")), 1},
		{"tp closes", testutil.ToFloat64(m.tradesClosed.WithLabelValues("TAKE_PROFIT_FILLED")), 1},
		{"pnl", testutil.ToFloat64(m.realizedPnl), 4},
		{"loss", testutil.ToFloat64(m.realizedLoss), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if len(sink.msgs) != 2 || !strings.Contains(sink.msgs[0], "UNMANAGED_POSITION") || !strings.Contains(sink.msgs[1], "alice") {
		t.Fatalf("alerts = %v", sink.msgs)
	}
}

func TestHandlerExposesGauges(t *testing.T) {
	m := NewMetrics(Gauges{OpenPositions: func() int { return 3 }, HaltedInstruments: func() int { return 0 }})
	m.ObserveGatewayCall("place_order", 30*time.Millisecond, nil)
	m.ObserveGatewayCall("place_order", 30*time.Millisecond, errors.New("timeout"))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	res, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	text := string(body)
	for _, want := range []string{
		"sniper_open_positions 3",
		"sniper_halted_instruments 0",
		`sniper_gateway_latency_seconds_count{op="place_order"} 2`,
		`sniper_gateway_errors_total{op="place_order"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
