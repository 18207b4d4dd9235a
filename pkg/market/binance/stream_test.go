package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type sink struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (s *sink) Set(symbol string, p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = p
}

func (s *sink) get(symbol string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	return p, ok
}

func TestParseMarkPrice(t *testing.T) {
	sym, p, err := parseMarkPrice([]byte(`{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1,"s":"BTCUSDT","p":"50123.40"}}`))
	if err != nil || sym != "BTCUSDT" || !p.Equal(decimal.RequireFromString("50123.4")) {
		t.Fatalf("got %s %s %v", sym, p, err)
	}
	if _, _, err := parseMarkPrice([]byte(`{"data":{"e":"kline"}}`)); err == nil {
		t.Fatalf("expected error for non mark price event")
	}
}

func TestMarkPriceStreamFeedsSink(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "btcusdt@markPrice@1s") {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{"e":"markPriceUpdate","s":"BTCUSDT","p":"50000"}}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	out := &sink{prices: map[string]decimal.Decimal{}}
	s := NewMarkPriceStream(false, []string{"BTCUSDT"}, out, zerolog.Nop())
	s.StreamURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if p, ok := out.get("BTCUSDT"); ok {
			if !p.Equal(decimal.NewFromInt(50000)) {
				t.Fatalf("price = %s", p)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no price received")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
