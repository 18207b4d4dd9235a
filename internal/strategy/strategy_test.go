package strategy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
	"sniper-core/pkg/exchanges/common"
)

// zigzag builds n candles moving up then down by the given steps.
func zigzag(n int, start, up, down float64) []common.Kline {
	out := make([]common.Kline, n)
	c := start
	t0 := time.Unix(1700000000, 0)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			c += up
		} else {
			c -= down
		}
		out[i] = common.Kline{OpenTime: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1}
	}
	return out
}

func TestScorer(t *testing.T) {
	cases := []struct {
		name      string
		klines    []common.Kline
		sentiment float64
		wantDir   state.Direction
		wantConf  int
	}{
		{"drifting up with positive sentiment", zigzag(100, 100, 1, 0.8), 1, state.Long, 60},
		{"drifting down with negative sentiment", zigzag(100, 200, 0.8, 1), -1, state.Short, 60},
		{"trend alone is not enough", zigzag(100, 100, 1, 0.8), 0, "", 0},
		{"too few candles", zigzag(10, 100, 1, 0.8), 1, "", 0},
	}
	s := NewScorer(DefaultScorerConfig())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price := decimal.NewFromFloat(tc.klines[len(tc.klines)-1].Close)
			d, err := s.Evaluate(context.Background(), Snapshot{
				Instrument:     "BTCUSDT",
				ReferencePrice: price,
				NotionalUSD:    decimal.NewFromInt(100),
				Klines:         tc.klines,
				Sentiment:      tc.sentiment,
			})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if tc.wantDir == "" {
				if d.Signal != nil || d.SkipReason == "" {
					t.Fatalf("expected skip, got %+v", d)
				}
				return
			}
			if d.Signal == nil {
				t.Fatalf("expected signal, skipped: %s", d.SkipReason)
			}
			sig := d.Signal
			if sig.Direction != tc.wantDir || sig.Confidence != tc.wantConf {
				t.Fatalf("signal = %s conf %d", sig.Direction, sig.Confidence)
			}
			if err := state.CheckLevels(sig.Direction, sig.ReferencePrice, sig.StopLoss, sig.TakeProfit); err != nil {
				t.Fatalf("levels: %v", err)
			}
			// |sentiment| = 1 scales the 2% base stop by 1.5 before volatility.
			dist := sig.StopLoss.Sub(price).Abs().Div(price)
			if dist.LessThan(decimal.RequireFromString("0.03")) || dist.GreaterThan(decimal.RequireFromString("0.035")) {
				t.Fatalf("stop distance %s outside expected band", dist)
			}
			if !sig.NotionalUSD.Equal(decimal.NewFromInt(100)) {
				t.Fatalf("notional not carried")
			}
		})
	}
}

func TestOracle(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantDir state.Direction
		wantErr bool
	}{
		{"long", 200, `{"action":"LONG","stop_loss":1960,"take_profit":"2080","confidence":80,"reason":"breakout"}`, state.Long, false},
		{"sell alias", 200, `{"action":"sell","stop_loss":"2040","take_profit":"1900","confidence":75}`, state.Short, false},
		{"hold", 200, `{"action":"HOLD","reason":"chop"}`, "", false},
		{"server error", 500, `boom`, "", true},
		{"garbage", 200, `not json`, "", true},
		{"unknown action", 200, `{"action":"MAYBE"}`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer k" {
					t.Errorf("bad request: %s auth=%q", r.Method, r.Header.Get("Authorization"))
				}
				raw, _ := io.ReadAll(r.Body)
				var snap Snapshot
				if err := json.Unmarshal(raw, &snap); err != nil || snap.Instrument != "ETHUSDT" {
					t.Errorf("snapshot not posted: %v %s", err, raw)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			o := NewOracle(OracleConfig{URL: srv.URL, APIKey: "k", Timeout: time.Second})
			d, err := o.Evaluate(context.Background(), Snapshot{Instrument: "ETHUSDT", ReferencePrice: decimal.NewFromInt(2000)})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if tc.wantDir == "" {
				if d.Signal != nil {
					t.Fatalf("expected skip")
				}
				return
			}
			if d.Signal == nil || d.Signal.Direction != tc.wantDir || !d.Signal.ReferencePrice.Equal(decimal.NewFromInt(2000)) {
				t.Fatalf("decision = %+v", d)
			}
		})
	}
}

func TestOracleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	o := NewOracle(OracleConfig{URL: srv.URL, Timeout: 20 * time.Millisecond})
	if _, err := o.Evaluate(context.Background(), Snapshot{Instrument: "ETHUSDT"}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

type stubSource struct {
	name string
	d    Decision
	err  error
	hits int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Evaluate(ctx context.Context, snap Snapshot) (Decision, error) {
	s.hits++
	return s.d, s.err
}

func TestFallback(t *testing.T) {
	primary := &stubSource{name: "oracle", err: errors.New("unreachable")}
	secondary := &stubSource{name: "scorer", d: Skip("flat")}
	f := NewFallback(primary, secondary, zerolog.Nop())

	d, err := f.Evaluate(context.Background(), Snapshot{Instrument: "BTCUSDT"})
	if err != nil || d.SkipReason != "flat" || secondary.hits != 1 {
		t.Fatalf("fallback not used: %+v %v", d, err)
	}
	primary.err = nil
	primary.d = Skip("primary")
	d, _ = f.Evaluate(context.Background(), Snapshot{Instrument: "BTCUSDT"})
	if d.SkipReason != "primary" || secondary.hits != 1 {
		t.Fatalf("secondary called while primary healthy")
	}
	if !strings.Contains(f.Name(), "+") {
		t.Fatalf("name = %s", f.Name())
	}
}
