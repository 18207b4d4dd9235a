package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceSink receives mark price updates.
type PriceSink interface {
	Set(symbol string, price decimal.Decimal)
}

// MarkPriceStream keeps a PriceSink fed from the USDT-M futures markPrice
// combined stream, reconnecting with exponential backoff.
type MarkPriceStream struct {
	StreamURL string
	symbols   []string
	sink      PriceSink
	dialer    *websocket.Dialer
	logger    zerolog.Logger
}

// NewMarkPriceStream builds a stream for symbols; testnet toggles the host.
func NewMarkPriceStream(testnet bool, symbols []string, sink PriceSink, logger zerolog.Logger) *MarkPriceStream {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &MarkPriceStream{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/stream"}).String(),
		symbols:   symbols,
		sink:      sink,
		dialer:    websocket.DefaultDialer,
		logger:    logger.With().Str("component", "mark-price-stream").Logger(),
	}
}

func (s *MarkPriceStream) endpoint() string {
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		// Binance requires lowercase symbols for WebSocket streams
		streams = append(streams, strings.ToLower(sym)+"@markPrice@1s")
	}
	return s.StreamURL + "?streams=" + strings.Join(streams, "/")
}

// Run blocks until ctx is cancelled, redialing after every disconnect.
func (s *MarkPriceStream) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := s.session(ctx, bo.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("mark price stream disconnected")
	})
}

// session reads one connection until it fails. onConnect resets the backoff.
func (s *MarkPriceStream) session(ctx context.Context, onConnect func()) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("dial binance futures ws: %w", err)
	}
	defer conn.Close()
	onConnect()
	s.logger.Info().Strs("symbols", s.symbols).Msg("mark price stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("stream closed: %w", err)
			}
			return fmt.Errorf("read: %w", err)
		}
		sym, price, err := parseMarkPrice(msg)
		if err != nil {
			s.logger.Debug().Err(err).Msg("skip mark price message")
			continue
		}
		s.sink.Set(sym, price)
	}
}

// parseMarkPrice decodes a combined-stream markPriceUpdate event.
func parseMarkPrice(msg []byte) (string, decimal.Decimal, error) {
	var raw struct {
		Data struct {
			Event  string `json:"e"`
			Symbol string `json:"s"`
			Price  string `json:"p"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return "", decimal.Zero, err
	}
	if raw.Data.Event != "markPriceUpdate" {
		return "", decimal.Zero, fmt.Errorf("unexpected event %q", raw.Data.Event)
	}
	p, err := decimal.NewFromString(raw.Data.Price)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("parse mark price: %w", err)
	}
	return raw.Data.Symbol, p, nil
}
