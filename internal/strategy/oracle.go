package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
)

// OracleConfig points at the remote model endpoint.
type OracleConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Oracle asks a remote model for a decision over HTTP/JSON.
type Oracle struct {
	cfg        OracleConfig
	httpClient *http.Client
}

// NewOracle creates a remote decision source.
func NewOracle(cfg OracleConfig) *Oracle {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Oracle{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (o *Oracle) Name() string { return "oracle" }

type oracleResponse struct {
	Action     string          `json:"action"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Confidence int             `json:"confidence"`
	Reason     string          `json:"reason"`
}

// Evaluate posts snap and maps the reply. Any transport or decode failure is
// returned so a Fallback can take over.
func (o *Oracle) Evaluate(ctx context.Context, snap Snapshot) (Decision, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return Decision{}, fmt.Errorf("encode snapshot: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	res, err := o.httpClient.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("oracle request: %w", err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Decision{}, fmt.Errorf("oracle read: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("oracle status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out oracleResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Decision{}, fmt.Errorf("oracle decode: %w", err)
	}

	var dir state.Direction
	switch strings.ToUpper(out.Action) {
	case "LONG", "BUY":
		dir = state.Long
	case "SHORT", "SELL":
		dir = state.Short
	case "", "HOLD", "NONE", "SKIP":
		reason := out.Reason
		if reason == "" {
			reason = "oracle: hold"
		}
		return Skip(reason), nil
	default:
		return Decision{}, fmt.Errorf("oracle action %q not understood", out.Action)
	}
	return Trade(TradeSignal{
		Instrument:     snap.Instrument,
		Direction:      dir,
		ReferencePrice: snap.ReferencePrice,
		StopLoss:       out.StopLoss,
		TakeProfit:     out.TakeProfit,
		NotionalUSD:    snap.NotionalUSD,
		Confidence:     out.Confidence,
		Reason:         out.Reason,
	}), nil
}
