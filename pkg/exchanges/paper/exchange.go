// Package paper is an in-process futures venue that fills market orders at a
// simulated mark price and triggers resting reduce-only protective orders as
// that price walks.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sniper-core/pkg/exchanges/common"
)

// PriceFeed supplies an external mark price, e.g. the websocket stream cache.
type PriceFeed func(symbol string) (decimal.Decimal, bool)

// Config tunes the simulation.
type Config struct {
	Balance     decimal.Decimal
	FeeRate     float64 // e.g. 0.0004 = 4 bps
	SlippageBps float64 // max adverse slippage on market fills
	Volatility  float64 // stddev of each random-walk step as a fraction of price
	Rules       map[string]common.SymbolRules
	Prices      map[string]decimal.Decimal
	Feed        PriceFeed
	Seed        int64
}

// Exchange implements common.Gateway and common.MarketData.
type Exchange struct {
	mu        sync.Mutex
	cfg       Config
	rng       *rand.Rand
	rules     map[string]common.SymbolRules
	prices    map[string]decimal.Decimal
	history   map[string][]common.Kline
	positions map[string]*common.Position
	orders    map[string]*order
	leverage  map[string]int
	balance   decimal.Decimal
	nextID    int64
	logger    zerolog.Logger
}

type order struct {
	req    common.OrderRequest
	id     string
	status common.OrderStatus
	avg    decimal.Decimal
	filled decimal.Decimal
}

var (
	_ common.Gateway    = (*Exchange)(nil)
	_ common.MarketData = (*Exchange)(nil)
)

const historyCap = 500

// New creates a paper venue.
func New(cfg Config, logger zerolog.Logger) *Exchange {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.Volatility == 0 {
		cfg.Volatility = 0.001
	}
	e := &Exchange{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		rules:     make(map[string]common.SymbolRules),
		prices:    make(map[string]decimal.Decimal),
		history:   make(map[string][]common.Kline),
		positions: make(map[string]*common.Position),
		orders:    make(map[string]*order),
		leverage:  make(map[string]int),
		balance:   cfg.Balance,
		logger:    logger.With().Str("component", "paper").Logger(),
	}
	for sym, r := range cfg.Rules {
		e.rules[sym] = r
	}
	for sym, p := range cfg.Prices {
		e.prices[sym] = p
	}
	return e
}

// DefaultRules are used for symbols without configured rules.
func DefaultRules(symbol string) common.SymbolRules {
	return common.SymbolRules{
		Symbol:       symbol,
		QuantityStep: decimal.RequireFromString("0.001"),
		MinQuantity:  decimal.RequireFromString("0.001"),
		MaxQuantity:  decimal.NewFromInt(1000),
		PriceTick:    decimal.RequireFromString("0.1"),
		MinNotional:  decimal.NewFromInt(5),
	}
}

// SetPrice moves the mark price and triggers any resting orders it crosses.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setPriceLocked(symbol, price)
}

// Start advances every known symbol once per interval until ctx is done.
func (e *Exchange) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Step()
			}
		}
	}()
}

// Step moves every symbol either to its feed price or one random-walk step.
func (e *Exchange) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sym, p := range e.prices {
		if e.cfg.Feed != nil {
			if fp, ok := e.cfg.Feed(sym); ok {
				e.setPriceLocked(sym, fp)
				continue
			}
		}
		move := e.rng.NormFloat64() * e.cfg.Volatility
		e.setPriceLocked(sym, e.roundPrice(sym, p.Mul(decimal.NewFromFloat(1+move))))
	}
}

// Balance returns the simulated wallet balance.
func (e *Exchange) Balance() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

func (e *Exchange) GetSymbolRules(_ context.Context, symbol string) (common.SymbolRules, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rulesLocked(symbol), nil
}

func (e *Exchange) GetReferencePrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper: no price for %s", symbol)
	}
	return p, nil
}

func (e *Exchange) PlaceOrder(_ context.Context, req common.OrderRequest) (common.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[req.Symbol]
	if !ok {
		return common.OrderResult{}, &common.APIError{HTTPStatus: 400, Code: -1121, Msg: "Invalid symbol."}
	}
	if !req.Qty.IsPositive() {
		return common.OrderResult{}, &common.APIError{HTTPStatus: 400, Code: -4003, Msg: "Quantity less than or equal to zero."}
	}
	if req.ReduceOnly && !e.reducesLocked(req.Symbol, req.Side) {
		return common.OrderResult{}, &common.APIError{HTTPStatus: 400, Code: -2022, Msg: "ReduceOnly Order is rejected."}
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	e.nextID++
	o := &order{req: req, id: strconv.FormatInt(e.nextID, 10), status: common.StatusOpen}
	e.orders[o.id] = o

	switch {
	case req.Type == common.OrderTypeMarket:
		e.fillLocked(o, e.slip(req.Symbol, req.Side, price))
	case req.Type.IsConditional():
		if e.triggeredLocked(o, price) {
			return common.OrderResult{}, &common.APIError{HTTPStatus: 400, Code: -2021, Msg: "Order would immediately trigger."}
		}
	case req.Type == common.OrderTypeLimit:
		if (req.Side == common.SideBuy && req.Price.GreaterThanOrEqual(price)) ||
			(req.Side == common.SideSell && req.Price.LessThanOrEqual(price)) {
			e.fillLocked(o, price)
		}
	}
	return common.OrderResult{OrderID: o.id, ClientID: req.ClientID, Status: o.status, AvgPrice: o.avg, FilledQty: o.filled}, nil
}

func (e *Exchange) GetOrderStatus(_ context.Context, symbol, orderID string) (common.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.req.Symbol != symbol {
		return common.OrderState{}, &common.APIError{HTTPStatus: 400, Code: -2013, Msg: "Order does not exist."}
	}
	return common.OrderState{Status: o.status, AvgPrice: o.avg, FilledQty: o.filled}, nil
}

func (e *Exchange) GetOpenPosition(_ context.Context, symbol string) (*common.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (e *Exchange) CancelOrder(_ context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.req.Symbol != symbol {
		return &common.APIError{HTTPStatus: 400, Code: -2011, Msg: "Unknown order sent."}
	}
	if o.status.Terminal() {
		return &common.APIError{HTTPStatus: 400, Code: -2011, Msg: "Unknown order sent."}
	}
	o.status = common.StatusCanceled
	return nil
}

func (e *Exchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 || leverage > 125 {
		return &common.APIError{HTTPStatus: 400, Code: -4028, Msg: "Leverage is not valid."}
	}
	e.mu.Lock()
	e.leverage[symbol] = leverage
	e.mu.Unlock()
	return nil
}

// Klines returns the recorded price path as candles, oldest first.
func (e *Exchange) Klines(_ context.Context, symbol, _ string, limit int) ([]common.Kline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.history[symbol]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]common.Kline, len(h))
	copy(out, h)
	return out, nil
}

func (e *Exchange) rulesLocked(symbol string) common.SymbolRules {
	if r, ok := e.rules[symbol]; ok {
		return r
	}
	return DefaultRules(symbol)
}

func (e *Exchange) roundPrice(symbol string, p decimal.Decimal) decimal.Decimal {
	tick := e.rulesLocked(symbol).PriceTick
	if !tick.IsPositive() {
		return p
	}
	return p.Div(tick).Round(0).Mul(tick)
}

// slip applies adverse slippage: buys fill higher, sells lower.
func (e *Exchange) slip(symbol string, side common.Side, price decimal.Decimal) decimal.Decimal {
	frac := e.cfg.SlippageBps / 10000.0
	if frac <= 0 {
		return price
	}
	noise := e.rng.Float64() * frac
	if side == common.SideSell {
		noise = -noise
	}
	return e.roundPrice(symbol, price.Mul(decimal.NewFromFloat(1+noise)))
}

func (e *Exchange) reducesLocked(symbol string, side common.Side) bool {
	p, ok := e.positions[symbol]
	return ok && p.Side.Opposite() == side
}

// triggeredLocked reports whether a conditional order fires at price.
// STOP_MARKET sells fire at or below the stop; TAKE_PROFIT_MARKET sells at or above.
func (e *Exchange) triggeredLocked(o *order, price decimal.Decimal) bool {
	stop := o.req.StopPrice
	sell := o.req.Side == common.SideSell
	switch o.req.Type {
	case common.OrderTypeStopMarket:
		if sell {
			return price.LessThanOrEqual(stop)
		}
		return price.GreaterThanOrEqual(stop)
	case common.OrderTypeTakeProfitMarket:
		if sell {
			return price.GreaterThanOrEqual(stop)
		}
		return price.LessThanOrEqual(stop)
	}
	return false
}

func (e *Exchange) setPriceLocked(symbol string, price decimal.Decimal) {
	prev, seen := e.prices[symbol]
	e.prices[symbol] = price
	e.record(symbol, prev, price, seen)

	for _, o := range e.orders {
		if o.req.Symbol != symbol || o.status != common.StatusOpen || !o.req.Type.IsConditional() {
			continue
		}
		if !e.triggeredLocked(o, price) {
			continue
		}
		if o.req.ReduceOnly && !e.reducesLocked(symbol, o.req.Side) {
			o.status = common.StatusExpired
			continue
		}
		e.fillLocked(o, price)
	}
}

func (e *Exchange) record(symbol string, prev, price decimal.Decimal, seen bool) {
	if !seen {
		prev = price
	}
	open, _ := prev.Float64()
	cl, _ := price.Float64()
	k := common.Kline{OpenTime: time.Now(), Open: open, Close: cl, High: max(open, cl), Low: min(open, cl)}
	h := append(e.history[symbol], k)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	e.history[symbol] = h
}

// fillLocked executes o at price, updating the one-way position and wallet.
func (e *Exchange) fillLocked(o *order, price decimal.Decimal) {
	qty := o.req.Qty
	sym := o.req.Symbol
	pos, ok := e.positions[sym]
	if o.req.ReduceOnly && ok && qty.GreaterThan(pos.Qty) {
		qty = pos.Qty
	}

	fee := price.Mul(qty).Mul(decimal.NewFromFloat(e.cfg.FeeRate))
	e.balance = e.balance.Sub(fee)

	switch {
	case !ok:
		e.positions[sym] = &common.Position{Symbol: sym, Side: o.req.Side, Qty: qty, EntryPrice: price}
	case pos.Side == o.req.Side:
		total := pos.Qty.Mul(pos.EntryPrice).Add(qty.Mul(price))
		pos.Qty = pos.Qty.Add(qty)
		pos.EntryPrice = total.Div(pos.Qty)
	default:
		closed := decimal.Min(qty, pos.Qty)
		pnl := price.Sub(pos.EntryPrice).Mul(closed)
		if pos.Side == common.SideSell {
			pnl = pnl.Neg()
		}
		e.balance = e.balance.Add(pnl)
		pos.Qty = pos.Qty.Sub(qty)
		switch {
		case pos.Qty.IsZero():
			delete(e.positions, sym)
		case pos.Qty.IsNegative():
			pos.Side = o.req.Side
			pos.Qty = pos.Qty.Abs()
			pos.EntryPrice = price
		}
	}

	o.status = common.StatusFilled
	o.avg = price
	o.filled = qty
	e.logger.Info().
		Str("symbol", sym).
		Str("side", string(o.req.Side)).
		Str("type", string(o.req.Type)).
		Str("qty", qty.String()).
		Str("price", price.String()).
		Str("balance", e.balance.String()).
		Msg("paper fill")
}
