package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sniper-core/pkg/config"
	exfutusdt "sniper-core/pkg/exchanges/binance/futures_usdt"
	exchange "sniper-core/pkg/exchanges/common"
	"sniper-core/pkg/exchanges/paper"
)

// Venue bundles what the engine needs from the configured exchange.
type Venue struct {
	Name    string
	Gateway exchange.Gateway
	Market  exchange.MarketData
	Paper   *paper.Exchange   // set when Name is paper
	Binance *exfutusdt.Client // set for live trading, and for public data under paper
}

// Build creates the venue named by cfg.Venue. The paper venue is seeded from
// Binance public endpoints when reachable so its rules and prices are real.
func Build(ctx context.Context, cfg *config.Config, symbols []string, feed paper.PriceFeed, logger zerolog.Logger) (*Venue, error) {
	switch cfg.Venue {
	case config.VenueBinanceUSDTFut:
		c := exfutusdt.NewClient(exfutusdt.Config{
			APIKey:    cfg.BinanceUSDTKey,
			APISecret: cfg.BinanceUSDTSecret,
			Testnet:   cfg.BinanceTestnet,
		}, logger)
		return &Venue{Name: cfg.Venue, Gateway: c, Market: c, Binance: c}, nil

	case config.VenuePaper:
		public := exfutusdt.NewClient(exfutusdt.Config{Testnet: cfg.BinanceTestnet}, logger)
		pcfg := paper.Config{
			Balance:     decimal.NewFromFloat(cfg.PaperBalance),
			FeeRate:     cfg.PaperFeeRate,
			SlippageBps: cfg.PaperSlippageBps,
			Rules:       map[string]exchange.SymbolRules{},
			Prices:      map[string]decimal.Decimal{},
			Feed:        feed,
		}
		seeded := seedPaper(ctx, public, symbols, &pcfg, logger)
		ex := paper.New(pcfg, logger)
		v := &Venue{Name: cfg.Venue, Gateway: ex, Market: ex, Paper: ex}
		if seeded && feed != nil {
			// Streamed prices drive the fills, so real candles can drive the scorer.
			v.Market = public
			v.Binance = public
		}
		return v, nil

	default:
		return nil, fmt.Errorf("unsupported venue: %s", cfg.Venue)
	}
}

// seedPaper copies public rules and prices into pcfg, falling back to paper
// defaults per symbol. It reports whether every symbol was seeded.
func seedPaper(ctx context.Context, public *exfutusdt.Client, symbols []string, pcfg *paper.Config, logger zerolog.Logger) bool {
	all := true
	for _, sym := range symbols {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rules, rerr := public.GetSymbolRules(sctx, sym)
		price, perr := public.GetReferencePrice(sctx, sym)
		cancel()
		if rerr != nil || perr != nil {
			all = false
			logger.Warn().Str("instrument", sym).AnErr("rules_err", rerr).AnErr("price_err", perr).
				Msg("paper venue using default rules and price")
			pcfg.Rules[sym] = paper.DefaultRules(sym)
			pcfg.Prices[sym] = decimal.NewFromInt(100)
			continue
		}
		pcfg.Rules[sym] = rules
		pcfg.Prices[sym] = price
	}
	return all
}
