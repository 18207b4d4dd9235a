package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sniper-core/internal/api"
	"sniper-core/internal/engine"
	"sniper-core/internal/events"
	"sniper-core/internal/gateway"
	"sniper-core/internal/journal"
	"sniper-core/internal/monitor"
	"sniper-core/internal/order"
	"sniper-core/internal/reconciliation"
	"sniper-core/internal/risk"
	"sniper-core/internal/scheduler"
	"sniper-core/internal/state"
	"sniper-core/internal/strategy"
	"sniper-core/internal/symbols"
	"sniper-core/pkg/cache"
	"sniper-core/pkg/config"
	"sniper-core/pkg/db"
	"sniper-core/pkg/logging"
	marketbinance "sniper-core/pkg/market/binance"
)

const streamPriceMaxAge = 5 * time.Second

func main() {
	issueToken := flag.String("issue-token", "", "print an operator API token for `name` and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of a token printed by -issue-token")
	once := flag.Bool("once", false, "run one signal cycle and one reconciliation pass, then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		tok, err := api.GenerateToken(*issueToken, cfg.JWTSecret, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	logger := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Pretty:     cfg.LogPretty,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v0.1-dev"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, buildVersion, logger); err != nil {
		logger.Error().Err(err).Msg("sniper-core stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("sniper-core stopped")
}

func run(ctx context.Context, cfg *config.Config, once bool, version string, logger zerolog.Logger) error {
	if cfg.JWTSecret == "dev-secret" {
		logger.Warn().Msg("JWT_SECRET is the development default; set it before exposing the API")
	}

	instruments, err := config.LoadInstruments(cfg.InstrumentsFile)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	syms := config.Symbols(instruments)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	queries := database.Queries()

	bus := events.NewBus()
	registry := state.NewRegistry(cfg.MaxConcurrentPositions)
	halts := risk.NewHaltBook()

	metrics := monitor.NewMetrics(monitor.Gauges{
		OpenPositions:     registry.ActiveCount,
		HaltedInstruments: halts.Len,
	})
	mon := monitor.New(bus, metrics, monitor.LogSink{Logger: logger}, logger)

	// Optional websocket mark prices: they feed the paper venue and give the
	// gateway fresher reference prices than a REST round trip.
	var prices *cache.PriceCache
	var feed func(string) (decimal.Decimal, bool)
	if cfg.UsePriceStream {
		prices = cache.NewPriceCache()
		feed = func(sym string) (decimal.Decimal, bool) { return prices.Fresh(sym, streamPriceMaxAge) }
	}

	venue, err := gateway.Build(ctx, cfg, syms, feed, logger)
	if err != nil {
		return fmt.Errorf("build venue: %w", err)
	}

	gwCfg := gateway.DefaultConfig()
	gwCfg.Timeout = cfg.GatewayTimeout
	gwCfg.RPS = cfg.GatewayRPS
	gwCfg.PriceMaxAge = streamPriceMaxAge
	var priceSource gateway.PriceSource
	if prices != nil {
		priceSource = prices
	}
	gw := gateway.NewResilient(venue.Gateway, gwCfg, metrics, priceSource, logger)

	rules := symbols.NewCache(gw, logger)
	jrnl := journal.New(queries, bus, logger)
	recon := reconciliation.NewService(gw, registry, jrnl, logger)
	seq := order.NewSequencer(gw, bus, order.Config{}, logger)

	var source strategy.Source = strategy.NewScorer(strategy.DefaultScorerConfig())
	if cfg.OracleURL != "" {
		oracle := strategy.NewOracle(strategy.OracleConfig{
			URL:     cfg.OracleURL,
			APIKey:  cfg.OracleAPIKey,
			Timeout: cfg.OracleTimeout,
		})
		source = strategy.NewFallback(oracle, source, logger)
	}

	policy := risk.Policy{
		MinConfidence:        cfg.MinConfidence,
		DefaultStopLossPct:   decimal.NewFromFloat(cfg.DefaultStopLossPct),
		DefaultTakeProfitPct: decimal.NewFromFloat(cfg.DefaultTakeProfitPct),
	}

	eng := engine.New(engine.Deps{
		Gateway:     gw,
		Market:      venue.Market,
		Source:      source,
		Registry:    registry,
		Rules:       rules,
		Policy:      policy,
		Halts:       halts,
		Sequencer:   seq,
		Reconciler:  recon,
		Reporter:    jrnl,
		Incidents:   jrnl,
		Bus:         bus,
		Instruments: instruments,
	}, engine.Config{
		Tolerance:              decimal.NewFromFloat(cfg.OverallocationTolerance),
		Workers:                cfg.Workers,
		RejectRefreshThreshold: cfg.RejectRefreshThreshold,
	}, logger)

	restored, err := jrnl.OpenHalts(ctx)
	if err != nil {
		return fmt.Errorf("restore halts: %w", err)
	}
	halts.Restore(restored...)
	for _, h := range restored {
		logger.Warn().Str("instrument", h.Instrument).Str("reason", h.Reason).
			Msg("instrument halted from previous run, acknowledgment required")
	}

	logger.Info().
		Str("venue", venue.Name).
		Str("source", source.Name()).
		Str("version", version).
		Strs("instruments", syms).
		Int("max_concurrent", cfg.MaxConcurrentPositions).
		Msg("sniper-core starting")

	if venue.Binance != nil && venue.Paper == nil {
		venue.Binance.StartTimeSync(ctx)
	}
	eng.Startup(ctx)

	if once {
		for _, o := range eng.RunSignalCycle(ctx) {
			logger.Info().Str("instrument", o.Instrument).Str("outcome", string(o.Kind)).Str("reason", o.Reason).Msg("signal outcome")
		}
		rep := eng.RunReconciliation(ctx)
		return rep.Err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	waitMonitor := mon.Start(runCtx)
	audit := journal.NewOrderAudit(queries, 50, 500*time.Millisecond, logger)
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		audit.Run(runCtx, bus)
	}()

	if prices != nil {
		stream := marketbinance.NewMarkPriceStream(cfg.BinanceTestnet, syms, prices, logger)
		go func() {
			if err := stream.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("mark price stream stopped")
			}
		}()
	}
	if venue.Paper != nil {
		venue.Paper.Start(runCtx, cfg.PaperTick)
	}

	sched := scheduler.New(logger)
	jobs := []scheduler.Job{
		{Name: "signal", Interval: cfg.SignalInterval, RunAtStart: true, Run: func(ctx context.Context) { eng.RunSignalCycle(ctx) }},
		{Name: "reconcile", Interval: cfg.ReconcileInterval, Run: func(ctx context.Context) { eng.RunReconciliation(ctx) }},
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			return fmt.Errorf("schedule %s: %w", j.Name, err)
		}
	}
	sched.Start(runCtx)

	server := api.NewServer(api.Options{
		Engine:    eng,
		Store:     queries,
		Bus:       bus,
		Metrics:   metrics.Handler(),
		JWTSecret: cfg.JWTSecret,
		Meta: api.SystemMeta{
			Venue:       venue.Name,
			Instruments: syms,
			Source:      source.Name(),
			Version:     version,
		},
		Logger: logger,
	})
	apiErr := make(chan error, 1)
	go func() { apiErr <- server.Start(runCtx, cfg.APIAddr) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-apiErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			sched.Wait()
			return fmt.Errorf("api server: %w", err)
		}
	}

	cancel()
	sched.Wait()
	<-auditDone
	waitMonitor()
	written, failed := audit.Stats()
	logger.Info().Uint64("order_events_written", written).Uint64("order_events_failed", failed).
		Int("open_positions", registry.ActiveCount()).Str("halted", strings.Join(haltNames(eng.Halts()), ",")).
		Msg("engine drained")
	return nil
}

func haltNames(hs []risk.Halt) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Instrument)
	}
	return out
}
