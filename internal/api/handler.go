// Package api is the operator HTTP surface: open positions, closed trades,
// halted instruments and halt acknowledgment.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"sniper-core/internal/engine"
	"sniper-core/internal/events"
	"sniper-core/pkg/db"
)

// Store is the journal view the API reads.
type Store interface {
	ListClosedTrades(ctx context.Context, limit int) ([]db.ClosedTrade, error)
	RealizedPnlTotal(ctx context.Context) (decimal.Decimal, error)
	OpenIncidents(ctx context.Context) ([]db.Incident, error)
	ListOrderEvents(ctx context.Context, instrument string, limit int) ([]db.OrderEvent, error)
}

// Options wires the server.
type Options struct {
	Engine    engine.Service
	Store     Store
	Bus       *events.Bus  // optional, enables /ws
	Metrics   http.Handler // optional, served at /metrics
	JWTSecret string
	Meta      SystemMeta
	RateLimit rate.Limit // per client IP; 20/s when zero
	Burst     int        // 50 when zero
	Logger    zerolog.Logger
}

// SystemMeta describes the runtime reported by /health.
type SystemMeta struct {
	Venue       string   `json:"venue"`
	Instruments []string `json:"instruments"`
	Source      string   `json:"source"`
	Version     string   `json:"version"`
}

// Server wires HTTP endpoints around the engine and journal.
type Server struct {
	Router *gin.Engine

	engine  engine.Service
	store   Store
	bus     *events.Bus
	metrics http.Handler
	secret  string
	meta    SystemMeta
	started time.Time
	logger  zerolog.Logger
}

// NewServer builds the router and its middleware stack.
func NewServer(opts Options) *Server {
	if opts.RateLimit == 0 {
		opts.RateLimit = 20
	}
	if opts.Burst == 0 {
		opts.Burst = 50
	}
	logger := opts.Logger.With().Str("component", "api").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RateLimit, opts.Burst), logger))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		engine:  opts.Engine,
		store:   opts.Store,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		secret:  opts.JWTSecret,
		meta:    opts.Meta,
		started: time.Now(),
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.metrics))
	}

	auth := AuthMiddleware(s.secret)
	s.Router.GET("/ws", auth, s.websocket)

	api := s.Router.Group("/api")
	api.Use(auth)
	{
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/orders", s.getOrders)
		api.GET("/halts", s.getHalts)
		api.POST("/halts/:instrument/ack", s.acknowledgeHalt)
	}
}

func (s *Server) health(c *gin.Context) {
	halts := s.engine.Halts()
	status := "ok"
	if len(halts) > 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"uptime_seconds": int64(time.Since(s.started) / time.Second),
		"open_positions": len(s.engine.Positions()),
		"halted":         len(halts),
		"system":         s.meta,
	})
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("operator API listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
