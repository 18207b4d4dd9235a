package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Venue names accepted by VENUE.
const (
	VenuePaper          = "paper"
	VenueBinanceUSDTFut = "binance-usdtfut"
)

// Config holds environment-driven settings for the sniper engine.
type Config struct {
	Venue string

	// Binance Futures (USDT)
	BinanceTestnet    bool
	BinanceUSDTKey    string
	BinanceUSDTSecret string

	InstrumentsFile string
	DBPath          string

	// Lifecycle policy
	MaxConcurrentPositions  int
	MinConfidence           int
	OverallocationTolerance float64
	DefaultStopLossPct      float64
	DefaultTakeProfitPct    float64
	RejectRefreshThreshold  int

	// Cadence and gateway
	SignalInterval    time.Duration
	ReconcileInterval time.Duration
	GatewayTimeout    time.Duration
	GatewayRPS        float64
	Workers           int
	UsePriceStream    bool

	// Decision source
	OracleURL     string
	OracleAPIKey  string
	OracleTimeout time.Duration

	// Operator API
	APIAddr   string
	JWTSecret string

	// Logging
	LogLevel      string
	LogPretty     bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Paper venue
	PaperBalance     float64
	PaperFeeRate     float64
	PaperSlippageBps float64
	PaperTick        time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Venue:                   strings.ToLower(getEnv("VENUE", VenuePaper)),
		BinanceTestnet:          getEnvBool("BINANCE_TESTNET", false),
		BinanceUSDTKey:          os.Getenv("BINANCE_USDT_KEY"),
		BinanceUSDTSecret:       os.Getenv("BINANCE_USDT_SECRET"),
		InstrumentsFile:         getEnv("INSTRUMENTS_FILE", ""),
		DBPath:                  getEnv("DB_PATH", "./data/sniper.db"),
		MaxConcurrentPositions:  getEnvInt("MAX_CONCURRENT_POSITIONS", 3),
		MinConfidence:           getEnvInt("MIN_CONFIDENCE", 60),
		OverallocationTolerance: getEnvFloat("OVERALLOCATION_TOLERANCE", 0.25),
		DefaultStopLossPct:      getEnvFloat("DEFAULT_STOP_LOSS_PCT", 0.02),
		DefaultTakeProfitPct:    getEnvFloat("DEFAULT_TAKE_PROFIT_PCT", 0.04),
		RejectRefreshThreshold:  getEnvInt("REJECT_REFRESH_THRESHOLD", 2),
		SignalInterval:          getEnvDuration("SIGNAL_INTERVAL", 60*time.Second),
		ReconcileInterval:       getEnvDuration("RECONCILE_INTERVAL", 60*time.Second),
		GatewayTimeout:          getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayRPS:              getEnvFloat("GATEWAY_RPS", 10),
		Workers:                 getEnvInt("WORKERS", 1),
		UsePriceStream:          getEnvBool("USE_PRICE_STREAM", false),
		OracleURL:               getEnv("ORACLE_URL", ""),
		OracleAPIKey:            os.Getenv("ORACLE_API_KEY"),
		OracleTimeout:           getEnvDuration("ORACLE_TIMEOUT", 15*time.Second),
		APIAddr:                 getEnv("API_ADDR", ":8080"),
		JWTSecret:               getEnv("JWT_SECRET", "dev-secret"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogPretty:               getEnvBool("LOG_PRETTY", true),
		LogFile:                 getEnv("LOG_FILE", ""),
		LogMaxSizeMB:            getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:           getEnvInt("LOG_MAX_BACKUPS", 5),
		PaperBalance:            getEnvFloat("PAPER_BALANCE", 10000.0),
		PaperFeeRate:            getEnvFloat("PAPER_FEE_RATE", 0.0004),
		PaperSlippageBps:        getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		PaperTick:               getEnvDuration("PAPER_TICK", time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Venue {
	case VenuePaper:
	case VenueBinanceUSDTFut:
		if c.BinanceUSDTKey == "" || c.BinanceUSDTSecret == "" {
			errs = append(errs, errors.New("BINANCE_USDT_KEY and BINANCE_USDT_SECRET are required for binance-usdtfut"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VENUE %q", c.Venue))
	}
	if c.MaxConcurrentPositions < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_POSITIONS must be at least 1"))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		errs = append(errs, errors.New("MIN_CONFIDENCE must be within 0..100"))
	}
	if c.OverallocationTolerance < 0 {
		errs = append(errs, errors.New("OVERALLOCATION_TOLERANCE must not be negative"))
	}
	if c.SignalInterval <= 0 || c.ReconcileInterval <= 0 || c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("intervals and GATEWAY_TIMEOUT must be positive"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
