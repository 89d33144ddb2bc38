package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const Prefix = "QUANTLAB"

type Config struct {
	Env          string             `envconfig:"ENV" default:"development"`
	Server       ServerConfig       `envconfig:"SERVER"`
	Database     DatabaseConfig     `envconfig:"DATABASE"`
	AlphaVantage AlphaVantageConfig `envconfig:"ALPHAVANTAGE"`
	Analytics    AnalyticsConfig    `envconfig:"ANALYTICS"`
	Sync         SyncConfig         `envconfig:"SYNC"`
	Log          LogConfig          `envconfig:"LOG"`
}

type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"10"`
	MinConns int32  `envconfig:"MIN_CONNS" default:"2"`
}

type AlphaVantageConfig struct {
	APIKey            string        `envconfig:"API_KEY"`
	Host              string        `envconfig:"HOST" default:"www.alphavantage.co"`
	RequestsPerMinute int           `envconfig:"REQUESTS_PER_MINUTE" default:"5"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"30s"`
	RefreshAfter      time.Duration `envconfig:"REFRESH_AFTER" default:"24h"`
}

type AnalyticsConfig struct {
	PeriodsPerYear int     `envconfig:"PERIODS_PER_YEAR" default:"252"`
	RiskFreeRate   float64 `envconfig:"RISK_FREE_RATE" default:"0"`
	RollingWindow  int     `envconfig:"ROLLING_WINDOW" default:"63"`
	CVaRAlpha      float64 `envconfig:"CVAR_ALPHA" default:"0.05"`
	RidgeFactor    float64 `envconfig:"RIDGE_FACTOR" default:"1e-6"`
	MaxIterations  int     `envconfig:"MAX_ITERATIONS" default:"500"`
	Workers        int     `envconfig:"WORKERS" default:"4"`
	LookbackDays   int     `envconfig:"LOOKBACK_DAYS" default:"730"`
}

type SyncConfig struct {
	Schedule string   `envconfig:"SCHEDULE"`
	Symbols  []string `envconfig:"SYMBOLS"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
}

// ValidPeriodsPerYear are the sampling frequencies the analytics understand
var ValidPeriodsPerYear = []int{1, 4, 12, 52, 252}

// Load reads the optional env files then the QUANTLAB_ environment.
// With no files given a .env in the working directory is used when present.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("error loading env files %v: %w", envFiles, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing %s environment: %w", Prefix, err)
	}

	// unprefixed names kept working for existing deployments
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.AlphaVantage.APIKey == "" {
		cfg.AlphaVantage.APIKey = os.Getenv("ALPHAVANTAGE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	a := c.Analytics
	if !slices.Contains(ValidPeriodsPerYear, a.PeriodsPerYear) {
		errs = append(errs, fmt.Errorf("analytics periods per year must be one of %v, got %d", ValidPeriodsPerYear, a.PeriodsPerYear))
	}
	if a.CVaRAlpha <= 0 || a.CVaRAlpha >= 1 {
		errs = append(errs, fmt.Errorf("analytics cvar alpha must be in (0, 1), got %v", a.CVaRAlpha))
	}
	if a.RollingWindow < 2 {
		errs = append(errs, fmt.Errorf("analytics rolling window must be at least 2, got %d", a.RollingWindow))
	}
	if a.RidgeFactor <= 0 {
		errs = append(errs, fmt.Errorf("analytics ridge factor must be positive, got %v", a.RidgeFactor))
	}
	if a.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("analytics max iterations must be positive, got %d", a.MaxIterations))
	}
	if a.Workers < 1 {
		errs = append(errs, fmt.Errorf("analytics workers must be positive, got %d", a.Workers))
	}
	if a.LookbackDays < 2 {
		errs = append(errs, fmt.Errorf("analytics lookback days must be at least 2, got %d", a.LookbackDays))
	}
	if c.AlphaVantage.RequestsPerMinute < 1 {
		errs = append(errs, fmt.Errorf("alpha vantage requests per minute must be positive, got %d", c.AlphaVantage.RequestsPerMinute))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns))
	}

	return errors.Join(errs...)
}

func (a AnalyticsConfig) Lookback() time.Duration {
	return time.Duration(a.LookbackDays) * 24 * time.Hour
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
