package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	// ESPN site API
	ESPNBaseURL        string        `envconfig:"ESPN_BASE_URL" default:"https://site.api.espn.com/apis/site/v2/sports/football/nfl"`
	ESPNTimeout        time.Duration `envconfig:"ESPN_TIMEOUT" default:"15s"`
	ESPNMaxAttempts    int           `envconfig:"ESPN_MAX_ATTEMPTS" default:"3"`
	ESPNRetryBaseDelay time.Duration `envconfig:"ESPN_RETRY_BASE_DELAY" default:"1s"`
	ESPNResultLimit    int           `envconfig:"ESPN_RESULT_LIMIT" default:"1000"`
	ESPNRateLimit      float64       `envconfig:"ESPN_RATE_LIMIT" default:"5"` // requests per second
	ESPNRateBurst      int           `envconfig:"ESPN_RATE_BURST" default:"5"`

	// Sync window and season resolution
	Sport              string        `envconfig:"SYNC_SPORT" default:"football/nfl"`
	DaysBack           int           `envconfig:"SYNC_DAYS_BACK" default:"7"`
	DaysForward        int           `envconfig:"SYNC_DAYS_FORWARD" default:"30"`
	TargetSeason       int           `envconfig:"SYNC_TARGET_SEASON" default:"0"` // 0 = resolve automatically
	HorizonMonths      int           `envconfig:"SYNC_HORIZON_MONTHS" default:"6"`
	SeasonStartMonth   int           `envconfig:"SEASON_START_MONTH" default:"8"`
	SeasonEndMonth     int           `envconfig:"SEASON_END_MONTH" default:"2"`
	SeasonCacheTTL     time.Duration `envconfig:"SEASON_CACHE_TTL" default:"1h"`
	SeasonHeuristicTTL time.Duration `envconfig:"SEASON_HEURISTIC_TTL" default:"5m"`
	SyncLockTTL        time.Duration `envconfig:"SYNC_LOCK_TTL" default:"10m"`

	// Database
	DatabaseHost     string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort     int    `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME" default:"pickem"`
	DatabaseUser     string `envconfig:"DATABASE_USER" default:"pickem_user"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	DatabaseSSLMode  string `envconfig:"DATABASE_SSL_MODE" default:"disable"`

	// Redis
	RedisEnabled  bool   `envconfig:"REDIS_ENABLED" default:"true"`
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Scheduler
	EnableScheduler    bool   `envconfig:"ENABLE_SCHEDULER" default:"true"`
	InitialSyncEnabled bool   `envconfig:"INITIAL_SYNC_ENABLED" default:"true"`
	FullSyncCron       string `envconfig:"FULL_SYNC_CRON" default:"0 4 * * *"`
	EventSyncCron      string `envconfig:"EVENT_SYNC_CRON" default:"*/15 * * * *"`
	SeasonRefreshCron  string `envconfig:"SEASON_REFRESH_CRON" default:"0 3 * * *"`

	// 0 disables live polling
	ActiveEventPollInterval time.Duration `envconfig:"ACTIVE_EVENT_POLL_INTERVAL" default:"60s"`

	// Admin API and monitoring
	AdminPort     int  `envconfig:"ADMIN_PORT" default:"8080"`
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
}

// Load loads configuration from environment variables
// It first attempts to load from .env file if in development mode
func Load() (*Config, error) {
	return load(true)
}

// LoadWithoutDatabase loads configuration for runs that never connect to
// Postgres, such as a dry run
func LoadWithoutDatabase() (*Config, error) {
	return load(false)
}

func load(requireDatabase bool) (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if err := cfg.validate(requireDatabase); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireDatabase bool) error {
	if requireDatabase && c.DatabasePassword == "" {
		return fmt.Errorf("DATABASE_PASSWORD is required")
	}

	if c.ESPNBaseURL == "" {
		return fmt.Errorf("ESPN_BASE_URL is required")
	}

	if c.ESPNMaxAttempts < 1 {
		return fmt.Errorf("ESPN_MAX_ATTEMPTS must be at least 1, got %d", c.ESPNMaxAttempts)
	}

	if c.DaysBack < 0 || c.DaysForward < 0 {
		return fmt.Errorf("SYNC_DAYS_BACK and SYNC_DAYS_FORWARD must not be negative")
	}

	if c.HorizonMonths < 1 {
		return fmt.Errorf("SYNC_HORIZON_MONTHS must be at least 1, got %d", c.HorizonMonths)
	}

	if c.SeasonStartMonth < 1 || c.SeasonStartMonth > 12 || c.SeasonEndMonth < 1 || c.SeasonEndMonth > 12 {
		return fmt.Errorf("SEASON_START_MONTH and SEASON_END_MONTH must be between 1 and 12")
	}

	if c.TargetSeason < 0 {
		return fmt.Errorf("SYNC_TARGET_SEASON must not be negative")
	}

	if c.ActiveEventPollInterval < 0 {
		return fmt.Errorf("ACTIVE_EVENT_POLL_INTERVAL must not be negative")
	}

	if c.SeasonHeuristicTTL > c.SeasonCacheTTL {
		return fmt.Errorf("SEASON_HEURISTIC_TTL (%s) must not exceed SEASON_CACHE_TTL (%s)", c.SeasonHeuristicTTL, c.SeasonCacheTTL)
	}

	return nil
}

// DatabaseDSN returns the PostgreSQL connection URL. Credentials are escaped.
func (c *Config) DatabaseDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DatabaseUser, c.DatabasePassword),
		Host:     net.JoinHostPort(c.DatabaseHost, strconv.Itoa(c.DatabasePort)),
		Path:     "/" + c.DatabaseName,
		RawQuery: url.Values{"sslmode": {c.DatabaseSSLMode}}.Encode(),
	}
	return u.String()
}

// RedisAddr returns the Redis host:port
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// SeasonOverride returns the configured target season, if any
func (c *Config) SeasonOverride() (int, bool) {
	return c.TargetSeason, c.TargetSeason > 0
}

// MustLoad loads configuration or panics on error
// Use this in main() where we want to fail fast
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
