package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/omichsam/twitter-post-feeds/internal/db"
)

type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	APIPort  int    `mapstructure:"API_PORT"`

	// DefaultUsername is the single tracked account.
	DefaultUsername string `mapstructure:"DEFAULT_USERNAME"`

	Database  DBConfig        `mapstructure:",squash"`
	Upstream  UpstreamConfig  `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Cache     CacheConfig     `mapstructure:",squash"`
	Security  SecurityConfig  `mapstructure:",squash"`
}

type DBConfig struct {
	Driver string `mapstructure:"DB_DRIVER"` // "sqlite" or "postgres"
	Name   string `mapstructure:"DB_NAME"`   // sqlite file path
	DSN    string `mapstructure:"DB_DSN"`    // postgres connection string
}

type UpstreamConfig struct {
	BaseURL      string        `mapstructure:"X_API_BASE_URL"`
	BearerToken  string        `mapstructure:"BEARER_TOKEN"`
	FetchCount   int           `mapstructure:"FETCH_COUNT"`
	Timeout      time.Duration `mapstructure:"FETCH_TIMEOUT"`
	RateLimitRPM int           `mapstructure:"UPSTREAM_RATE_LIMIT_RPM"`
}

type SchedulerConfig struct {
	FetchTimes   []string      `mapstructure:"FETCH_TIMES"`
	PollInterval time.Duration `mapstructure:"SCHEDULER_POLL_INTERVAL"`
	Timezone     string        `mapstructure:"SCHEDULER_TIMEZONE"`
	MetricsAddr  string        `mapstructure:"FETCHER_METRICS_ADDR"`
}

type CacheConfig struct {
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	AccountIDCache time.Duration `mapstructure:"ACCOUNT_ID_CACHE_TTL"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // variables already set in the environment win
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("API_PORT", 8010)
	v.SetDefault("DEFAULT_USERNAME", "Whitebox_Ke")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_NAME", "twitter_posts.db")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("X_API_BASE_URL", "https://api.x.com/2")
	v.SetDefault("BEARER_TOKEN", "")
	v.SetDefault("FETCH_COUNT", 100)
	v.SetDefault("FETCH_TIMEOUT", "10s")
	v.SetDefault("UPSTREAM_RATE_LIMIT_RPM", 60)
	v.SetDefault("FETCH_TIMES", "06:00,12:00,19:00")
	v.SetDefault("SCHEDULER_POLL_INTERVAL", "60s")
	v.SetDefault("SCHEDULER_TIMEZONE", "Local")
	v.SetDefault("FETCHER_METRICS_ADDR", ":9091")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("ACCOUNT_ID_CACHE_TTL", "0s")
	v.SetDefault("RATE_LIMIT_RPM", 600)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Comma-separated lists
	v.Set("FETCH_TIMES", splitList(v.GetString("FETCH_TIMES")))
	v.Set("CORS_ALLOWED_ORIGINS", splitList(v.GetString("CORS_ALLOWED_ORIGINS")))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Driver = strings.TrimSpace(cfg.Database.Driver)
	cfg.DefaultUsername = strings.TrimPrefix(strings.TrimSpace(cfg.DefaultUsername), "@")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	dialect, err := db.DialectFor(c.Database.Driver)
	if err != nil {
		return fmt.Errorf("invalid DB_DRIVER %q (must be sqlite or postgres)", c.Database.Driver)
	}
	// Aliases such as sqlite3, pgx and postgresql collapse to one name.
	c.Database.Driver = string(dialect)

	switch dialect {
	case db.SQLite:
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required for the sqlite driver")
		}
	case db.Postgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("DB_DSN is required for the postgres driver")
		}
	}
	if c.DefaultUsername == "" {
		return fmt.Errorf("DEFAULT_USERNAME is required")
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API_PORT %d", c.APIPort)
	}
	if c.Upstream.FetchCount < 1 {
		return fmt.Errorf("FETCH_COUNT must be at least 1, got %d", c.Upstream.FetchCount)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive")
	}
	for _, at := range c.Scheduler.FetchTimes {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("invalid FETCH_TIMES entry %q (want HH:MM)", at)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// RequireCredential reports whether the fetcher has what it needs to call upstream.
func (c *Config) RequireCredential() error {
	if strings.TrimSpace(c.Upstream.BearerToken) == "" {
		return fmt.Errorf("BEARER_TOKEN is required")
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" || c.Scheduler.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TIMEZONE %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.APIPort)
}

// StorageDSN is what the storage driver opens: a file path for sqlite or a
// connection string for postgres.
func (c *Config) StorageDSN() string {
	if c.Database.Driver == string(db.Postgres) {
		return c.Database.DSN
	}
	return c.Database.Name
}

// DatabaseName is the human-facing storage name reported by the API.
func (c *Config) DatabaseName() string {
	if c.Database.Driver == string(db.Postgres) {
		return "postgres"
	}
	return c.Database.Name
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
