// Package config defines the predmarketd configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by PREDMKT_* environment variables.
type Config struct {
	Store    StoreConfig   `toml:"store"`
	Redis    RedisConfig   `toml:"redis"`
	S3       S3Config      `toml:"s3"`
	Server   ServerConfig  `toml:"server"`
	Auth     AuthConfig    `toml:"auth"`
	Market   MarketConfig  `toml:"market"`
	Archive  ArchiveConfig `toml:"archive"`
	Notify   NotifyConfig  `toml:"notify"`
	Mode     string        `toml:"mode"`
	LogLevel string        `toml:"log_level"`
}

// StoreConfig selects the record store. The memory driver keeps everything
// in process and is meant for development and tests.
type StoreConfig struct {
	Driver   string         `toml:"driver"`
	Postgres PostgresConfig `toml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN wins over the
// individual fields when set.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Without Redis the server
// runs with no shared cache, no rate limiting and a process-local replay
// guard.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   Duration `toml:"cache_ttl"`
}

// S3Config holds object storage parameters for market archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     Duration `toml:"rate_window"`
	RequestTimeout Duration `toml:"request_timeout"`
	MaxBodyBytes   int64    `toml:"max_body_bytes"`
}

// AuthConfig controls request signature checks and the operator key used to
// sign published events.
type AuthConfig struct {
	MaxSkew   Duration `toml:"max_skew"`
	Operators []string `toml:"operators"`
	// Operator key: hex, or an encrypted key file plus passphrase.
	OperatorKey        string `toml:"operator_key"`
	OperatorKeyFile    string `toml:"operator_key_file"`
	OperatorPassphrase string `toml:"operator_passphrase"`
}

// MarketConfig holds economic parameters.
type MarketConfig struct {
	// FeeBps is the deposit fee in basis points; 0 disables fees.
	FeeBps uint32 `toml:"fee_bps"`
}

// ArchiveConfig controls export of resolved markets to S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  Duration `toml:"interval"`
	MinAge    Duration `toml:"min_age"`
	Prefix    string   `toml:"prefix"`
	BatchSize int      `toml:"batch_size"`
}

// NotifyConfig holds chat notification settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Duration decodes TOML strings such as "90s" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for local development.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver: "postgres",
			Postgres: PostgresConfig{
				Host:           "localhost",
				Port:           5432,
				Database:       "predmarket",
				User:           "postgres",
				SSLMode:        "disable",
				PoolMaxConns:   10,
				PoolMinConns:   2,
				ConnectTimeout: Duration{10 * time.Second},
				RunMigrations:  true,
			},
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "predmkt:",
			CacheTTL:   Duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predmarket-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:      120,
			RateWindow:     Duration{time.Minute},
			RequestTimeout: Duration{15 * time.Second},
			MaxBodyBytes:   1 << 20,
		},
		Auth: AuthConfig{
			MaxSkew: Duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  Duration{time.Hour},
			MinAge:    Duration{24 * time.Hour},
			Prefix:    "archive/",
			BatchSize: 500,
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// RunsArchiver reports whether the mode runs the archive sweep.
func (c *Config) RunsArchiver() bool {
	switch strings.ToLower(c.Mode) {
	case "archive":
		return true
	case "full":
		return c.Archive.Enabled
	}
	return false
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Store.Driver {
	case "memory":
		if strings.EqualFold(c.Mode, "archive") {
			add("store: the archive mode needs the postgres driver")
		}
	case "postgres":
		pg := c.Store.Postgres
		if strings.TrimSpace(pg.DSN) == "" {
			if pg.Host == "" {
				add("store.postgres: host must not be empty (or set dsn)")
			}
			if pg.Port <= 0 || pg.Port > 65535 {
				add("store.postgres: port must be 1-65535, got %d", pg.Port)
			}
			if pg.Database == "" {
				add("store.postgres: database must not be empty")
			}
		}
		if pg.PoolMaxConns < 1 {
			add("store.postgres: pool_max_conns must be >= 1")
		}
		if pg.PoolMinConns < 0 || pg.PoolMinConns > pg.PoolMaxConns {
			add("store.postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.RunsArchiver() {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archiving")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty when archiving")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
		if c.Archive.MinAge.Duration < 0 {
			add("archive: min_age must not be negative")
		}
	}

	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.Auth.MaxSkew.Duration <= 0 {
		add("auth: max_skew must be > 0")
	}
	if c.Auth.OperatorKeyFile != "" && c.Auth.OperatorPassphrase == "" {
		add("auth: operator_passphrase is required when operator_key_file is set")
	}
	if c.Market.FeeBps >= 10_000 {
		add("market: fee_bps must be below 10000, got %d", c.Market.FeeBps)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
