package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "PREDMKT_"

// Load merges the TOML file at path over Defaults, then applies PREDMKT_*
// environment overrides (a .env file in the working directory is read
// first). An empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Store
	setStr(&cfg.Store.Driver, "STORE_DRIVER")
	pg := &cfg.Store.Postgres
	setStr(&pg.DSN, "POSTGRES_DSN")
	setStr(&pg.Host, "POSTGRES_HOST")
	setInt(&pg.Port, "POSTGRES_PORT")
	setStr(&pg.Database, "POSTGRES_DATABASE")
	setStr(&pg.User, "POSTGRES_USER")
	setStr(&pg.Password, "POSTGRES_PASSWORD")
	setStr(&pg.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&pg.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&pg.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setDuration(&pg.ConnectTimeout, "POSTGRES_CONNECT_TIMEOUT")
	setBool(&pg.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "REDIS_CACHE_TTL")

	// S3
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// Server
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.RequestTimeout, "SERVER_REQUEST_TIMEOUT")

	// Auth
	setDuration(&cfg.Auth.MaxSkew, "AUTH_MAX_SKEW")
	setStringSlice(&cfg.Auth.Operators, "AUTH_OPERATORS")
	setStr(&cfg.Auth.OperatorKey, "AUTH_OPERATOR_KEY")
	setStr(&cfg.Auth.OperatorKeyFile, "AUTH_OPERATOR_KEY_FILE")
	setStr(&cfg.Auth.OperatorPassphrase, "AUTH_OPERATOR_PASSPHRASE")

	// Market
	if v := lookup("MARKET_FEE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Market.FeeBps = uint32(n)
		}
	}

	// Archive
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.MinAge, "ARCHIVE_MIN_AGE")
	setStr(&cfg.Archive.Prefix, "ARCHIVE_PREFIX")
	setInt(&cfg.Archive.BatchSize, "ARCHIVE_BATCH_SIZE")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Each setter changes its target only when the variable is set and parses.

func lookup(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := lookup(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
