package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/predmarket/internal/blob/s3"
	"github.com/alanyoungcy/predmarket/internal/cache/redis"
	"github.com/alanyoungcy/predmarket/internal/config"
	"github.com/alanyoungcy/predmarket/internal/crypto"
	"github.com/alanyoungcy/predmarket/internal/domain"
	"github.com/alanyoungcy/predmarket/internal/notify"
	"github.com/alanyoungcy/predmarket/internal/server/handler"
	"github.com/alanyoungcy/predmarket/internal/store/memory"
	"github.com/alanyoungcy/predmarket/internal/store/postgres"
)

// Dependencies bundles the concrete implementations the modes run on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Records domain.RecordStore
	Audit   domain.AuditStore

	// Redis-backed when enabled. MarketCache, RateLimiter and LockManager
	// stay nil without Redis; ReplayGuard and SignalBus fall back to
	// process-local versions.
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	ReplayGuard domain.ReplayGuard
	SignalBus   domain.SignalBus

	// Blob storage, nil unless archiving is configured.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Notifier *notify.Notifier
	// Signer is the operator key; nil leaves events unsigned.
	Signer    *crypto.Signer
	Operators []domain.Identity

	// Health checks per backing component, reported by /api/health.
	Health map[string]handler.Check
}

// needsBlob reports whether the configuration requires object storage.
func needsBlob(cfg *config.Config) bool {
	return cfg.RunsArchiver() || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{Health: map[string]handler.Check{}}

	// --- Record store ---
	switch cfg.Store.Driver {
	case "postgres":
		pg := cfg.Store.Postgres
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            pg.DSN,
			Host:           pg.Host,
			Port:           pg.Port,
			Database:       pg.Database,
			User:           pg.User,
			Password:       pg.Password,
			SSLMode:        pg.SSLMode,
			MaxConns:       pg.PoolMaxConns,
			MinConns:       pg.PoolMinConns,
			ConnectTimeout: pg.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if pg.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Records = postgres.NewStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pool.Ping
	case "memory":
		logger.WarnContext(ctx, "wire: using the in-memory store; state is lost on restart")
		deps.Records = memory.New()
		deps.Audit = memory.NewAuditStore()
	default:
		return fail("wire: %w", fmt.Errorf("unknown store driver %q", cfg.Store.Driver))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: redis disabled; replay protection and events are process-local, no rate limiting")
		deps.ReplayGuard = memory.NewReplayGuard()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- S3 blob storage ---
	if needsBlob(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Operator key and operators ---
	signer, err := crypto.LoadSigner(crypto.KeySource{
		Hex:        cfg.Auth.OperatorKey,
		File:       cfg.Auth.OperatorKeyFile,
		Passphrase: cfg.Auth.OperatorPassphrase,
	})
	if err != nil {
		return fail("wire: operator key: %w", err)
	}
	deps.Signer = signer
	if signer != nil {
		logger.InfoContext(ctx, "wire: events will be signed", slog.String("operator", string(signer.Identity())))
	}
	for _, op := range cfg.Auth.Operators {
		deps.Operators = append(deps.Operators, crypto.NormalizeIdentity(op))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
