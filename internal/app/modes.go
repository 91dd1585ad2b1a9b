package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/predmarket/internal/blob/s3"
	"github.com/alanyoungcy/predmarket/internal/crypto"
	"github.com/alanyoungcy/predmarket/internal/domain"
	"github.com/alanyoungcy/predmarket/internal/market"
	"github.com/alanyoungcy/predmarket/internal/server"
	"github.com/alanyoungcy/predmarket/internal/server/handler"
	"github.com/alanyoungcy/predmarket/internal/server/ws"
	"github.com/alanyoungcy/predmarket/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP API and the event websocket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.newArchiver(deps))
	return g.Wait()
}

// ArchiveMode runs only the archive sweep.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	archiver := a.newArchiver(deps)
	if archiver == nil {
		return errors.New("archive mode: object storage is not configured")
	}
	return archiver.Run(ctx)
}

// FullMode serves the API and, when archiving is enabled, runs the sweep
// alongside it.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	archiver := a.newArchiver(deps)
	if archiver != nil && a.cfg.RunsArchiver() {
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}
	a.startHTTPServer(ctx, g, deps, archiver)
	return g.Wait()
}

// newArchiver returns nil when blob storage is not wired.
func (a *App) newArchiver(deps *Dependencies) *s3blob.Archiver {
	if deps.BlobWriter == nil || deps.BlobReader == nil {
		return nil
	}
	return s3blob.NewArchiver(
		deps.Records,
		deps.BlobWriter,
		deps.BlobReader,
		deps.LockManager,
		deps.Audit,
		domain.SystemClock{},
		s3blob.ArchiverConfig{
			Prefix:    a.cfg.Archive.Prefix,
			MinAge:    a.cfg.Archive.MinAge.Duration,
			Interval:  a.cfg.Archive.Interval.Duration,
			BatchSize: a.cfg.Archive.BatchSize,
		},
		a.logger,
	)
}

// newEventPublisher builds the broadcaster, leaving the signer and notifier
// interfaces nil rather than holding typed nil pointers.
func (a *App) newEventPublisher(deps *Dependencies) *service.EventBroadcaster {
	var signer service.EnvelopeSigner
	if deps.Signer != nil {
		signer = deps.Signer
	}
	var notifier service.Notifier
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	return service.NewEventBroadcaster(deps.SignalBus, signer, notifier, a.logger)
}

// startHTTPServer registers the API server, the websocket hub and the
// shutdown watcher on g. archiver may be nil, in which case snapshot reads
// are not served.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, archiver *s3blob.Archiver) {
	markets := service.NewMarketService(
		deps.Records,
		deps.MarketCache,
		a.newEventPublisher(deps),
		deps.Audit,
		market.PolicyFromBps(a.cfg.Market.FeeBps),
		domain.SystemClock{},
		a.logger.With(slog.String("component", "market_service")),
	)
	accounts := service.NewAccountService(deps.Records, deps.Audit, deps.Operators, a.logger)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Markets:  handler.NewMarketHandler(markets, a.logger),
		Accounts: handler.NewAccountHandler(accounts, a.logger),
	}
	if archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(archiver, a.logger)
	}

	sec := server.Security{
		Verifier: crypto.NewAuthenticator(a.cfg.Auth.MaxSkew.Duration, nil),
		Replay:   deps.ReplayGuard,
	}
	if deps.RateLimiter != nil {
		sec.Limiter = deps.RateLimiter
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		RateLimit:      a.cfg.Server.RateLimit,
		RateWindow:     a.cfg.Server.RateWindow.Duration,
		RequestTimeout: a.cfg.Server.RequestTimeout.Duration,
		MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
	}, handlers, sec, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
