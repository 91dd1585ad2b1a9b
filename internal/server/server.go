// Package server exposes the market operations over HTTP and streams market
// events over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predmarket/internal/domain"
	"github.com/alanyoungcy/predmarket/internal/server/handler"
	"github.com/alanyoungcy/predmarket/internal/server/middleware"
	"github.com/alanyoungcy/predmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	RateLimit      int // requests per RateWindow per client IP; 0 disables
	RateWindow     time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// Handlers aggregates the endpoint handlers. Archive may be nil when
// archiving is not configured.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Accounts *handler.AccountHandler
	Archive  *handler.ArchiveHandler
}

// Security carries request authentication. Limiter and Replay may be nil.
type Security struct {
	Verifier middleware.RequestVerifier
	Replay   domain.ReplayGuard
	Limiter  domain.RateLimiter
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// hub may be nil, in which case /ws is not served.
func NewServer(cfg Config, handlers Handlers, sec Security, hub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, sec, hub, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, sec Security, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Markets.Quote)
	mux.HandleFunc("POST /api/markets/{id}/predictions", handlers.Markets.PlacePrediction)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Markets.ClaimReward)
	mux.HandleFunc("POST /api/markets/{id}/fees/withdraw", handlers.Markets.WithdrawFees)
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Markets.ListPositions)
	mux.HandleFunc("GET /api/markets/{id}/positions/{predictor}", handlers.Markets.GetPosition)
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/markets/{id}/archive", handlers.Archive.GetSnapshot)
	}

	// Custody accounts.
	mux.HandleFunc("GET /api/accounts/{identity}", handlers.Accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{identity}/credit", handlers.Accounts.Credit)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Innermost first.
	var h http.Handler = mux
	h = middleware.Timeout(cfg.RequestTimeout)(h)
	h = middleware.Auth(sec.Verifier, sec.Replay, cfg.MaxBodyBytes, logger)(h)
	if sec.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(sec.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
