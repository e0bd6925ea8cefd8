// Package server exposes the marketplace over HTTP JSON and WebSocket push.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/server/handler"
	"github.com/alanyoungcy/tradepost/internal/server/middleware"
	"github.com/alanyoungcy/tradepost/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// TrustPlayerHeader accepts X-Player-ID as identity. Dev and tests only.
	TrustPlayerHeader bool
	// Limiter with RateLimit and RateWindow caps mutations per player. A nil
	// Limiter disables the cap.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Market *handler.MarketHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the rate limit,
// identity, logging and CORS middleware. sessions may be nil when only the trusted
// header is used.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, sessions domain.SessionResolver, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, sessions, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, sessions domain.SessionResolver, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	m := handlers.Market
	mux.HandleFunc("GET /api/market/settings", m.GetSettings)
	mux.HandleFunc("GET /api/market/sales/mine", m.GetMySales)
	mux.HandleFunc("GET /api/market/requests/mine", m.GetMyPurchaseRequests)
	mux.HandleFunc("GET /api/market/history", m.GetHistory)
	mux.HandleFunc("POST /api/market/listings", m.CreateListing)
	mux.HandleFunc("POST /api/market/requests", m.CreatePurchaseRequest)
	mux.HandleFunc("POST /api/market/listings/{id}/purchase", m.Purchase)
	mux.HandleFunc("DELETE /api/market/orders/{id}", m.Cancel)
	mux.HandleFunc("GET /api/market/trades", m.GetTrades)
	mux.HandleFunc("GET /api/market/trades/{itemDefinitionId}", m.GetTrade)
	mux.HandleFunc("GET /api/market/trades/{itemDefinitionId}/asks", m.GetOpenAsks)
	mux.HandleFunc("GET /api/market/trades/{itemDefinitionId}/bids", m.GetOpenBids)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Identity(sessions, cfg.TrustPlayerHeader, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
