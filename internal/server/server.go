package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/metrics"
	"github.com/alanyoungcy/bazaar/internal/server/handler"
	"github.com/alanyoungcy/bazaar/internal/server/middleware"
	"github.com/alanyoungcy/bazaar/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Auth        middleware.AuthConfig
	// Limiter enables per-client rate limiting when set.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
	Metrics    *metrics.Metrics
	// Idempotency enables Idempotency-Key replay of writes when its Store
	// is set.
	Idempotency middleware.IdempotencyConfig
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Metadata is optional; it needs object storage.
type Handlers struct {
	Health   *handler.HealthHandler
	Listings *handler.ListingHandler
	Sales    *handler.SaleHandler
	Accounts *handler.AccountHandler
	Admin    *handler.AdminHandler
	Events   *handler.EventHandler
	Metadata *handler.MetadataHandler
}

// Server is the HTTP + WebSocket API of the marketplace.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped API handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if cfg.Metrics != nil {
		mux.Handle("GET /api/metrics", cfg.Metrics.Handler())
	}

	// Listings and escrow.
	l := handlers.Listings
	mux.HandleFunc("GET /api/listings", l.ListListings)
	mux.HandleFunc("POST /api/listings", l.CreateListing)
	mux.HandleFunc("GET /api/listings/{id}", l.GetListing)
	mux.HandleFunc("GET /api/listings/{id}/events", l.ListingEvents)
	mux.HandleFunc("POST /api/listings/{id}/cancel", l.CancelListing)
	mux.HandleFunc("POST /api/listings/{id}/buy", l.Buy)
	mux.HandleFunc("POST /api/listings/{id}/confirm", l.ConfirmDelivery)
	mux.HandleFunc("POST /api/listings/{id}/refund", l.RequestRefund)
	mux.HandleFunc("POST /api/listings/{id}/arbiter/release", l.ArbiterRelease)
	mux.HandleFunc("POST /api/listings/{id}/arbiter/refund", l.ArbiterRefund)

	// Auctions and raffles.
	s := handlers.Sales
	mux.HandleFunc("GET /api/listings/{id}/auction", s.GetAuction)
	mux.HandleFunc("POST /api/listings/{id}/auction", s.OpenAuction)
	mux.HandleFunc("POST /api/listings/{id}/bids", s.Bid)
	mux.HandleFunc("POST /api/listings/{id}/auction/close", s.CloseAuction)
	mux.HandleFunc("POST /api/listings/{id}/auction/refund", s.WithdrawAuctionRefund)
	mux.HandleFunc("GET /api/listings/{id}/raffle", s.GetRaffle)
	mux.HandleFunc("POST /api/listings/{id}/raffle", s.OpenRaffle)
	mux.HandleFunc("GET /api/listings/{id}/quote", s.Quote)
	mux.HandleFunc("POST /api/listings/{id}/entries", s.EnterRaffle)
	mux.HandleFunc("POST /api/listings/{id}/raffle/close", s.CloseRaffle)
	mux.HandleFunc("POST /api/listings/{id}/raffle/refund", s.WithdrawRaffleRefund)
	mux.HandleFunc("GET /api/raffle/reveal", s.NewReveal)

	// Accounts.
	a := handlers.Accounts
	mux.HandleFunc("GET /api/accounts/{address}", a.GetAccount)
	mux.HandleFunc("POST /api/withdrawals/payout", a.WithdrawPayout)
	mux.HandleFunc("POST /api/withdrawals/fees", a.WithdrawFees)
	mux.HandleFunc("POST /api/approvals", a.ApprovePayments)
	mux.HandleFunc("POST /api/faucet", a.Faucet)

	// Administration.
	mux.HandleFunc("GET /api/settings", handlers.Admin.GetSettings)
	mux.HandleFunc("POST /api/admin/fee", handlers.Admin.SetFee)
	mux.HandleFunc("POST /api/admin/arbiter", handlers.Admin.SetArbiter)
	mux.HandleFunc("POST /api/admin/owner", handlers.Admin.TransferOwnership)

	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	if handlers.Metadata != nil {
		mux.HandleFunc("PUT /api/metadata", handlers.Metadata.PutMetadata)
		mux.HandleFunc("GET /api/metadata/{digest}", handlers.Metadata.GetMetadata)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	if cfg.Idempotency.Store != nil {
		h = middleware.Idempotency(cfg.Idempotency, logger)(h)
	}
	h = middleware.Auth(cfg.Auth)(h)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger, cfg.Metrics)(h)
	h = middleware.RequestID()(h)
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
