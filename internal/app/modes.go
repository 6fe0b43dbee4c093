package app

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/crypto"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/indexer"
	"github.com/alanyoungcy/bazaar/internal/server"
	"github.com/alanyoungcy/bazaar/internal/server/handler"
	"github.com/alanyoungcy/bazaar/internal/server/middleware"
	"github.com/alanyoungcy/bazaar/internal/server/ws"
	"github.com/alanyoungcy/bazaar/internal/service"
	"github.com/alanyoungcy/bazaar/internal/store/postgres"
)

// NodeMode serves the protocol API straight off the chain. Listing queries
// that need the projection answer 503. WebSocket clients receive events as
// blocks commit.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")

	g, ctx := errgroup.WithContext(ctx)

	market := a.newMarketService(deps, nil)
	catalog := service.NewCatalog(deps.Client, a.logger)
	hub := a.newHub(nil, deps)

	// A projector without a store resolves the listing of every event from
	// what it has seen, which is the whole log here.
	projector := indexer.NewProjector(nil)
	deps.Chain.OnCommit(func(r chain.Receipt) {
		deps.Metrics.ObserveBlock(r.BlockNumber, len(r.Logs))
		records, _, err := projector.Apply(context.Background(), r.Logs)
		if err != nil {
			a.logger.Warn("node: project receipt", slog.String("tx", r.TxHash.Hex()), slog.String("error", err.Error()))
			return
		}
		for _, rec := range records {
			hub.Publish(rec)
		}
	})

	g.Go(func() error {
		return hub.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, a.head(deps), deps.Checks, a.logger),
		Listings: handler.NewListingHandler(market, catalog, a.logger),
		Sales:    handler.NewSaleHandler(market, catalog, a.logger),
		Accounts: handler.NewAccountHandler(market, catalog, a.logger),
		Admin:    handler.NewAdminHandler(market, catalog, a.logger),
		Events:   handler.NewEventHandler(catalog, a.logger),
	}, hub, nil, middleware.IdempotencyConfig{
		Store: middleware.NewMemoryIdempotencyStore(),
	})

	return g.Wait()
}

// FullMode runs the API together with the indexer. Reads are served from
// the Postgres projection through the Redis cache, events fan out over the
// signal bus, and metadata documents live in object storage.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	market := a.newMarketService(deps, deps.Stores.Audit)
	catalog := service.NewCatalog(deps.Client, a.logger).
		WithProjection(deps.Stores.Listings, deps.Stores.Events, deps.ListingCache)
	hub := a.newHub(deps.SignalBus, deps)

	deps.Chain.OnCommit(func(r chain.Receipt) {
		deps.Metrics.ObserveBlock(r.BlockNumber, len(r.Logs))
	})

	var handlers []indexer.EventHandler
	if deps.Notifier != nil {
		handlers = append(handlers, deps.Notifier)
	}
	ix := indexer.New(indexer.Config{
		Name:         "projector",
		PollInterval: a.cfg.Indexer.PollInterval.Duration,
		BatchSize:    a.cfg.Indexer.BatchSize,
		LockTTL:      a.cfg.Indexer.LockTTL.Duration,
		ArchiveEvery: uint64(a.cfg.Indexer.ArchiveEvery),
	}, indexer.Deps{
		Source:   deps.Chain,
		Listings: deps.Stores.Listings,
		Events:   deps.Stores.Events,
		Cursors:  deps.Stores.Cursors,
		Reset:    deps.Postgres,
		Cache:    deps.ListingCache,
		Bus:      deps.SignalBus,
		Locks:    deps.LockManager,
		Handlers: handlers,
		Archiver: deps.Archiver,
		Metrics:  deps.Metrics,
	}, a.logger)

	g.Go(func() error {
		return ix.Run(ctx)
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return a.sweepIdempotency(ctx, deps.Stores.Idempotency)
	})
	a.startHTTPServer(ctx, g, deps, server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, a.head(deps), deps.Checks, a.logger),
		Listings: handler.NewListingHandler(market, catalog, a.logger),
		Sales:    handler.NewSaleHandler(market, catalog, a.logger),
		Accounts: handler.NewAccountHandler(market, catalog, a.logger),
		Admin:    handler.NewAdminHandler(market, catalog, a.logger),
		Events:   handler.NewEventHandler(catalog, a.logger),
		Metadata: handler.NewMetadataHandler(deps.Metadata, a.logger),
	}, hub, deps.RateLimiter, middleware.IdempotencyConfig{
		Store: deps.Stores.Idempotency,
		Locks: deps.LockManager,
	})

	return g.Wait()
}

// sweepIdempotency deletes expired idempotency records once an hour until
// ctx is cancelled.
func (a *App) sweepIdempotency(ctx context.Context, store *postgres.IdempotencyStore) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "idempotency sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.DebugContext(ctx, "idempotency sweep", slog.Int64("deleted", n))
			}
		}
	}
}

func (a *App) newMarketService(deps *Dependencies, audit domain.AuditStore) *service.MarketService {
	svc := service.NewMarketService(deps.Client, audit, deps.Metrics, a.logger)
	if a.cfg.Chain.Faucet {
		tokens := make([]common.Address, 0, len(a.cfg.Chain.Tokens))
		for _, t := range a.cfg.Chain.Tokens {
			tokens = append(tokens, deps.Tokens[t.Symbol])
		}
		svc.WithFaucet(faucetAmount(a.cfg), tokens)
		a.logger.Warn("faucet enabled", slog.String("amount", a.cfg.Chain.FaucetAmount))
	}
	return svc
}

func (a *App) newHub(bus domain.SignalBus, deps *Dependencies) *ws.Hub {
	return ws.NewHub(bus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		ChainID:        deps.Chain.ID(),
		Head:           a.head(deps),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      time.Now().UTC(),
	})
}

func (a *App) head(deps *Dependencies) func() (uint64, uint64) {
	return func() (uint64, uint64) {
		b := deps.Chain.Head()
		return b.Number, b.Time
	}
}

// startHTTPServer adds the API server to the errgroup and shuts it down
// gracefully when the context is cancelled. limiter may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	handlers server.Handlers,
	hub *ws.Hub,
	limiter domain.RateLimiter,
	idem middleware.IdempotencyConfig,
) {
	// Replays never cross chain instances.
	idem.Scope = strconv.FormatUint(deps.Chain.ID(), 16)
	idem.TTL = a.cfg.Server.IdempotencyTTL.Duration

	auth := middleware.AuthConfig{
		APIKey:  a.cfg.Server.APIKey,
		MaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
	}
	if a.cfg.Server.HMACSecret != "" {
		auth.HMAC = &crypto.HMACAuth{Secret: a.cfg.Server.HMACSecret}
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Auth:        auth,
		Limiter:     limiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Metrics:     deps.Metrics,
		Idempotency: idem,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
