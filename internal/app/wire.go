package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/bazaar/internal/blob/s3"
	"github.com/alanyoungcy/bazaar/internal/cache/redis"
	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/config"
	"github.com/alanyoungcy/bazaar/internal/crypto"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/metadata"
	"github.com/alanyoungcy/bazaar/internal/metrics"
	"github.com/alanyoungcy/bazaar/internal/notify"
	"github.com/alanyoungcy/bazaar/internal/registry"
	"github.com/alanyoungcy/bazaar/internal/server/handler"
	"github.com/alanyoungcy/bazaar/internal/store/postgres"
)

// Dependencies bundles everything the modes run on. The execution half is
// always present; the projection half is only built when the mode needs
// infrastructure.
type Dependencies struct {
	// Execution
	Chain    *chain.Chain
	Client   *registry.Client
	Operator common.Address
	Tokens   map[string]common.Address
	Metrics  *metrics.Metrics

	// Projection
	Postgres     *postgres.Client
	Stores       postgres.Stores
	ListingCache domain.ListingCache
	SignalBus    domain.SignalBus
	LockManager  domain.LockManager
	RateLimiter  domain.RateLimiter
	Archiver     *s3blob.EventArchiver
	Metadata     *metadata.Service
	Notifier     *notify.Notifier

	// Checks are the dependency checks reported by /api/health.
	Checks []handler.HealthCheck
}

// objectStore joins the S3 writer and reader into the blob surface the
// metadata service expects.
type objectStore struct {
	*s3blob.Writer
	*s3blob.Reader
}

// genesisClock runs the host clock shifted so the first block lands on a
// configured timestamp.
type genesisClock struct {
	offset time.Duration
}

func (c genesisClock) Now() time.Time { return time.Now().Add(c.offset) }

func newClock(cfg *config.Config) (chain.Clock, error) {
	genesis, err := cfg.GenesisAt()
	if err != nil {
		return nil, err
	}
	if genesis.IsZero() {
		return chain.SystemClock{}, nil
	}
	return genesisClock{offset: time.Until(genesis)}, nil
}

func hexAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
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

	deps := &Dependencies{
		Tokens:  make(map[string]common.Address),
		Metrics: metrics.New(),
	}

	// --- Operator and deployment ---
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	switch {
	case err == nil:
		deps.Operator = signer.Address()
	case errors.Is(err, crypto.ErrNoKeySource):
	default:
		return nil, nil, fmt.Errorf("wire: operator key: %w", err)
	}
	owner := deps.Operator
	if cfg.Protocol.Owner != "" {
		owner = common.HexToAddress(cfg.Protocol.Owner)
	}

	clock, err := newClock(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: genesis time: %w", err)
	}
	deps.Chain = chain.New(clock, logger)

	dep, err := registry.Deploy(registry.DeployOptions{
		Salt:         cfg.Protocol.Salt,
		Owner:        owner,
		Arbiter:      hexAddress(cfg.Protocol.Arbiter),
		FeeRecipient: hexAddress(cfg.Protocol.FeeRecipient),
		FeeBps:       uint16(cfg.Protocol.FeeBps),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: deploy registry: %w", err)
	}
	deps.Client = registry.NewClient(deps.Chain, dep.Registry)

	for _, t := range cfg.Chain.Tokens {
		addr, err := deps.Chain.DeployToken(t.Symbol, t.Decimals)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: deploy token %s: %w", t.Symbol, err)
		}
		deps.Tokens[t.Symbol] = addr
	}

	logger.Info("wire: protocol deployed",
		slog.Uint64("chain_id", deps.Chain.ID()),
		slog.String("registry", dep.Registry.Address().Hex()),
		slog.String("owner", owner.Hex()),
		slog.Int("tokens", len(deps.Tokens)),
	)

	if !cfg.NeedsInfra() {
		return deps, cleanup, nil
	}

	// Archive segments and cache keys are scoped to this chain instance.
	namespace := strconv.FormatUint(deps.Chain.ID(), 16)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Postgres = pgClient
	deps.Stores = pgClient.Stores()
	deps.Checks = append(deps.Checks, handler.HealthCheck{Name: "postgres", Check: pgClient.Ping})

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.ListingCache = redis.NewListingCache(redisClient, namespace, cfg.Indexer.CacheTTL.Duration)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	deps.Checks = append(deps.Checks, handler.HealthCheck{Name: "redis", Check: redisClient.Ping})

	// --- S3 blob storage ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	blobs := objectStore{Writer: s3blob.NewWriter(s3Client), Reader: s3blob.NewReader(s3Client)}
	deps.Archiver = s3blob.NewEventArchiver(blobs, deps.Stores.Events, deps.Stores.Audit, namespace)
	deps.Metadata = metadata.NewService(blobs, cfg.Metadata.Prefix, cfg.Metadata.MaxBytes, logger)
	deps.Checks = append(deps.Checks, handler.HealthCheck{Name: "s3", Check: s3Client.Health})

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
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// faucetAmount parses chain.faucet_amount. Validate has already checked it.
func faucetAmount(cfg *config.Config) *big.Int {
	v, ok := new(big.Int).SetString(cfg.Chain.FaucetAmount, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
