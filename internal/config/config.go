// Package config defines the top-level configuration for the bazaar node
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BAZAAR_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Protocol ProtocolConfig `toml:"protocol"`
	Operator OperatorConfig `toml:"operator"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Metadata MetadataConfig `toml:"metadata"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig controls the in-process execution substrate.
type ChainConfig struct {
	// GenesisTime pins the first block timestamp (RFC 3339). Empty means now.
	GenesisTime string `toml:"genesis_time"`
	// Tokens are deployed at startup so listings can settle in them.
	Tokens []TokenConfig `toml:"tokens"`
	// Faucet enables POST /api/faucet, which credits native value to any
	// address. Development only.
	Faucet       bool   `toml:"faucet"`
	FaucetAmount string `toml:"faucet_amount"`
}

// TokenConfig describes a fungible token deployed at startup.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// ProtocolConfig holds the registry's admin parameters at deployment.
type ProtocolConfig struct {
	Salt         string `toml:"salt"`
	FeeBps       int    `toml:"fee_bps"`
	FeeRecipient string `toml:"fee_recipient"`
	Arbiter      string `toml:"arbiter"`
	// Owner defaults to the operator account when empty.
	Owner string `toml:"owner"`
}

// OperatorConfig holds the operator key. The operator account owns the
// registry unless protocol.owner names another address.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters for the projection
// store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MetadataConfig controls the listing metadata service.
type MetadataConfig struct {
	Prefix   string `toml:"prefix"`
	MaxBytes int    `toml:"max_bytes"`
}

// IndexerConfig controls the event-log consumer.
type IndexerConfig struct {
	PollInterval duration `toml:"poll_interval"`
	BatchSize    int      `toml:"batch_size"`
	LockTTL      duration `toml:"lock_ttl"`
	// CacheTTL bounds how long a listing view stays in Redis.
	CacheTTL duration `toml:"cache_ttl"`
	// ArchiveEvery is the number of events per archived segment. Zero
	// disables archiving.
	ArchiveEvery int `toml:"archive_every"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey lets a trusted gateway act for the address in X-Bazaar-Address.
	APIKey string `toml:"api_key"`
	// HMACSecret enables shared-secret signed requests.
	HMACSecret string `toml:"hmac_secret"`
	// SignatureMaxSkew bounds the age of signed request timestamps.
	SignatureMaxSkew duration `toml:"signature_max_skew"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	// IdempotencyTTL is how long a write response is replayed for a
	// repeated Idempotency-Key.
	IdempotencyTTL duration `toml:"idempotency_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Events lists the protocol event names that trigger a notification.
	Events []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Tokens:       []TokenConfig{{Symbol: "USDC", Decimals: 6}},
			FaucetAmount: "1000000000000000000",
		},
		Protocol: ProtocolConfig{
			Salt:   "bazaar",
			FeeBps: 250,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bazaar",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bazaar-metadata",
			ForcePathStyle: true,
		},
		Metadata: MetadataConfig{
			Prefix:   "metadata/",
			MaxBytes: 64 << 10,
		},
		Indexer: IndexerConfig{
			PollInterval: duration{500 * time.Millisecond},
			BatchSize:    500,
			LockTTL:      duration{30 * time.Second},
			CacheTTL:     duration{10 * time.Minute},
			ArchiveEvery: 1000,
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			IdempotencyTTL:   duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"WinnerSelected", "AuctionClosed", "EscrowReleased", "RefundIssued"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"node": true,
	"full": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsInfra reports whether the mode runs the indexer and its backing
// stores.
func (c *Config) NeedsInfra() bool {
	return strings.ToLower(c.Mode) == "full"
}

// GenesisAt parses chain.genesis_time. The zero time means "use the clock".
func (c *Config) GenesisAt() (time.Time, error) {
	if c.Chain.GenesisTime == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, c.Chain.GenesisTime)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if _, err := c.GenesisAt(); err != nil {
		errs = append(errs, fmt.Sprintf("chain: genesis_time must be RFC 3339: %v", err))
	}
	seen := map[string]bool{}
	for _, t := range c.Chain.Tokens {
		if t.Symbol == "" {
			errs = append(errs, "chain: token symbol must not be empty")
		}
		if seen[t.Symbol] {
			errs = append(errs, fmt.Sprintf("chain: token %q declared twice", t.Symbol))
		}
		seen[t.Symbol] = true
	}
	if c.Chain.Faucet {
		if v, ok := new(big.Int).SetString(c.Chain.FaucetAmount, 10); !ok || v.Sign() <= 0 {
			errs = append(errs, "chain: faucet_amount must be a positive integer")
		}
	}

	// Protocol
	if c.Protocol.FeeBps < 0 || c.Protocol.FeeBps > 1000 {
		errs = append(errs, fmt.Sprintf("protocol: fee_bps must be 0-1000, got %d", c.Protocol.FeeBps))
	}
	for field, v := range map[string]string{
		"fee_recipient": c.Protocol.FeeRecipient,
		"arbiter":       c.Protocol.Arbiter,
		"owner":         c.Protocol.Owner,
	} {
		if v != "" && !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("protocol: %s %q is not a hex address", field, v))
		}
	}
	if c.Protocol.FeeBps > 0 && c.Protocol.FeeRecipient == "" {
		errs = append(errs, "protocol: fee_recipient is required when fee_bps > 0")
	}

	// Operator
	if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" && c.Protocol.Owner == "" {
		errs = append(errs, "operator: private_key or encrypted_key_path must be set (or protocol.owner)")
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}

	if c.NeedsInfra() {
		errs = append(errs, c.validateInfra()...)
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.APIKey == "" && c.Server.HMACSecret == "" {
		errs = append(errs, "server: api_key or hmac_secret must be set")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.IdempotencyTTL.Duration < 0 {
		errs = append(errs, "server: idempotency_ttl must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateInfra() []string {
	var errs []string

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.Metadata.MaxBytes <= 0 {
		errs = append(errs, "metadata: max_bytes must be > 0")
	}

	if c.Indexer.PollInterval.Duration <= 0 {
		errs = append(errs, "indexer: poll_interval must be > 0")
	}
	if c.Indexer.BatchSize < 1 {
		errs = append(errs, "indexer: batch_size must be >= 1")
	}
	if c.Indexer.LockTTL.Duration <= c.Indexer.PollInterval.Duration {
		errs = append(errs, "indexer: lock_ttl must exceed poll_interval")
	}
	if c.Indexer.ArchiveEvery < 0 {
		errs = append(errs, "indexer: archive_every must be >= 0")
	}
	return errs
}
