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

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BAZAAR_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BAZAAR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.GenesisTime, "BAZAAR_CHAIN_GENESIS_TIME")
	setBool(&cfg.Chain.Faucet, "BAZAAR_CHAIN_FAUCET")
	setStr(&cfg.Chain.FaucetAmount, "BAZAAR_CHAIN_FAUCET_AMOUNT")

	// ── Protocol ──
	setStr(&cfg.Protocol.Salt, "BAZAAR_PROTOCOL_SALT")
	setInt(&cfg.Protocol.FeeBps, "BAZAAR_PROTOCOL_FEE_BPS")
	setStr(&cfg.Protocol.FeeRecipient, "BAZAAR_PROTOCOL_FEE_RECIPIENT")
	setStr(&cfg.Protocol.Arbiter, "BAZAAR_PROTOCOL_ARBITER")
	setStr(&cfg.Protocol.Owner, "BAZAAR_PROTOCOL_OWNER")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "BAZAAR_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "BAZAAR_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "BAZAAR_OPERATOR_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BAZAAR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BAZAAR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BAZAAR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BAZAAR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BAZAAR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BAZAAR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BAZAAR_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BAZAAR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BAZAAR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BAZAAR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BAZAAR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BAZAAR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BAZAAR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BAZAAR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BAZAAR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BAZAAR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BAZAAR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BAZAAR_S3_REGION")
	setStr(&cfg.S3.Bucket, "BAZAAR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BAZAAR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BAZAAR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BAZAAR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BAZAAR_S3_FORCE_PATH_STYLE")

	// ── Metadata ──
	setStr(&cfg.Metadata.Prefix, "BAZAAR_METADATA_PREFIX")
	setInt(&cfg.Metadata.MaxBytes, "BAZAAR_METADATA_MAX_BYTES")

	// ── Indexer ──
	setDuration(&cfg.Indexer.PollInterval, "BAZAAR_INDEXER_POLL_INTERVAL")
	setInt(&cfg.Indexer.BatchSize, "BAZAAR_INDEXER_BATCH_SIZE")
	setDuration(&cfg.Indexer.LockTTL, "BAZAAR_INDEXER_LOCK_TTL")
	setDuration(&cfg.Indexer.CacheTTL, "BAZAAR_INDEXER_CACHE_TTL")
	setInt(&cfg.Indexer.ArchiveEvery, "BAZAAR_INDEXER_ARCHIVE_EVERY")

	// ── Server ──
	setInt(&cfg.Server.Port, "BAZAAR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BAZAAR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BAZAAR_SERVER_API_KEY")
	setStr(&cfg.Server.HMACSecret, "BAZAAR_SERVER_HMAC_SECRET")
	setDuration(&cfg.Server.SignatureMaxSkew, "BAZAAR_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "BAZAAR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BAZAAR_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.IdempotencyTTL, "BAZAAR_SERVER_IDEMPOTENCY_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BAZAAR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BAZAAR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BAZAAR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BAZAAR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BAZAAR_MODE")
	setStr(&cfg.LogLevel, "BAZAAR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
