package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDX_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is the
// default name, so deployments can run from the environment alone. The
// returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !(errors.Is(err, fs.ErrNotExist) && path == DefaultPath) {
			return nil, fmt.Errorf("config/loader: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// DefaultPath is the configuration file read when no -config flag is given.
const DefaultPath = "config.toml"

// applyEnvOverrides reads well-known FUNDX_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FUNDX_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FUNDX_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FUNDX_WALLET_KEY_PASSWORD")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "FUNDX_LEDGER_RPC_URL")
	setInt64(&cfg.Ledger.ChainID, "FUNDX_LEDGER_CHAIN_ID")
	setStr(&cfg.Ledger.ContractAddress, "FUNDX_LEDGER_CONTRACT_ADDRESS")
	setStr(&cfg.Ledger.ContractAddress, "FUNDX_EVALUATION_SYSTEM_ADDRESS") // compatibility alias
	setInt(&cfg.Ledger.Confirmations, "FUNDX_LEDGER_CONFIRMATIONS")
	setDuration(&cfg.Ledger.ReceiptPollInterval, "FUNDX_LEDGER_RECEIPT_POLL_INTERVAL")
	setDuration(&cfg.Ledger.ConfirmationTimeout, "FUNDX_LEDGER_CONFIRMATION_TIMEOUT")
	setDuration(&cfg.Ledger.EventPollInterval, "FUNDX_LEDGER_EVENT_POLL_INTERVAL")
	setUint64(&cfg.Ledger.GasLimit, "FUNDX_LEDGER_GAS_LIMIT")

	// ── FundX services ──
	setStr(&cfg.FundX.ConfigURL, "FUNDX_CONFIG_URL")
	setStr(&cfg.FundX.ProvisioningURL, "FUNDX_PROVISIONING_URL")
	setStr(&cfg.FundX.APIKey, "FUNDX_API_KEY")
	setStr(&cfg.FundX.APISecret, "FUNDX_API_SECRET")
	setDuration(&cfg.FundX.Timeout, "FUNDX_TIMEOUT")
	setInt(&cfg.FundX.ProvisionRateLimit, "FUNDX_PROVISION_RATE_LIMIT")
	setDuration(&cfg.FundX.ProvisionRateWindow, "FUNDX_PROVISION_RATE_WINDOW")
	setDuration(&cfg.FundX.OfferCacheTTL, "FUNDX_OFFER_CACHE_TTL")

	// ── Purchase ──
	setStr(&cfg.Purchase.Phase, "FUNDX_PURCHASE_PHASE")
	setStr(&cfg.Purchase.ExamType, "FUNDX_PURCHASE_EXAM_TYPE")
	setStr(&cfg.Purchase.MaxPrice, "FUNDX_PURCHASE_MAX_PRICE")

	// ── Registry ──
	setStr(&cfg.Registry.Trader, "FUNDX_REGISTRY_TRADER")
	setDuration(&cfg.Registry.PollInterval, "FUNDX_REGISTRY_POLL_INTERVAL")
	setInt(&cfg.Registry.MinDaysRequired, "FUNDX_REGISTRY_MIN_DAYS_REQUIRED")
	setFloat64(&cfg.Registry.MaxDailyLossPct, "FUNDX_REGISTRY_MAX_DAILY_LOSS_PCT")
	setInt(&cfg.Registry.MaxTimeDays, "FUNDX_REGISTRY_MAX_TIME_DAYS")
	setDuration(&cfg.Registry.TypeCacheTTL, "FUNDX_REGISTRY_TYPE_CACHE_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FUNDX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDX_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "FUNDX_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDX_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDX_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "FUNDX_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUNDX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FUNDX_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDX_MODE")
	setStr(&cfg.LogLevel, "FUNDX_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
