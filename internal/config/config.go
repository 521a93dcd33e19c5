// Package config defines the top-level configuration for the evaluation
// gateway and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDX_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Ledger   LedgerConfig   `toml:"ledger"`
	FundX    FundXConfig    `toml:"fundx"`
	Purchase PurchaseConfig `toml:"purchase"`
	Registry RegistryConfig `toml:"registry"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the trader's signing key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LedgerConfig holds the EVM endpoint and evaluation contract parameters.
type LedgerConfig struct {
	RPCURL          string `toml:"rpc_url"`
	ChainID         int64  `toml:"chain_id"`
	ContractAddress string `toml:"contract_address"`
	// Confirmations is the number of blocks on top of the receipt block
	// required before a payment counts as confirmed.
	Confirmations       int      `toml:"confirmations"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
	ConfirmationTimeout duration `toml:"confirmation_timeout"`
	EventPollInterval   duration `toml:"event_poll_interval"`
	// GasLimit overrides gas estimation when non-zero.
	GasLimit uint64 `toml:"gas_limit"`
}

// FundXConfig holds the off-chain configuration and provisioning services.
type FundXConfig struct {
	ConfigURL       string   `toml:"config_url"`
	ProvisioningURL string   `toml:"provisioning_url"`
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	Timeout         duration `toml:"timeout"`
	// ProvisionRateLimit caps provisioning calls per ProvisionRateWindow.
	ProvisionRateLimit  int      `toml:"provision_rate_limit"`
	ProvisionRateWindow duration `toml:"provision_rate_window"`
	OfferCacheTTL       duration `toml:"offer_cache_ttl"`
}

// PurchaseConfig selects the offer bought in purchase mode.
type PurchaseConfig struct {
	Phase    string `toml:"phase"`
	ExamType string `toml:"exam_type"`
	// MaxPrice refuses offers priced above it when non-empty.
	MaxPrice string `toml:"max_price"`
}

// RegistryConfig controls evaluation polling and the rule defaults applied to
// ledger records, which carry only profit and loss thresholds.
type RegistryConfig struct {
	Trader          string   `toml:"trader"`
	PollInterval    duration `toml:"poll_interval"`
	MinDaysRequired int      `toml:"min_days_required"`
	MaxDailyLossPct float64  `toml:"max_daily_loss_pct"`
	MaxTimeDays     int      `toml:"max_time_days"`
	TypeCacheTTL    duration `toml:"type_cache_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the receipt
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// duration wraps time.Duration to support TOML string decoding (e.g. "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:              "https://rpc.hyperliquid-testnet.xyz/evm",
			ChainID:             998,
			Confirmations:       1,
			ReceiptPollInterval: duration{2 * time.Second},
			ConfirmationTimeout: duration{3 * time.Minute},
			EventPollInterval:   duration{5 * time.Second},
		},
		FundX: FundXConfig{
			ConfigURL:           "http://localhost:3002",
			ProvisioningURL:     "http://localhost:3002",
			Timeout:             duration{30 * time.Second},
			ProvisionRateLimit:  10,
			ProvisionRateWindow: duration{time.Minute},
			OfferCacheTTL:       duration{5 * time.Minute},
		},
		Purchase: PurchaseConfig{
			Phase:    "phase1",
			ExamType: "basic",
		},
		Registry: RegistryConfig{
			PollInterval:    duration{time.Second},
			MinDaysRequired: 7,
			MaxDailyLossPct: 2,
			MaxTimeDays:     30,
			TypeCacheTTL:    duration{time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fundx",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundx-receipts",
			ForcePathStyle: true,
			Prefix:         "receipts",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"payment_succeeded", "payment_failed", "provisioning_failed", "evaluation_status"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"purchase": true,
	"watch":    true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the mode signs transactions.
func (c *Config) NeedsWallet() bool {
	switch strings.ToLower(c.Mode) {
	case "server", "purchase", "full":
		return true
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, purchase, watch, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, "ledger: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Ledger.ContractAddress) {
		errs = append(errs, fmt.Sprintf("ledger: contract_address %q is not a hex address", c.Ledger.ContractAddress))
	}
	if c.Ledger.Confirmations < 0 {
		errs = append(errs, "ledger: confirmations must be >= 0")
	}
	if c.Ledger.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "ledger: receipt_poll_interval must be > 0")
	}
	if c.Ledger.ConfirmationTimeout.Duration <= 0 {
		errs = append(errs, "ledger: confirmation_timeout must be > 0")
	}
	if c.Ledger.EventPollInterval.Duration <= 0 {
		errs = append(errs, "ledger: event_poll_interval must be > 0")
	}

	// FundX services
	if _, err := url.ParseRequestURI(c.FundX.ConfigURL); err != nil {
		errs = append(errs, fmt.Sprintf("fundx: config_url %q is invalid", c.FundX.ConfigURL))
	}
	if _, err := url.ParseRequestURI(c.FundX.ProvisioningURL); err != nil {
		errs = append(errs, fmt.Sprintf("fundx: provisioning_url %q is invalid", c.FundX.ProvisioningURL))
	}
	if (c.FundX.APIKey == "") != (c.FundX.APISecret == "") {
		errs = append(errs, "fundx: api_key and api_secret must be set together")
	}
	if c.FundX.Timeout.Duration <= 0 {
		errs = append(errs, "fundx: timeout must be > 0")
	}
	if c.FundX.ProvisionRateLimit < 0 {
		errs = append(errs, "fundx: provision_rate_limit must be >= 0")
	}
	if c.FundX.ProvisionRateLimit > 0 && c.FundX.ProvisionRateWindow.Duration <= 0 {
		errs = append(errs, "fundx: provision_rate_window must be > 0 when provision_rate_limit is set")
	}

	// Purchase
	if mode == "purchase" {
		if p := c.Purchase.Phase; p != "phase1" && p != "phase2" {
			errs = append(errs, fmt.Sprintf("purchase: phase must be phase1 or phase2, got %q", p))
		}
		if strings.TrimSpace(c.Purchase.ExamType) == "" {
			errs = append(errs, "purchase: exam_type must not be empty")
		}
	}
	if c.Purchase.MaxPrice != "" {
		if _, err := decimal.NewFromString(c.Purchase.MaxPrice); err != nil {
			errs = append(errs, fmt.Sprintf("purchase: max_price %q is not a decimal", c.Purchase.MaxPrice))
		}
	}

	// Registry
	if mode == "watch" && !common.IsHexAddress(c.Registry.Trader) && !c.hasWalletKey() {
		errs = append(errs, "registry: trader address or a wallet key is required for watch mode")
	}
	if c.Registry.Trader != "" && !common.IsHexAddress(c.Registry.Trader) {
		errs = append(errs, fmt.Sprintf("registry: trader %q is not a hex address", c.Registry.Trader))
	}
	if c.Registry.PollInterval.Duration <= 0 {
		errs = append(errs, "registry: poll_interval must be > 0")
	}
	if c.Registry.MinDaysRequired < 0 {
		errs = append(errs, "registry: min_days_required must be >= 0")
	}
	if c.Registry.MaxDailyLossPct < 0 {
		errs = append(errs, "registry: max_daily_loss_pct must be >= 0")
	}

	// Postgres
	if needsPostgres(mode) {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled && (mode == "server" || mode == "full") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) hasWalletKey() bool {
	return c.Wallet.PrivateKey != "" || c.Wallet.EncryptedKeyPath != ""
}

// needsPostgres returns true for modes that persist payment sessions.
func needsPostgres(mode string) bool {
	switch mode {
	case "server", "purchase", "full":
		return true
	}
	return false
}

// NeedsPostgres reports whether the configured mode persists payment sessions.
func (c *Config) NeedsPostgres() bool {
	return needsPostgres(strings.ToLower(c.Mode))
}
