package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/fundxeval/internal/blob/s3"
	"github.com/alanyoungcy/fundxeval/internal/cache/redis"
	"github.com/alanyoungcy/fundxeval/internal/config"
	"github.com/alanyoungcy/fundxeval/internal/crypto"
	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/alanyoungcy/fundxeval/internal/notify"
	"github.com/alanyoungcy/fundxeval/internal/platform/fundx"
	"github.com/alanyoungcy/fundxeval/internal/platform/ledger"
	"github.com/alanyoungcy/fundxeval/internal/server/handler"
	"github.com/alanyoungcy/fundxeval/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Wallet; Signer is nil in read-only modes.
	Signer *crypto.Signer
	Trader string

	// External services
	Ledger *ledger.Gateway
	FundX  *fundx.Client

	// Stores; nil when the mode does not persist sessions.
	PaymentStore *postgres.PaymentStore
	AuditStore   domain.AuditStore

	// Caches
	OfferCache       domain.OfferCache
	TypeCache        domain.EvaluationTypeCache
	ProvisionLimiter domain.RateLimiter
	APILimiter       domain.RateLimiter
	LockManager      domain.LockManager
	ProvisionClaimer domain.ProvisionClaimer
	SignalBus        domain.SignalBus

	// Receipt archive; nil unless s3.enabled.
	Archive *s3blob.ReceiptArchive

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probes every connected backend for GET /api/health.
	HealthChecks map[string]handler.HealthCheck
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Wallet ---
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if cfg.NeedsWallet() {
		signer, err := crypto.LoadSigner(keyCfg, cfg.Ledger.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
		deps.Signer = signer
		deps.Trader = signer.Address().Hex()
	}
	switch {
	case cfg.Registry.Trader != "":
		deps.Trader = common.HexToAddress(cfg.Registry.Trader).Hex()
	case deps.Trader == "":
		// Read-only modes only need the wallet's address.
		signer, err := crypto.LoadSigner(keyCfg, cfg.Ledger.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: trader address: %w", err))
		}
		deps.Trader = signer.Address().Hex()
	}

	// --- Ledger ---
	var txSigner ledger.TxSigner
	if deps.Signer != nil {
		txSigner = deps.Signer
	}
	gateway, closeLedger, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, ledger.Config{
		Contract:            common.HexToAddress(cfg.Ledger.ContractAddress),
		Confirmations:       cfg.Ledger.Confirmations,
		ReceiptPollInterval: cfg.Ledger.ReceiptPollInterval.Duration,
		EventPollInterval:   cfg.Ledger.EventPollInterval.Duration,
		GasLimit:            cfg.Ledger.GasLimit,
	}, txSigner, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	closers = append(closers, closeLedger)
	deps.Ledger = gateway

	// --- FundX services ---
	fxCfg := fundx.ClientConfig{
		ConfigURL:       cfg.FundX.ConfigURL,
		ProvisioningURL: cfg.FundX.ProvisioningURL,
		Timeout:         cfg.FundX.Timeout.Duration,
	}
	if cfg.FundX.APIKey != "" {
		fxCfg.HMAC = &crypto.HMACAuth{Key: cfg.FundX.APIKey, Secret: cfg.FundX.APISecret}
	}
	if deps.Signer != nil {
		fxCfg.Wallet = deps.Signer
	}
	deps.FundX = fundx.New(fxCfg)

	// --- PostgreSQL (only for modes that persist sessions) ---
	if cfg.NeedsPostgres() {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.PaymentStore = postgres.NewPaymentStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pool.Ping
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MaxRetries:   cfg.Redis.MaxRetries,
		TLSEnabled:   cfg.Redis.TLSEnabled,
		StreamMaxLen: int64(cfg.Redis.StreamMaxLen),
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.OfferCache = redis.NewOfferCache(redisClient, cfg.FundX.OfferCacheTTL.Duration)
	deps.TypeCache = redis.NewEvaluationTypeCache(redisClient, cfg.Registry.TypeCacheTTL.Duration)
	if cfg.FundX.ProvisionRateLimit > 0 {
		deps.ProvisionLimiter = redis.NewRateLimiter(redisClient, cfg.FundX.ProvisionRateLimit, cfg.FundX.ProvisionRateWindow.Duration)
	}
	deps.APILimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, time.Minute)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.ProvisionClaimer = redis.NewProvisionClaimer(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 receipt archive ---
	if cfg.S3.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archive = s3blob.NewReceiptArchive(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.S3.Prefix)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("trader", strings.ToLower(deps.Trader)),
		slog.Bool("wallet", deps.Signer != nil),
		slog.Bool("postgres", deps.PaymentStore != nil),
		slog.Bool("s3", deps.Archive != nil),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}
