package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/alanyoungcy/fundxeval/internal/server"
	"github.com/alanyoungcy/fundxeval/internal/server/handler"
	"github.com/alanyoungcy/fundxeval/internal/server/ws"
	"github.com/alanyoungcy/fundxeval/internal/service"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// ServerMode serves the dashboard API with the payment coordinator and the
// registry watcher in process. Live updates reach this instance's WebSocket
// clients directly from the services.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.serve(ctx, deps, false)
}

// FullMode is ServerMode with WebSocket clients fed from the Redis signal
// bus, so clients of every gateway instance see the same payment and
// evaluation stream.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.serve(ctx, deps, true)
}

func (a *App) serve(ctx context.Context, deps *Dependencies, viaBus bool) error {
	g, ctx := errgroup.WithContext(ctx)

	coordinator := a.newCoordinator(deps)
	defer coordinator.Close()
	if err := coordinator.Resume(ctx); err != nil {
		a.logger.WarnContext(ctx, "resume payment session failed", slog.String("error", err.Error()))
	}

	registry := a.newRegistry(deps)
	watcher := a.newWatcher(deps, registry)

	var hubBus domain.SignalBus
	if viaBus {
		hubBus = deps.SignalBus
	}
	hub := ws.NewHub(hubBus, a.logger, ws.Config{Mode: a.cfg.Mode, Trader: deps.Trader})
	if !viaBus {
		coordinator.OnChange(func(s domain.PaymentSession) {
			hub.BroadcastJSON(domain.ChannelPayments, s)
		})
		watcher.OnSnapshot(func(s domain.EvaluationSnapshot) {
			hub.BroadcastJSON(domain.ChannelEvaluations, s)
		})
	}

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })

	// Confirmed purchases show up as new evaluations; refetch right away.
	coordinator.OnChange(func(s domain.PaymentSession) {
		if s.State == domain.PaymentSucceeded {
			watcher.Invalidate()
		}
	})

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return g.Wait()
	}

	resolver := service.NewConfigResolver(deps.FundX, deps.OfferCache, a.logger)
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, deps.Trader),
		Config:      handler.NewConfigHandler(resolver, a.logger),
		Payments:    a.newPaymentHandler(deps, resolver, coordinator),
		Evaluations: handler.NewEvaluationHandler(registry, watcher, a.logger),
		Wallet:      handler.NewWalletHandler(deps.Ledger, coordinator.Trader(), a.logger),
		Activity:    handler.NewActivityHandler(deps.AuditStore, deps.SignalBus, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.APILimiter,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// PurchaseMode buys the offer named in [purchase] once and waits until the
// account is provisioned or the payment fails. A payment left pending by an
// earlier run is resolved instead of starting a second one.
func (a *App) PurchaseMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting purchase mode",
		slog.String("phase", a.cfg.Purchase.Phase),
		slog.String("exam_type", a.cfg.Purchase.ExamType),
	)

	coordinator := a.newCoordinator(deps)
	defer coordinator.Close()
	if err := coordinator.Resume(ctx); err != nil {
		return fmt.Errorf("app: resume: %w", err)
	}

	if current := coordinator.Current(); current.State == domain.PaymentIdle || current.State.Terminal() {
		resolver := service.NewConfigResolver(deps.FundX, deps.OfferCache, a.logger)
		offer, err := resolver.Offer(ctx, domain.Phase(a.cfg.Purchase.Phase), a.cfg.Purchase.ExamType)
		if err != nil {
			return fmt.Errorf("app: resolve offer: %w", err)
		}
		if err := checkMaxPrice(offer, a.cfg.Purchase.MaxPrice); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "offer resolved",
			slog.String("name", offer.Name),
			slog.String("price", offer.Price.String()),
			slog.String("evaluation_type", offer.EvaluationTypeID.String()),
		)
		if _, err := coordinator.Begin(ctx, offer); err != nil {
			return fmt.Errorf("app: begin payment: %w", err)
		}
	} else {
		a.logger.InfoContext(ctx, "resuming pending payment",
			slog.String("session_id", current.ID),
			slog.String("tx_hash", current.TransactionHash),
		)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.Ledger.ConfirmationTimeout.Duration+a.cfg.FundX.Timeout.Duration)
	defer cancel()
	s, err := coordinator.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationTimeout) {
			a.logger.WarnContext(ctx, "payment still pending; rerun purchase mode to resume",
				slog.String("tx_hash", s.TransactionHash),
			)
		}
		return fmt.Errorf("app: purchase: %w", err)
	}

	a.logger.InfoContext(ctx, "evaluation purchased",
		slog.String("tx_hash", s.TransactionHash),
		slog.Uint64("block", s.BlockNumber),
		slog.Any("provisioning", s.ProvisioningData),
	)
	return nil
}

// WatchMode follows the trader's active evaluations and logs every refresh.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode", slog.String("trader", deps.Trader))

	watcher := a.newWatcher(deps, a.newRegistry(deps))
	watcher.OnSnapshot(func(snap domain.EvaluationSnapshot) {
		a.logSnapshot(ctx, snap)
	})
	return watcher.Run(ctx)
}

func (a *App) logSnapshot(ctx context.Context, snap domain.EvaluationSnapshot) {
	if len(snap.Evaluations) == 0 {
		a.logger.InfoContext(ctx, "no active evaluations", slog.String("trader", snap.Trader))
		return
	}
	for _, v := range snap.Evaluations {
		a.logger.InfoContext(ctx, "evaluation",
			slog.Uint64("id", v.Evaluation.ID),
			slog.String("status", string(v.Assessment.Status)),
			slog.Bool("tentative", v.Assessment.Tentative),
			slog.String("balance", v.Evaluation.CurrentBalance.String()),
			slog.String("performance_pct", v.PerformancePct.String()),
			slog.String("remaining", v.Assessment.RemainingText),
		)
	}
}

func (a *App) newCoordinator(deps *Dependencies) *service.PaymentCoordinator {
	c := service.NewPaymentCoordinator(deps.Ledger, deps.FundX, service.CoordinatorConfig{
		Trader:              deps.Signer.Address().Hex(),
		ChainID:             a.cfg.Ledger.ChainID,
		Contract:            a.cfg.Ledger.ContractAddress,
		ConfirmationTimeout: a.cfg.Ledger.ConfirmationTimeout.Duration,
		ProvisionTimeout:    a.cfg.FundX.Timeout.Duration,
		CheckBalance:        true,
	}, a.logger).
		WithAudit(deps.AuditStore).
		WithSignalBus(deps.SignalBus).
		WithRateLimiter(deps.ProvisionLimiter).
		WithLocks(deps.LockManager).
		WithNotifier(deps.Notifier).
		WithClaimers(deps.ProvisionClaimer)

	if deps.PaymentStore != nil {
		c.WithStore(deps.PaymentStore).
			WithClaimers(domain.ClaimFunc(deps.PaymentStore.ClaimProvisioning))
	}
	if deps.Archive != nil {
		c.WithArchive(deps.Archive)
	}
	return c
}

func (a *App) newPaymentHandler(deps *Dependencies, resolver *service.ConfigResolver, c *service.PaymentCoordinator) *handler.PaymentHandler {
	var (
		store    domain.PaymentStore
		archive  domain.ReceiptArchive
		exporter handler.RecoveryExporter
	)
	if deps.PaymentStore != nil {
		store = deps.PaymentStore
	}
	if deps.Archive != nil {
		archive, exporter = deps.Archive, deps.Archive
	}
	return handler.NewPaymentHandler(resolver, c, store, archive, exporter, a.logger)
}

func (a *App) newRegistry(deps *Dependencies) *service.EvaluationRegistry {
	return service.NewEvaluationRegistry(deps.Ledger, deps.TypeCache, service.RuleDefaults{
		MinDaysRequired: a.cfg.Registry.MinDaysRequired,
		MaxDailyLossPct: decimal.NewFromFloat(a.cfg.Registry.MaxDailyLossPct),
		MaxTimeDays:     a.cfg.Registry.MaxTimeDays,
	}, a.logger)
}

func (a *App) newWatcher(deps *Dependencies, registry *service.EvaluationRegistry) *service.RegistryWatcher {
	return service.NewRegistryWatcher(registry, deps.Trader, a.cfg.Registry.PollInterval.Duration, a.logger).
		WithEvents(deps.Ledger).
		WithSignalBus(deps.SignalBus).
		WithNotifier(deps.Notifier)
}

// checkMaxPrice refuses offers priced above maxPrice. An empty maxPrice
// accepts any price.
func checkMaxPrice(offer domain.Offer, maxPrice string) error {
	if strings.TrimSpace(maxPrice) == "" {
		return nil
	}
	limit, err := decimal.NewFromString(maxPrice)
	if err != nil {
		return fmt.Errorf("app: max price %q: %w", maxPrice, err)
	}
	if offer.Price.GreaterThan(limit) {
		return fmt.Errorf("app: %w: %s/%s costs %s, above max price %s",
			domain.ErrInvalidSelection, offer.Phase, offer.ExamType, offer.Price, limit)
	}
	return nil
}
