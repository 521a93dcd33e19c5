package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/alanyoungcy/fundxeval/internal/status"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// RuleDefaults fill the thresholds ledger records do not carry.
type RuleDefaults struct {
	MinDaysRequired int
	MaxDailyLossPct decimal.Decimal
	MaxTimeDays     int
}

// fetchConcurrency bounds parallel ledger reads per listing.
const fetchConcurrency = 4

// EvaluationRegistry lists a trader's open evaluations with their type
// configuration, performance and derived status.
type EvaluationRegistry struct {
	ledger   domain.LedgerReader
	cache    domain.EvaluationTypeCache
	defaults RuleDefaults
	logger   *slog.Logger

	mu    sync.RWMutex
	types map[domain.EvaluationTypeID]domain.EvaluationType
	now   func() time.Time
}

// NewEvaluationRegistry creates a registry. cache may be nil.
func NewEvaluationRegistry(ledger domain.LedgerReader, cache domain.EvaluationTypeCache, defaults RuleDefaults, logger *slog.Logger) *EvaluationRegistry {
	return &EvaluationRegistry{
		ledger:   ledger,
		cache:    cache,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "evaluation_registry")),
		types:    make(map[domain.EvaluationTypeID]domain.EvaluationType),
		now:      time.Now,
	}
}

// ListActive returns the trader's evaluations that are active and not yet
// completed. Ledger failures yield an empty listing; they are logged, never
// returned.
func (r *EvaluationRegistry) ListActive(ctx context.Context, trader string) []domain.EvaluationView {
	views, err := r.list(ctx, trader)
	if err != nil {
		r.logger.WarnContext(ctx, "list evaluations failed",
			slog.String("trader", trader),
			slog.String("error", err.Error()),
		)
		return []domain.EvaluationView{}
	}
	return views
}

// Snapshot wraps ListActive with the trader and refresh time.
func (r *EvaluationRegistry) Snapshot(ctx context.Context, trader string) domain.EvaluationSnapshot {
	return domain.EvaluationSnapshot{
		Trader:      trader,
		Evaluations: r.ListActive(ctx, trader),
		RefreshedAt: r.now().UTC(),
	}
}

func (r *EvaluationRegistry) snapshot(ctx context.Context, trader string) (domain.EvaluationSnapshot, error) {
	views, err := r.list(ctx, trader)
	if err != nil {
		return domain.EvaluationSnapshot{}, err
	}
	return domain.EvaluationSnapshot{Trader: trader, Evaluations: views, RefreshedAt: r.now().UTC()}, nil
}

func (r *EvaluationRegistry) list(ctx context.Context, trader string) ([]domain.EvaluationView, error) {
	views := []domain.EvaluationView{}

	ids, err := r.ledger.TraderEvaluationIDs(ctx, trader)
	if err != nil {
		return nil, fmt.Errorf("service/evaluation_registry: evaluation ids: %w", err)
	}
	if len(ids) == 0 {
		return views, nil
	}

	records := make([]*domain.Evaluation, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			ev, err := r.ledger.Evaluation(gctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				r.logger.WarnContext(ctx, "evaluation read failed; skipping",
					slog.Uint64("evaluation_id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			records[i] = &ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service/evaluation_registry: %w", err)
	}

	var open []domain.Evaluation
	distinct := make(map[domain.EvaluationTypeID]struct{})
	for _, ev := range records {
		if ev == nil || !ev.IsActive || ev.IsCompleted {
			continue
		}
		open = append(open, *ev)
		distinct[ev.EvaluationTypeID] = struct{}{}
	}

	types := r.resolveTypes(ctx, distinct)
	now := r.now()
	for _, ev := range open {
		var typ *domain.EvaluationType
		if t, ok := types[ev.EvaluationTypeID]; ok {
			typ = &t
		}
		ev.Rules = r.rules(ev.Rules, typ)
		views = append(views, domain.EvaluationView{
			Evaluation:     ev,
			Type:           typ,
			PerformancePct: ev.PnLPct().Round(2),
			Assessment:     status.Assess(ev, now),
		})
	}
	return views, nil
}

// rules prefers the type's thresholds over the record's and fills the rest
// from the configured defaults.
func (r *EvaluationRegistry) rules(base domain.Rules, typ *domain.EvaluationType) domain.Rules {
	if typ != nil {
		if typ.TargetProfitPct.IsPositive() {
			base.TargetProfitPct = typ.TargetProfitPct
		}
		if typ.MaxLossPct.IsPositive() {
			base.MaxTotalLossPct = typ.MaxLossPct
		}
	}
	if base.MinDaysRequired == 0 {
		base.MinDaysRequired = r.defaults.MinDaysRequired
	}
	if base.MaxDailyLossPct.IsZero() {
		base.MaxDailyLossPct = r.defaults.MaxDailyLossPct
	}
	if base.MaxTimeDays == 0 {
		base.MaxTimeDays = r.defaults.MaxTimeDays
	}
	return base
}

// resolveTypes looks up each distinct type once. Lookups that fail are
// logged and left out.
func (r *EvaluationRegistry) resolveTypes(ctx context.Context, ids map[domain.EvaluationTypeID]struct{}) map[domain.EvaluationTypeID]domain.EvaluationType {
	out := make(map[domain.EvaluationTypeID]domain.EvaluationType, len(ids))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for id := range ids {
		g.Go(func() error {
			t, err := r.evaluationType(ctx, id)
			if err != nil {
				r.logger.WarnContext(ctx, "evaluation type lookup failed",
					slog.String("evaluation_type_id", id.String()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			out[id] = t
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// evaluationType checks the in-process map, then the shared cache, then the
// ledger.
func (r *EvaluationRegistry) evaluationType(ctx context.Context, id domain.EvaluationTypeID) (domain.EvaluationType, error) {
	r.mu.RLock()
	t, ok := r.types[id]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	if r.cache != nil {
		if t, err := r.cache.Get(ctx, id); err == nil {
			r.remember(t)
			return t, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			r.logger.DebugContext(ctx, "evaluation type cache unavailable", slog.String("error", err.Error()))
		}
	}

	t, err := r.ledger.EvaluationType(ctx, id)
	if err != nil {
		return domain.EvaluationType{}, err
	}
	r.remember(t)
	if r.cache != nil {
		if err := r.cache.Set(ctx, t); err != nil {
			r.logger.DebugContext(ctx, "evaluation type cache write failed", slog.String("error", err.Error()))
		}
	}
	return t, nil
}

func (r *EvaluationRegistry) remember(t domain.EvaluationType) {
	r.mu.Lock()
	r.types[t.ID] = t
	r.mu.Unlock()
}
