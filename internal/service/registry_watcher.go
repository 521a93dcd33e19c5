package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"golang.org/x/sync/errgroup"
)

// StatusNotifier announces evaluation status changes.
type StatusNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// eventEvaluationStatus matches the notify package's evaluation event type.
const eventEvaluationStatus = "evaluation_status"

// RegistryWatcher keeps the latest registry snapshot for one trader. A
// ticker and the ledger event stream both feed a single coalescing
// invalidate channel; its consumer re-runs the full listing.
type RegistryWatcher struct {
	registry *EvaluationRegistry
	trader   string
	interval time.Duration
	events   domain.LedgerEvents
	bus      domain.SignalBus
	notifier StatusNotifier
	logger   *slog.Logger

	invalidate chan struct{}

	mu        sync.RWMutex
	snapshot  domain.EvaluationSnapshot
	statuses  map[uint64]domain.DerivedStatus
	listeners []func(domain.EvaluationSnapshot)
}

// NewRegistryWatcher creates a watcher polling every interval (1s when zero).
func NewRegistryWatcher(registry *EvaluationRegistry, trader string, interval time.Duration, logger *slog.Logger) *RegistryWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &RegistryWatcher{
		registry:   registry,
		trader:     trader,
		interval:   interval,
		logger:     logger.With(slog.String("component", "registry_watcher"), slog.String("trader", trader)),
		invalidate: make(chan struct{}, 1),
		snapshot:   domain.EvaluationSnapshot{Trader: trader, Evaluations: []domain.EvaluationView{}},
	}
}

// WithEvents adds the ledger event stream as a second refresh trigger.
func (w *RegistryWatcher) WithEvents(e domain.LedgerEvents) *RegistryWatcher {
	w.events = e
	return w
}

// WithSignalBus publishes every snapshot on domain.ChannelEvaluations.
func (w *RegistryWatcher) WithSignalBus(b domain.SignalBus) *RegistryWatcher {
	w.bus = b
	return w
}

// WithNotifier announces status changes.
func (w *RegistryWatcher) WithNotifier(n StatusNotifier) *RegistryWatcher {
	w.notifier = n
	return w
}

// OnSnapshot registers fn to receive every refreshed snapshot.
func (w *RegistryWatcher) OnSnapshot(fn func(domain.EvaluationSnapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Trader returns the watched address.
func (w *RegistryWatcher) Trader() string {
	return w.trader
}

// Invalidate requests a refresh. Requests made while one is already
// pending are merged.
func (w *RegistryWatcher) Invalidate() {
	select {
	case w.invalidate <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the latest listing.
func (w *RegistryWatcher) Snapshot() domain.EvaluationSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap := w.snapshot
	snap.Evaluations = slices.Clone(w.snapshot.Evaluations)
	return snap
}

// Run blocks until ctx is cancelled.
func (w *RegistryWatcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "registry watcher started", slog.Duration("interval", w.interval))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.tick(ctx)
		return nil
	})
	if w.events != nil {
		g.Go(func() error {
			w.listen(ctx)
			return nil
		})
	}
	g.Go(func() error {
		w.consume(ctx)
		return nil
	})
	return g.Wait()
}

func (w *RegistryWatcher) tick(ctx context.Context) {
	w.Invalidate()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Invalidate()
		}
	}
}

// listen turns ledger events into refresh requests. Without a stream the
// ticker alone keeps the snapshot current.
func (w *RegistryWatcher) listen(ctx context.Context) {
	ch, err := w.events.WatchEvents(ctx, w.trader)
	if err != nil {
		w.logger.WarnContext(ctx, "ledger events unavailable; polling only", slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			w.logger.DebugContext(ctx, "ledger event",
				slog.String("kind", string(ev.Kind)),
				slog.Uint64("evaluation_id", ev.EvaluationID),
				slog.Uint64("block", ev.BlockNumber),
			)
			w.Invalidate()
		}
	}
}

func (w *RegistryWatcher) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.invalidate:
			w.refresh(ctx)
		}
	}
}

// refresh re-runs the listing and publishes the result. A failed read
// keeps the previous snapshot.
func (w *RegistryWatcher) refresh(ctx context.Context) {
	snap, err := w.registry.snapshot(ctx, w.trader)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.WarnContext(ctx, "registry refresh failed", slog.String("error", err.Error()))
		}
		return
	}

	current := make(map[uint64]domain.DerivedStatus, len(snap.Evaluations))
	for _, v := range snap.Evaluations {
		current[v.Evaluation.ID] = v.Assessment.Status
	}

	w.mu.Lock()
	previous := w.statuses
	w.snapshot = snap
	w.statuses = current
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()

	if previous != nil {
		w.announce(ctx, previous, current)
	}
	if w.bus != nil {
		if payload, err := json.Marshal(snap); err == nil {
			if err := w.bus.Publish(ctx, domain.ChannelEvaluations, payload); err != nil {
				w.logger.WarnContext(ctx, "publish snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
	for _, fn := range listeners {
		fn(snap)
	}
}

// announce reports evaluations whose status moved and those that left the
// active listing.
func (w *RegistryWatcher) announce(ctx context.Context, previous, current map[uint64]domain.DerivedStatus) {
	for id, was := range previous {
		now, ok := current[id]
		var msg string
		switch {
		case !ok:
			msg = fmt.Sprintf("evaluation %d is no longer active (last status %s)", id, was)
		case now != was:
			msg = fmt.Sprintf("evaluation %d: %s -> %s", id, was, now)
		default:
			continue
		}
		w.logger.InfoContext(ctx, "evaluation status changed", slog.String("detail", msg))
		if w.notifier != nil {
			if err := w.notifier.Notify(ctx, eventEvaluationStatus, "Evaluation status", msg); err != nil {
				w.logger.WarnContext(ctx, "status notification failed", slog.String("error", err.Error()))
			}
		}
	}
}
