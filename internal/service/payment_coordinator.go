package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/google/uuid"
)

// CoordinatorConfig tunes the PaymentCoordinator.
type CoordinatorConfig struct {
	// Trader is the paying wallet address.
	Trader   string
	ChainID  int64
	Contract string
	// ConfirmationTimeout marks a pending payment stale. The session keeps
	// waiting; Refresh checks the receipt by hand.
	ConfirmationTimeout time.Duration
	ProvisionTimeout    time.Duration
	// LockTTL bounds the cross-process purchase lock.
	LockTTL      time.Duration
	CheckBalance bool
}

// PaymentNotifier announces resolved sessions.
type PaymentNotifier interface {
	NotifyPayment(ctx context.Context, s domain.PaymentSession) error
}

// PaymentCoordinator owns the single payment session of one trader and
// drives it from offer to provisioned account:
//
//	idle -> awaiting_signature -> awaiting_confirmation -> provisioning -> succeeded
//
// with failed reachable from every in-flight state. Provisioning runs at
// most once per transaction hash. Callers only ever see copies of the
// session.
type PaymentCoordinator struct {
	ledger      domain.LedgerWriter
	provisioner domain.Provisioner
	cfg         CoordinatorConfig
	logger      *slog.Logger

	store    domain.PaymentStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	limiter  domain.RateLimiter
	locks    domain.LockManager
	archive  domain.ReceiptArchive
	notifier PaymentNotifier
	guard    *ProvisionGuard
	claimers []domain.ProvisionClaimer

	mu           sync.Mutex
	session      *domain.PaymentSession
	changed      chan struct{}
	cancelSubmit context.CancelFunc
	stopWatch    context.CancelFunc
	unlock       func()
	listeners    []func(domain.PaymentSession)

	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string
}

// NewPaymentCoordinator creates a coordinator for cfg.Trader. Optional
// infrastructure is attached with the With* methods before first use.
func NewPaymentCoordinator(ledger domain.LedgerWriter, provisioner domain.Provisioner, cfg CoordinatorConfig, logger *slog.Logger) *PaymentCoordinator {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	guard := NewProvisionGuard(24 * time.Hour)
	return &PaymentCoordinator{
		ledger:      ledger,
		provisioner: provisioner,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "payment_coordinator")),
		guard:       guard,
		claimers:    []domain.ProvisionClaimer{guard},
		changed:     make(chan struct{}),
		base:        base,
		stop:        stop,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithStore persists every transition.
func (c *PaymentCoordinator) WithStore(s domain.PaymentStore) *PaymentCoordinator {
	c.store = s
	return c
}

// WithAudit writes every transition to the audit log.
func (c *PaymentCoordinator) WithAudit(a domain.AuditStore) *PaymentCoordinator {
	c.audit = a
	return c
}

// WithSignalBus publishes every transition.
func (c *PaymentCoordinator) WithSignalBus(b domain.SignalBus) *PaymentCoordinator {
	c.bus = b
	return c
}

// WithRateLimiter throttles provisioning calls.
func (c *PaymentCoordinator) WithRateLimiter(l domain.RateLimiter) *PaymentCoordinator {
	c.limiter = l
	return c
}

// WithLocks holds a per-trader lock for the life of a purchase.
func (c *PaymentCoordinator) WithLocks(l domain.LockManager) *PaymentCoordinator {
	c.locks = l
	return c
}

// WithArchive archives resolved sessions that reached the ledger.
func (c *PaymentCoordinator) WithArchive(a domain.ReceiptArchive) *PaymentCoordinator {
	c.archive = a
	return c
}

// WithNotifier announces resolved sessions.
func (c *PaymentCoordinator) WithNotifier(n PaymentNotifier) *PaymentCoordinator {
	c.notifier = n
	return c
}

// WithClaimers adds provisioning claimers consulted after the in-process
// guard. Every claimer must grant a hash before provisioning runs.
func (c *PaymentCoordinator) WithClaimers(cl ...domain.ProvisionClaimer) *PaymentCoordinator {
	c.claimers = append(c.claimers, cl...)
	return c
}

// OnChange registers fn to receive a copy of the session after every
// transition.
func (c *PaymentCoordinator) OnChange(fn func(domain.PaymentSession)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Trader returns the paying wallet address.
func (c *PaymentCoordinator) Trader() string {
	return c.cfg.Trader
}

// Current returns a copy of the session, or an idle session when none
// exists.
func (c *PaymentCoordinator) Current() domain.PaymentSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Begin starts a purchase of offer and returns once the payment is
// submitted (or rejected). Confirmation and provisioning continue in the
// background; follow them with Current, Wait or OnChange.
func (c *PaymentCoordinator) Begin(ctx context.Context, offer domain.Offer) (domain.PaymentSession, error) {
	if offer.EvaluationTypeID == 0 || !offer.Price.IsPositive() {
		return domain.PaymentSession{}, fmt.Errorf("service/payment_coordinator: %w: offer is not payable", domain.ErrInvalidSelection)
	}

	c.mu.Lock()
	if c.session != nil && c.session.State != domain.PaymentIdle && !c.session.State.Terminal() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, fmt.Errorf("service/payment_coordinator: %w", domain.ErrSessionInUse)
	}
	prev := c.session
	now := c.now().UTC()
	s := &domain.PaymentSession{
		ID:                c.newID(),
		Trader:            c.cfg.Trader,
		Offer:             offer,
		State:             domain.PaymentAwaitingSignature,
		ConfirmationState: domain.ConfirmationUnsent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	submitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.session = s
	c.cancelSubmit = cancel
	c.mu.Unlock()

	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, c.lockKey(), c.cfg.LockTTL)
		if err != nil {
			c.mu.Lock()
			if c.session == s {
				c.session = prev
				c.cancelSubmit = nil
			}
			c.mu.Unlock()
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.PaymentSession{}, fmt.Errorf("service/payment_coordinator: %w: purchase in progress elsewhere", domain.ErrSessionInUse)
			}
			return domain.PaymentSession{}, fmt.Errorf("service/payment_coordinator: lock: %w", err)
		}
		c.mu.Lock()
		if c.session != s || s.State != domain.PaymentAwaitingSignature {
			c.mu.Unlock()
			unlock()
			return c.Current(), fmt.Errorf("service/payment_coordinator: payment cancelled: %w", context.Canceled)
		}
		c.unlock = unlock
		c.mu.Unlock()
	}

	snap, _ := c.transition(byID(s.ID), func(*domain.PaymentSession, time.Time) bool { return true })
	c.record(ctx, snap, "payment.begin")

	if err := c.checkBalance(ctx, offer); err != nil {
		return c.failSubmission(ctx, s.ID, err)
	}

	hash, err := c.ledger.SubmitPayment(submitCtx, domain.PaymentRequest{
		From:             c.cfg.Trader,
		EvaluationTypeID: offer.EvaluationTypeID,
		Value:            offer.Price,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrSubmissionRejected) {
			err = fmt.Errorf("%w: %w", domain.ErrSubmissionRejected, err)
		}
		return c.failSubmission(ctx, s.ID, err)
	}
	return c.submitted(ctx, s.ID, hash)
}

func (c *PaymentCoordinator) checkBalance(ctx context.Context, offer domain.Offer) error {
	if !c.cfg.CheckBalance {
		return nil
	}
	bal, err := c.ledger.Balance(ctx, c.cfg.Trader)
	if err != nil {
		c.logger.WarnContext(ctx, "balance check skipped", slog.String("error", err.Error()))
		return nil
	}
	if bal.LessThan(offer.Price) {
		return fmt.Errorf("%w: balance %s is below price %s", domain.ErrSubmissionRejected, bal, offer.Price)
	}
	return nil
}

func (c *PaymentCoordinator) failSubmission(ctx context.Context, id string, cause error) (domain.PaymentSession, error) {
	snap, ok := c.transition(byID(id), func(s *domain.PaymentSession, now time.Time) bool {
		if s.State != domain.PaymentAwaitingSignature {
			return false
		}
		s.State = domain.PaymentFailed
		s.FailureKind = domain.FailureSubmission
		s.Error = cause.Error()
		s.CompletedAt = &now
		return true
	})
	if !ok {
		c.releaseCancelled(id)
		return c.Current(), fmt.Errorf("service/payment_coordinator: payment cancelled: %w", cause)
	}
	c.finish(ctx, snap, "payment.submission_failed")
	return snap, fmt.Errorf("service/payment_coordinator: %w", cause)
}

// releaseCancelled drops a purchase lock still held by session id after
// it was cancelled. Locks of a replacing session are left alone.
func (c *PaymentCoordinator) releaseCancelled(id string) {
	c.mu.Lock()
	var unlock func()
	if c.session != nil && c.session.ID == id && c.session.State == domain.PaymentIdle {
		unlock = c.unlock
		c.unlock = nil
	}
	c.mu.Unlock()
	if unlock != nil {
		unlock()
	}
}

// submitted moves the session to awaiting_confirmation. A session cancelled
// while the transaction was being signed is taken back, since the payment
// has already left the wallet.
func (c *PaymentCoordinator) submitted(ctx context.Context, id, hash string) (domain.PaymentSession, error) {
	var resumed bool
	snap, ok := c.transition(byID(id), func(s *domain.PaymentSession, now time.Time) bool {
		switch s.State {
		case domain.PaymentAwaitingSignature:
		case domain.PaymentIdle:
			resumed = true
			s.Error = ""
		default:
			return false
		}
		s.TransactionHash = hash
		s.State = domain.PaymentAwaitingConfirmation
		s.ConfirmationState = domain.ConfirmationPending
		s.SubmittedAt = &now
		return true
	})
	if !ok {
		c.logger.ErrorContext(ctx, "payment submitted for a replaced session",
			slog.String("session_id", id),
			slog.String("tx_hash", hash),
		)
		c.auditLog(ctx, "payment.orphaned", map[string]any{"session_id": id, "tx_hash": hash})
		return c.Current(), fmt.Errorf("service/payment_coordinator: payment %s submitted after its session was replaced: %w", hash, domain.ErrSessionInUse)
	}
	if resumed {
		c.logger.WarnContext(ctx, "cancel arrived after signing; tracking payment", slog.String("tx_hash", hash))
		c.relock(ctx, id)
	}
	c.record(ctx, snap, "payment.submitted")
	c.watch(id, hash)
	return snap, nil
}

func (c *PaymentCoordinator) lockKey() string {
	return "payment:" + strings.ToLower(c.cfg.Trader)
}

// relock takes the purchase lock back for a session whose cancel released
// it after the payment was already signed. Tracking continues without the
// lock when another process grabbed it in between.
func (c *PaymentCoordinator) relock(ctx context.Context, id string) {
	if c.locks == nil {
		return
	}
	unlock, err := c.locks.Acquire(ctx, c.lockKey(), c.cfg.LockTTL)
	if err != nil {
		c.logger.WarnContext(ctx, "purchase lock not retaken; tracking payment unlocked",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		c.auditLog(ctx, "payment.unlocked", map[string]any{"session_id": id, "error": err.Error()})
		return
	}
	c.mu.Lock()
	if c.session == nil || c.session.ID != id || c.session.State.Terminal() || c.unlock != nil {
		c.mu.Unlock()
		unlock()
		return
	}
	c.unlock = unlock
	c.mu.Unlock()
}

// watch follows confirmations for hash until the session resolves or the
// coordinator closes, marking the session stale after the timeout.
func (c *PaymentCoordinator) watch(id, hash string) {
	ctx, cancel := context.WithCancel(c.base)
	c.mu.Lock()
	if c.stopWatch != nil {
		c.stopWatch()
	}
	c.stopWatch = cancel
	c.mu.Unlock()

	ch, err := c.ledger.AwaitConfirmation(ctx, hash)
	if err != nil {
		c.logger.WarnContext(ctx, "confirmation watch unavailable; refresh manually",
			slog.String("tx_hash", hash),
			slog.String("error", err.Error()),
		)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(c.cfg.ConfirmationTimeout)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				c.markStale(ctx, id)
			case conf, ok := <-ch:
				if !ok {
					return
				}
				c.HandleConfirmation(ctx, conf)
			}
		}
	}()
}

func (c *PaymentCoordinator) markStale(ctx context.Context, id string) {
	snap, ok := c.transition(byID(id), func(s *domain.PaymentSession, _ time.Time) bool {
		if s.State != domain.PaymentAwaitingConfirmation || s.Stale {
			return false
		}
		s.Stale = true
		return true
	})
	if ok {
		c.logger.WarnContext(ctx, "confirmation overdue", slog.String("tx_hash", snap.TransactionHash))
		c.record(ctx, snap, "payment.stale")
	}
}

// HandleConfirmation applies a receipt for the current session's hash.
// Duplicate and unrelated confirmations are ignored, so the first success
// for a hash is the only one that reaches the provisioning service.
func (c *PaymentCoordinator) HandleConfirmation(ctx context.Context, conf domain.Confirmation) {
	var reverted bool
	snap, ok := c.transition(byHash(conf.TransactionHash), func(s *domain.PaymentSession, now time.Time) bool {
		if s.State != domain.PaymentAwaitingConfirmation || s.ProvisioningInvoked {
			return false
		}
		s.BlockNumber = conf.BlockNumber
		s.ConfirmedAt = &now
		s.Stale = false
		if !conf.Success {
			reverted = true
			s.ConfirmationState = domain.ConfirmationFailed
			s.State = domain.PaymentFailed
			s.FailureKind = domain.FailurePayment
			s.Error = domain.ErrPaymentReverted.Error()
			s.CompletedAt = &now
			return true
		}
		s.ConfirmationState = domain.ConfirmationConfirmed
		s.ProvisioningInvoked = true
		return true
	})
	if !ok {
		c.logger.DebugContext(ctx, "confirmation ignored", slog.String("tx_hash", conf.TransactionHash))
		return
	}
	if reverted {
		c.finish(ctx, snap, "payment.reverted")
		return
	}

	if !c.claim(ctx, snap.TransactionHash) {
		failed, _ := c.transition(byID(snap.ID), func(s *domain.PaymentSession, now time.Time) bool {
			s.State = domain.PaymentFailed
			s.FailureKind = domain.FailureProvisioning
			s.Error = domain.ErrProvisioningFailed.Error() + ": already claimed for this transaction"
			s.CompletedAt = &now
			return true
		})
		c.finish(ctx, failed, "payment.provision_denied")
		return
	}

	snap, _ = c.transition(byID(snap.ID), func(s *domain.PaymentSession, _ time.Time) bool {
		s.State = domain.PaymentProvisioning
		return true
	})
	c.record(ctx, snap, "payment.confirmed")
	c.provision(ctx, snap)
}

func (c *PaymentCoordinator) claim(ctx context.Context, hash string) bool {
	for _, cl := range c.claimers {
		ok, err := cl.Claim(ctx, hash)
		if err != nil {
			c.logger.WarnContext(ctx, "provision claim unavailable",
				slog.String("tx_hash", hash),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			c.logger.WarnContext(ctx, "provisioning already claimed", slog.String("tx_hash", hash))
			return false
		}
	}
	return true
}

// provision calls the provisioning service once. Failures are final: the
// payment has settled and is never resubmitted.
func (c *PaymentCoordinator) provision(ctx context.Context, snap domain.PaymentSession) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProvisionTimeout)
	defer cancel()

	var (
		res domain.ProvisionResult
		err error
	)
	if c.limiter != nil {
		err = c.limiter.Wait(ctx, "provision")
	}
	if err == nil {
		res, err = c.provisioner.Provision(ctx, domain.ProvisionRequest{
			TraderAddress:   snap.Trader,
			Phase:           snap.Offer.Phase,
			ExamType:        snap.Offer.ExamType,
			TransactionHash: snap.TransactionHash,
			Confirmed:       true,
		})
	}
	if err == nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "declined"
		}
		err = errors.New(msg)
	}

	final, _ := c.transition(byID(snap.ID), func(s *domain.PaymentSession, now time.Time) bool {
		s.CompletedAt = &now
		if err != nil {
			s.State = domain.PaymentFailed
			s.FailureKind = domain.FailureProvisioning
			s.Error = fmt.Sprintf("%s: %v", domain.ErrProvisioningFailed, err)
			return true
		}
		s.State = domain.PaymentSucceeded
		s.ProvisioningData = res.Data
		s.Error = ""
		return true
	})

	event := "payment.succeeded"
	if err != nil {
		event = "payment.provisioning_failed"
		c.logger.ErrorContext(ctx, "payment confirmed, provisioning failed",
			slog.String("tx_hash", snap.TransactionHash),
			slog.String("error", err.Error()),
		)
	}
	c.finish(ctx, final, event)
}

// Cancel abandons a session that has not been submitted yet.
func (c *PaymentCoordinator) Cancel(ctx context.Context) (domain.PaymentSession, error) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.State == domain.PaymentIdle {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	if s.State != domain.PaymentAwaitingSignature {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, fmt.Errorf("service/payment_coordinator: %w: session is %s", domain.ErrNotCancellable, snap.State)
	}

	s.State = domain.PaymentIdle
	s.Error = "cancelled"
	s.UpdatedAt = c.now().UTC()
	cancelSubmit, unlock := c.cancelSubmit, c.unlock
	c.cancelSubmit, c.unlock = nil, nil
	snap := c.snapshotLocked()
	c.broadcastLocked()
	c.mu.Unlock()

	if cancelSubmit != nil {
		cancelSubmit()
	}
	if unlock != nil {
		unlock()
	}
	c.record(ctx, snap, "payment.cancelled")
	return snap, nil
}

// Refresh checks the receipt of a pending payment by hand, typically after
// the session went stale.
func (c *PaymentCoordinator) Refresh(ctx context.Context) (domain.PaymentSession, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return c.Current(), fmt.Errorf("service/payment_coordinator: %w", domain.ErrNoSession)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if snap.State != domain.PaymentAwaitingConfirmation {
		return snap, nil
	}

	conf, err := c.ledger.Receipt(ctx, snap.TransactionHash)
	if errors.Is(err, domain.ErrNotFound) {
		c.logger.InfoContext(ctx, "payment still pending", slog.String("tx_hash", snap.TransactionHash))
		return c.Current(), nil
	}
	if err != nil {
		return c.Current(), fmt.Errorf("service/payment_coordinator: refresh %s: %w", snap.TransactionHash, err)
	}
	c.HandleConfirmation(ctx, conf)
	return c.Current(), nil
}

// Wait blocks until the session resolves. It returns the terminal
// session and, for failures, an error wrapping the failure's sentinel. When
// ctx ends first on a stale session the error wraps
// domain.ErrConfirmationTimeout.
func (c *PaymentCoordinator) Wait(ctx context.Context) (domain.PaymentSession, error) {
	for {
		c.mu.Lock()
		if c.session == nil || c.session.State == domain.PaymentIdle {
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, fmt.Errorf("service/payment_coordinator: %w", domain.ErrNoSession)
		}
		snap := c.snapshotLocked()
		changed := c.changed
		c.mu.Unlock()

		if snap.State.Terminal() {
			return snap, terminalError(snap)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			snap = c.Current()
			if snap.Stale {
				return snap, fmt.Errorf("service/payment_coordinator: %s: %w", snap.TransactionHash, domain.ErrConfirmationTimeout)
			}
			return snap, ctx.Err()
		}
	}
}

func terminalError(s domain.PaymentSession) error {
	if s.State == domain.PaymentSucceeded {
		return nil
	}
	sentinel := domain.ErrSubmissionRejected
	switch s.FailureKind {
	case domain.FailurePayment:
		sentinel = domain.ErrPaymentReverted
	case domain.FailureProvisioning:
		sentinel = domain.ErrProvisioningFailed
	}
	return fmt.Errorf("service/payment_coordinator: session %s: %w", s.ID, sentinel)
}

// Resume adopts the trader's latest stored session after a restart. A
// pending payment is watched again. A session interrupted mid-provisioning
// is failed for manual recovery, since whether the call landed is unknown.
func (c *PaymentCoordinator) Resume(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	sessions, err := c.store.ListByTrader(ctx, c.cfg.Trader, domain.ListOpts{Limit: 1})
	if err != nil {
		return fmt.Errorf("service/payment_coordinator: resume: %w", err)
	}
	if len(sessions) == 0 {
		return nil
	}
	s := sessions[0]

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	c.session = &s
	c.mu.Unlock()

	switch {
	case s.State == domain.PaymentAwaitingConfirmation && !s.ProvisioningInvoked:
		c.logger.InfoContext(ctx, "resuming pending payment", slog.String("tx_hash", s.TransactionHash))
		c.watch(s.ID, s.TransactionHash)
	case s.State.Terminal(), s.State == domain.PaymentIdle:
	default:
		kind, msg := domain.FailureProvisioning, domain.ErrProvisioningFailed.Error()+": interrupted by restart"
		if s.TransactionHash == "" {
			kind, msg = domain.FailureSubmission, "interrupted by restart before submission"
		}
		snap, _ := c.transition(byID(s.ID), func(s *domain.PaymentSession, now time.Time) bool {
			s.State = domain.PaymentFailed
			s.FailureKind = kind
			s.Error = msg
			s.CompletedAt = &now
			return true
		})
		c.finish(ctx, snap, "payment.interrupted")
	}
	return nil
}

// Close stops background watchers and waits for them to exit.
func (c *PaymentCoordinator) Close() {
	c.stop()
	c.wg.Wait()
}

// transition applies fn to the current session when match accepts it.
// fn reports whether it changed anything.
func (c *PaymentCoordinator) transition(match func(*domain.PaymentSession) bool, fn func(*domain.PaymentSession, time.Time) bool) (domain.PaymentSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil || !match(s) {
		return domain.PaymentSession{}, false
	}
	now := c.now().UTC()
	if !fn(s, now) {
		return domain.PaymentSession{}, false
	}
	s.UpdatedAt = now
	c.broadcastLocked()
	return c.snapshotLocked(), true
}

func byID(id string) func(*domain.PaymentSession) bool {
	return func(s *domain.PaymentSession) bool { return s.ID == id }
}

func byHash(hash string) func(*domain.PaymentSession) bool {
	return func(s *domain.PaymentSession) bool {
		return s.TransactionHash != "" && strings.EqualFold(s.TransactionHash, hash)
	}
}

func (c *PaymentCoordinator) snapshotLocked() domain.PaymentSession {
	if c.session == nil {
		return domain.PaymentSession{State: domain.PaymentIdle, Trader: c.cfg.Trader, ConfirmationState: domain.ConfirmationUnsent}
	}
	snap := *c.session
	snap.ProvisioningData = maps.Clone(c.session.ProvisioningData)
	return snap
}

func (c *PaymentCoordinator) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// finish records a resolved session, archives and announces it, and
// releases the purchase lock.
func (c *PaymentCoordinator) finish(ctx context.Context, snap domain.PaymentSession, event string) {
	c.record(ctx, snap, event)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if c.archive != nil && snap.TransactionHash != "" {
		path, err := c.archive.Archive(ctx, domain.PaymentReceipt{
			Session:  snap,
			ChainID:  c.cfg.ChainID,
			Contract: c.cfg.Contract,
		})
		if err != nil {
			c.logger.WarnContext(ctx, "receipt archive failed", slog.String("error", err.Error()))
		} else {
			c.logger.DebugContext(ctx, "receipt archived", slog.String("path", path))
		}
	}
	if c.notifier != nil {
		if err := c.notifier.NotifyPayment(ctx, snap); err != nil {
			c.logger.WarnContext(ctx, "payment notification failed", slog.String("error", err.Error()))
		}
	}

	c.guard.Cleanup()

	c.mu.Lock()
	unlock := c.unlock
	c.unlock = nil
	c.mu.Unlock()
	if unlock != nil {
		unlock()
	}
}

// record persists, audits and publishes one transition, then hands the
// session to in-process listeners. Infrastructure failures are logged.
func (c *PaymentCoordinator) record(ctx context.Context, snap domain.PaymentSession, event string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	c.logger.InfoContext(ctx, "payment transition",
		slog.String("event", event),
		slog.String("session_id", snap.ID),
		slog.String("state", string(snap.State)),
		slog.String("tx_hash", snap.TransactionHash),
	)

	if c.store != nil {
		if err := c.store.Save(ctx, snap); err != nil {
			c.logger.ErrorContext(ctx, "persist session failed", slog.String("error", err.Error()))
		}
	}
	c.auditLog(ctx, event, map[string]any{
		"session_id":   snap.ID,
		"trader":       snap.Trader,
		"tx_hash":      snap.TransactionHash,
		"state":        snap.State,
		"failure_kind": snap.FailureKind,
		"error":        snap.Error,
	})
	if c.bus != nil {
		if payload, err := json.Marshal(snap); err == nil {
			if err := c.bus.Publish(ctx, domain.ChannelPayments, payload); err != nil {
				c.logger.WarnContext(ctx, "publish session failed", slog.String("error", err.Error()))
			}
			if err := c.bus.StreamAppend(ctx, domain.StreamPayments, payload); err != nil {
				c.logger.WarnContext(ctx, "stream session failed", slog.String("error", err.Error()))
			}
		}
	}

	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (c *PaymentCoordinator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
