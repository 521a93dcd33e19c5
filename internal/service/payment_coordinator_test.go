package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTrader = "0x00000000000000000000000000000000000000aa"

func testOffer() domain.Offer {
	return domain.Offer{
		Phase:            domain.Phase1,
		ExamType:         "basic",
		EvaluationTypeID: 1,
		Price:            decimal.RequireFromString("0.002"),
		Currency:         "HYPE",
	}
}

func newTestCoordinator(t *testing.T, l *fakeLedger, p *fakeProvisioner, opts ...func(*CoordinatorConfig)) *PaymentCoordinator {
	t.Helper()
	cfg := CoordinatorConfig{Trader: testTrader, ChainID: 998, ConfirmationTimeout: time.Minute}
	for _, o := range opts {
		o(&cfg)
	}
	c := NewPaymentCoordinator(l, p, cfg, discardLogger())
	t.Cleanup(c.Close)
	return c
}

func deliver(t *testing.T, l *fakeLedger, conf domain.Confirmation) {
	t.Helper()
	select {
	case l.confirm <- conf:
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation was not consumed")
	}
}

func waitResolved(t *testing.T, c *PaymentCoordinator) (domain.PaymentSession, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	return c.Wait(ctx)
}

func blockingSubmit(release <-chan struct{}, hash string) func(context.Context, domain.PaymentRequest) (string, error) {
	return func(ctx context.Context, _ domain.PaymentRequest) (string, error) {
		select {
		case <-release:
			return hash, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func TestPaymentHappyPath(t *testing.T) {
	l := newFakeLedger("0xabc")
	p := &fakeProvisioner{result: domain.ProvisionResult{Success: true, Data: map[string]any{"apiWallet": "0xfeed"}}}
	store := &fakePaymentStore{}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}
	c := newTestCoordinator(t, l, p).WithStore(store).WithAudit(audit).WithNotifier(notifier)

	var last atomic.Value
	c.OnChange(func(s domain.PaymentSession) { last.Store(s.State) })

	snap, err := c.Begin(t.Context(), testOffer())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentAwaitingConfirmation, snap.State)
	assert.Equal(t, domain.ConfirmationPending, snap.ConfirmationState)
	assert.Equal(t, "0xabc", snap.TransactionHash)
	require.Len(t, l.requests, 1)
	assert.Equal(t, domain.EvaluationTypeID(1), l.requests[0].EvaluationTypeID)
	assert.True(t, l.requests[0].Value.Equal(decimal.RequireFromString("0.002")))

	deliver(t, l, domain.Confirmation{TransactionHash: "0xabc", Success: true, BlockNumber: 42})

	final, err := waitResolved(t, c)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSucceeded, final.State)
	assert.Equal(t, domain.ConfirmationConfirmed, final.ConfirmationState)
	assert.True(t, final.ProvisioningInvoked)
	assert.Equal(t, uint64(42), final.BlockNumber)
	assert.Equal(t, "0xfeed", final.ProvisioningData["apiWallet"])

	require.Len(t, p.reqs, 1)
	assert.Equal(t, domain.ProvisionRequest{
		TraderAddress:   testTrader,
		Phase:           domain.Phase1,
		ExamType:        "basic",
		TransactionHash: "0xabc",
		Confirmed:       true,
	}, p.reqs[0])

	require.Eventually(t, func() bool {
		n, _ := notifier.count()
		return n == 1 && audit.has("payment.succeeded")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.PaymentState{
		domain.PaymentAwaitingSignature,
		domain.PaymentAwaitingConfirmation,
		domain.PaymentProvisioning,
		domain.PaymentSucceeded,
	}, store.states())
	assert.Equal(t, domain.PaymentSucceeded, last.Load())
}

func TestDuplicateConfirmationsProvisionOnce(t *testing.T) {
	l := newFakeLedger("0xabc")
	p := &fakeProvisioner{result: domain.ProvisionResult{Success: true}}
	c := newTestCoordinator(t, l, p)

	_, err := c.Begin(t.Context(), testOffer())
	require.NoError(t, err)

	conf := domain.Confirmation{TransactionHash: "0xabc", Success: true, BlockNumber: 7}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.HandleConfirmation(t.Context(), conf)
		}()
	}
	deliver(t, l, conf)
	time.Sleep(50 * time.Millisecond)
	deliver(t, l, conf)
	wg.Wait()

	final, err := waitResolved(t, c)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSucceeded, final.State)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestConfirmationForOtherHashIgnored(t *testing.T) {
	l := newFakeLedger("0xabc")
	p := &fakeProvisioner{result: domain.ProvisionResult{Success: true}}
	c := newTestCoordinator(t, l, p)

	_, err := c.Begin(t.Context(), testOffer())
	require.NoError(t, err)

	c.HandleConfirmation(t.Context(), domain.Confirmation{TransactionHash: "0xother", Success: true})
	assert.Equal(t, domain.PaymentAwaitingConfirmation, c.Current().State)
	assert.Zero(t, p.calls.Load())
}

func TestBeginWhileInFlight(t *testing.T) {
	l := newFakeLedger("0xabc")
	release := make(chan struct{})
	l.submitFn = blockingSubmit(release, "0xabc")
	c := newTestCoordinator(t, l, &fakeProvisioner{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Begin(t.Context(), testOffer())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return c.Current().State == domain.PaymentAwaitingSignature
	}, time.Second, 5*time.Millisecond)

	_, err := c.Begin(t.Context(), testOffer())
	assert.ErrorIs(t, err, domain.ErrSessionInUse)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, domain.PaymentAwaitingConfirmation, c.Current().State)

	_, err = c.Begin(t.Context(), testOffer())
	assert.ErrorIs(t, err, domain.ErrSessionInUse)
}

func TestBeginRejectsUnpayableOffer(t *testing.T) {
	c := newTestCoordinator(t, newFakeLedger("0xabc"), &fakeProvisioner{})

	offer := testOffer()
	offer.EvaluationTypeID = 0
	_, err := c.Begin(t.Context(), offer)
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)

	offer = testOffer()
	offer.Price = decimal.Zero
	_, err = c.Begin(t.Context(), offer)
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)

	assert.Equal(t, domain.PaymentIdle, c.Current().State)
}

func TestCancel(t *testing.T) {
	l := newFakeLedger("0xabc")
	l.submitFn = blockingSubmit(make(chan struct{}), "0xabc")
	c := newTestCoordinator(t, l, &fakeProvisioner{})

	snap, err := c.Cancel(t.Context())
	require.NoError(t, err, "cancel while idle is a no-op")
	assert.Equal(t, domain.PaymentIdle, snap.State)

	done := make(chan error, 1)
	go func() {
		_, err := c.Begin(t.Context(), testOffer())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return c.Current().State == domain.PaymentAwaitingSignature
	}, time.Second, 5*time.Millisecond)

	snap, err = c.Cancel(t.Context())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentIdle, snap.State)
	assert.Error(t, <-done)
	assert.Equal(t, domain.PaymentIdle, c.Current().State)

	l.mu.Lock()
	l.submitFn = nil
	l.mu.Unlock()

	_, err = c.Begin(t.Context(), testOffer())
	require.NoError(t, err)

	_, err = c.Cancel(t.Context())
	assert.ErrorIs(t, err, domain.ErrNotCancellable)
	assert.Equal(t, domain.PaymentAwaitingConfirmation, c.Current().State)
}

func TestCancelAfterSigningKeepsPayment(t *testing.T) {
	l := newFakeLedger("0xabc")
	l.submitFn = func(ctx context.Context, _ domain.PaymentRequest) (string, error) {
		<-ctx.Done()
		return "0xabc", nil
	}
	c := newTestCoordinator(t, l, &fakeProvisioner{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Begin(t.Context(), testOffer())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return c.Current().State == domain.PaymentAwaitingSignature
	}, time.Second, 5*time.Millisecond)

	_, err := c.Cancel(t.Context())
	require.NoError(t, err)
	require.NoError(t, <-done)

	snap := c.Current()
	assert.Equal(t, domain.PaymentAwaitingConfirmation, snap.State)
	assert.Equal(t, "0xabc", snap.TransactionHash)
	assert.Empty(t, snap.Error)
}

func TestSubmissionRejected(t *testing.T) {
	l := newFakeLedger("0xabc")
	l.submitFn = func(context.Context, domain.PaymentRequest) (string, error) {
		return "", errors.New("user rejected the request")
	}
	c := newTestCoordinator(t, l, &fakeProvisioner{})

	snap, err := c.Begin(t.Context(), testOffer())
	require.ErrorIs(t, err, domain.ErrSubmissionRejected)
	assert.Equal(t, domain.PaymentFailed, snap.State)
	assert.Equal(t, domain.FailureSubmission, snap.FailureKind)
	assert.Contains(t, snap.Error, "user rejected")

	_, err = c.Wait(t.Context())
	assert.ErrorIs(t, err, domain.ErrSubmissionRejected)

	l.mu.Lock()
	l.submitFn = nil
	l.mu.Unlock()
	_, err = c.Begin(t.Context(), testOffer())
	assert.NoError(t, err, "a failed session can be replaced")
}

func TestInsufficientBalance(t *testing.T) {
	l := newFakeLedger("0xabc")
	l.balance = decimal.RequireFromString("0.001")
	c := newTestCoordinator(t, l, &fakeProvisioner{}, func(cfg *CoordinatorConfig) { cfg.CheckBalance = true })

	snap, err := c.Begin(t.Context(), testOffer())
	assert.ErrorIs(t, err, domain.ErrSubmissionRejected)
	assert.Equal(t, domain.FailureSubmission, snap.FailureKind)
	assert.Empty(t, l.requests)
}

func TestRevertedPayment(t *testing.T) {
	l := newFakeLedger("0xabc")
	p := &fakeProvisioner{result: domain.ProvisionResult{Success: true}}
	c := newTestCoordinator(t, l, p)

	_, err := c.Begin(t.Context(), testOffer())
	require.NoError(t, err)
	deliver(t, l, domain.Confirmation{TransactionHash: "0xabc", Success: false})

	final, err := waitResolved(t, c)
	require.ErrorIs(t, err, domain.ErrPaymentReverted)
	assert.Equal(t, domain.PaymentFailed, final.State)
	assert.Equal(t, domain.FailurePayment, final.FailureKind)
	assert.Equal(t, domain.ConfirmationFailed, final.ConfirmationState)
	assert.False(t, final.NeedsRecovery())
	assert.Zero(t, p.calls.Load())
}

func TestProvisioningFailureIsNotRetried(t *testing.T) {
	l := newFakeLedger("0xabc")
	p := &fakeProvisioner{result: domain.ProvisionResult{Success: false, Error: "wallet pool exhausted"}}
	c := newTestCoordinator(t, l, p)

	_, err := c.Begin(t.Context(), testOffer())
	require.NoError(t, err)
	deliver(t, l, domain.Confirmation{TransactionHash: "0xabc", Success: true})

	final, err := waitResolved(t, c)
	require.ErrorIs(t, err, domain.ErrProvisioningFailed)
	assert.True(t, final.NeedsRecovery())
	assert.True(t, final.ProvisioningInvoked)
	assert.Equal(t, domain.ConfirmationConfirmed, final.ConfirmationState)
	assert.Contains(t, final.Error, "payment confirmed, provisioning failed")
	assert.Contains(t, final.Error, "wallet pool exhausted")

	c.HandleConfirmation(t.Context(), domain.Confirmation{TransactionHash: "0xabc", Success: true})
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Len(t, l.requests, 1)
}

func TestProvisioningTransportError(t *testing.T) {
	l := newFakeLedger("0xabc")
	p := &fakeProvisioner{err: errors.New("connection refused")}
	c := newTestCoordinator(t, l, p)

	_, err := c.Begin(t.Context(), testOffer())
	require.NoError(t, err)
	deliver(t, l, domain.Confirmation{TransactionHash: "0xabc", Success: true})

	final, err := waitResolved(t, c)
	require.ErrorIs(t, err, domain.ErrProvisioningFailed)
	assert.Contains(t, final.Error, "connection refused")
}

func TestClaimers(t *testing.T) {
	deny := domain.ClaimFunc(func(context.Context, string) (bool, error) { return false, nil })
	broken := domain.ClaimFunc(func(context.Context, string) (bool, error) { return false, errors.New("redis down") })

	tests := []struct {
		name      string
		claimer   domain.ProvisionClaimer
		wantState domain.PaymentState
		wantCalls int32
	}{
		{name: "denied", claimer: deny, wantState: domain.PaymentFailed, wantCalls: 0},
		{name: "unavailable claimer is skipped", claimer: broken, wantState: domain.PaymentSucceeded, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger("0xabc")
			p := &fakeProvisioner{result: domain.ProvisionResult{Success: true}}
			c := newTestCoordinator(t, l, p).WithClaimers(tt.claimer)

			_, err := c.Begin(t.Context(), testOffer())
			require.NoError(t, err)
			deliver(t, l, domain.Confirmation{TransactionHash: "0xabc", Success: true})

			final, _ := waitResolved(t, c)
			assert.Equal(t, tt.wantState, final.State)
			assert.Equal(t, tt.wantCalls, p.calls.Load())
		})
	}
}

func TestStaleSessionAndRefresh(t *testing.T) {
	l := newFakeLedger("0xabc")
	p := &fakeProvisioner{result: domain.ProvisionResult{Success: true}}
	c := newTestCoordinator(t, l, p, func(cfg *CoordinatorConfig) { cfg.ConfirmationTimeout = 20 * time.Millisecond })

	_, err := c.Refresh(t.Context())
	assert.ErrorIs(t, err, domain.ErrNoSession)

	_, err = c.Begin(t.Context(), testOffer())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Current().Stale }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.PaymentAwaitingConfirmation, c.Current().State, "stale sessions keep waiting")

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	_, err = c.Wait(ctx)
	assert.ErrorIs(t, err, domain.ErrConfirmationTimeout)

	snap, err := c.Refresh(t.Context())
	require.NoError(t, err, "pending receipt is not an error")
	assert.Equal(t, domain.PaymentAwaitingConfirmation, snap.State)

	l.setReceipt(domain.Confirmation{TransactionHash: "0xabc", Success: true, BlockNumber: 9})
	snap, err = c.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSucceeded, snap.State)
	assert.False(t, snap.Stale)
	assert.Equal(t, int32(1), p.calls.Load())
}

// fakeLocks hands out a purchase lock. A non-nil gate holds Acquire until
// it is closed.
type fakeLocks struct {
	held     bool
	gate     chan struct{}
	acquired atomic.Int32
	released atomic.Int32
}

func (f *fakeLocks) Acquire(ctx context.Context, _ string, _ time.Duration) (func(), error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired.Add(1)
	return func() { f.released.Add(1) }, nil
}

func submitCount(l *fakeLedger) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func TestPurchaseLock(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		c := newTestCoordinator(t, newFakeLedger("0xabc"), &fakeProvisioner{}).WithLocks(&fakeLocks{held: true})
		_, err := c.Begin(t.Context(), testOffer())
		assert.ErrorIs(t, err, domain.ErrSessionInUse)
		assert.Equal(t, domain.PaymentIdle, c.Current().State)
	})

	t.Run("released on resolution", func(t *testing.T) {
		l := newFakeLedger("0xabc")
		locks := &fakeLocks{}
		c := newTestCoordinator(t, l, &fakeProvisioner{result: domain.ProvisionResult{Success: true}}).WithLocks(locks)

		_, err := c.Begin(t.Context(), testOffer())
		require.NoError(t, err)
		assert.Zero(t, locks.released.Load())

		deliver(t, l, domain.Confirmation{TransactionHash: "0xabc", Success: true})
		_, err = waitResolved(t, c)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return locks.released.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("cancel while acquiring", func(t *testing.T) {
		l := newFakeLedger("0xabc")
		gate := make(chan struct{})
		locks := &fakeLocks{gate: gate}
		c := newTestCoordinator(t, l, &fakeProvisioner{}).WithLocks(locks)

		done := make(chan error, 1)
		go func() {
			_, err := c.Begin(t.Context(), testOffer())
			done <- err
		}()
		require.Eventually(t, func() bool {
			return c.Current().State == domain.PaymentAwaitingSignature
		}, time.Second, 5*time.Millisecond)

		snap, err := c.Cancel(t.Context())
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentIdle, snap.State)

		close(gate)
		assert.Error(t, <-done)
		assert.Zero(t, submitCount(l), "cancelled purchase must not reach the ledger")
		assert.Equal(t, int32(1), locks.acquired.Load())
		assert.Equal(t, int32(1), locks.released.Load())
		assert.Equal(t, domain.PaymentIdle, c.Current().State)

		_, err = c.Begin(t.Context(), testOffer())
		require.NoError(t, err)
		assert.Equal(t, int32(2), locks.acquired.Load())
		assert.Equal(t, int32(1), locks.released.Load())
	})

	t.Run("cancel after signing retakes the lock", func(t *testing.T) {
		l := newFakeLedger("0xabc")
		l.submitFn = func(ctx context.Context, _ domain.PaymentRequest) (string, error) {
			<-ctx.Done()
			return "0xabc", nil
		}
		locks := &fakeLocks{}
		c := newTestCoordinator(t, l, &fakeProvisioner{result: domain.ProvisionResult{Success: true}}).WithLocks(locks)

		done := make(chan error, 1)
		go func() {
			_, err := c.Begin(t.Context(), testOffer())
			done <- err
		}()
		require.Eventually(t, func() bool { return submitCount(l) == 1 }, time.Second, 5*time.Millisecond)

		_, err := c.Cancel(t.Context())
		require.NoError(t, err)
		require.NoError(t, <-done)
		assert.Equal(t, domain.PaymentAwaitingConfirmation, c.Current().State)
		assert.Equal(t, int32(2), locks.acquired.Load())
		assert.Equal(t, int32(1), locks.released.Load())

		deliver(t, l, domain.Confirmation{TransactionHash: "0xabc", Success: true})
		_, err = waitResolved(t, c)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return locks.released.Load() == 2 }, time.Second, 5*time.Millisecond)
	})
}

func TestResume(t *testing.T) {
	t.Run("pending payment is watched again", func(t *testing.T) {
		l := newFakeLedger("")
		p := &fakeProvisioner{result: domain.ProvisionResult{Success: true}}
		store := &fakePaymentStore{latest: []domain.PaymentSession{{
			ID:                "s1",
			Trader:            testTrader,
			Offer:             testOffer(),
			TransactionHash:   "0xdef",
			State:             domain.PaymentAwaitingConfirmation,
			ConfirmationState: domain.ConfirmationPending,
		}}}
		c := newTestCoordinator(t, l, p).WithStore(store)

		require.NoError(t, c.Resume(t.Context()))
		assert.Equal(t, "s1", c.Current().ID)

		deliver(t, l, domain.Confirmation{TransactionHash: "0xDEF", Success: true})
		final, err := waitResolved(t, c)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentSucceeded, final.State)
		require.Len(t, p.reqs, 1)
		assert.Equal(t, "0xdef", p.reqs[0].TransactionHash)
	})

	t.Run("interrupted provisioning needs recovery", func(t *testing.T) {
		p := &fakeProvisioner{}
		store := &fakePaymentStore{latest: []domain.PaymentSession{{
			ID:                  "s2",
			Trader:              testTrader,
			TransactionHash:     "0xdef",
			State:               domain.PaymentProvisioning,
			ConfirmationState:   domain.ConfirmationConfirmed,
			ProvisioningInvoked: true,
		}}}
		c := newTestCoordinator(t, newFakeLedger(""), p).WithStore(store)

		require.NoError(t, c.Resume(t.Context()))
		snap := c.Current()
		assert.Equal(t, domain.PaymentFailed, snap.State)
		assert.True(t, snap.NeedsRecovery())
		assert.Zero(t, p.calls.Load())
	})
}
