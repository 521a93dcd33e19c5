package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, 100), mr
}

func TestOfferCache(t *testing.T) {
	c, mr := newTestClient(t)
	oc := NewOfferCache(c, time.Minute)
	ctx := t.Context()

	_, err := oc.Get(ctx, domain.Phase1, "basic")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	offer := domain.Offer{
		Phase:            domain.Phase1,
		ExamType:         "basic",
		EvaluationTypeID: 1,
		Price:            decimal.RequireFromString("0.002"),
		TargetProfitPct:  decimal.NewFromInt(10),
		MinDaysRequired:  7,
	}
	require.NoError(t, oc.Set(ctx, offer))
	assert.Equal(t, time.Minute, mr.TTL("fundx:offer:phase1:basic"))

	got, err := oc.Get(ctx, domain.Phase1, "BASIC")
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationTypeID(1), got.EvaluationTypeID)
	assert.True(t, got.Price.Equal(offer.Price))
	assert.Equal(t, 7, got.MinDaysRequired)

	require.NoError(t, oc.Invalidate(ctx, domain.Phase1, "basic"))
	_, err = oc.Get(ctx, domain.Phase1, "basic")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluationTypeCache(t *testing.T) {
	c, _ := newTestClient(t)
	ec := NewEvaluationTypeCache(c, 0)
	ctx := t.Context()

	_, err := ec.Get(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, ec.Set(ctx, domain.EvaluationType{
		ID:       2,
		Price:    decimal.RequireFromString("0.004"),
		Duration: 30 * 24 * time.Hour,
		IsActive: true,
	}))
	got, err := ec.Get(ctx, 2)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("0.004")))
	assert.Equal(t, 30*24*time.Hour, got.Duration)
	assert.True(t, got.IsActive)
}

func TestProvisionClaimer(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewProvisionClaimer(c)

	ok, err := pc.Claim(t.Context(), "0xABC")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pc.Claim(t.Context(), "0xabc")
	require.NoError(t, err)
	assert.False(t, ok, "hashes compare case-insensitively")
}

func TestLockManager(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := t.Context()

	unlock, err := lm.Acquire(ctx, "payment:0xaa", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "payment:0xaa", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "payment:0xaa", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestRateLimiterAllow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 2, time.Second)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := t.Context()

	for i, want := range []bool{true, true, false} {
		ok, err := rl.Allow(ctx, "provision", 2, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i)
	}

	now = now.Add(1100 * time.Millisecond)
	ok, err := rl.Allow(ctx, "provision", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "window slid past the first requests")

	ok, err = rl.Allow(ctx, "other", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 1, time.Hour)

	require.NoError(t, rl.Wait(t.Context(), "provision"))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "provision")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)
	ctx := t.Context()

	msgs, err := sb.StreamRead(ctx, domain.StreamPayments, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, domain.StreamPayments, []byte(`{"state":"provisioning"}`)))
	require.NoError(t, sb.StreamAppend(ctx, domain.StreamPayments, []byte(`{"state":"succeeded"}`)))

	msgs, err = sb.StreamRead(ctx, domain.StreamPayments, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"state":"succeeded"}`, string(msgs[1].Payload))

	rest, err := sb.StreamRead(ctx, domain.StreamPayments, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, msgs[1].ID, rest[0].ID)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	ch, err := sb.Subscribe(ctx, "ch:*")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, domain.ChannelPayments, []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range ch {
	}
}
