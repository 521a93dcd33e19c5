package service

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextSnapshot(t *testing.T, ch <-chan domain.EvaluationSnapshot) domain.EvaluationSnapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
		return domain.EvaluationSnapshot{}
	}
}

func TestRegistryWatcherInvalidateCoalesces(t *testing.T) {
	w := NewRegistryWatcher(newTestRegistry(&fakeReader{}, nil, registryStart), testTrader, time.Hour, discardLogger())
	for range 5 {
		w.Invalidate()
	}
	assert.Len(t, w.invalidate, 1)
	assert.NotNil(t, w.Snapshot().Evaluations, "empty before the first refresh")
}

func TestRegistryWatcherRefreshesOnEvents(t *testing.T) {
	r := &fakeReader{
		ids:     []uint64{1},
		records: map[uint64]domain.Evaluation{1: ledgerEvaluation(1, "10")},
		types:   map[domain.EvaluationTypeID]domain.EvaluationType{1: basicType()},
	}
	reg := newTestRegistry(r, nil, registryStart.Add(8*24*time.Hour))
	events := &fakeEvents{ch: make(chan domain.LedgerEvent)}
	notifier := &fakeNotifier{}
	w := NewRegistryWatcher(reg, testTrader, time.Hour, discardLogger()).
		WithEvents(events).
		WithNotifier(notifier)

	snaps := make(chan domain.EvaluationSnapshot, 8)
	w.OnSnapshot(func(s domain.EvaluationSnapshot) { snaps <- s })

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	first := nextSnapshot(t, snaps)
	require.Len(t, first.Evaluations, 1)
	assert.Equal(t, domain.StatusActive, first.Evaluations[0].Assessment.Status)

	r.setRecord(ledgerEvaluation(1, "11.2"))
	events.ch <- domain.LedgerEvent{Kind: domain.EventEvaluationCreated, EvaluationID: 1}

	second := nextSnapshot(t, snaps)
	require.Len(t, second.Evaluations, 1)
	assert.Equal(t, domain.StatusPassed, second.Evaluations[0].Assessment.Status)
	assert.Equal(t, domain.StatusPassed, w.Snapshot().Evaluations[0].Assessment.Status)
	_, msgs := notifier.count()
	assert.Equal(t, 1, msgs)

	completed := ledgerEvaluation(1, "11.2")
	completed.IsCompleted = true
	completed.IsPassed = true
	r.setRecord(completed)
	events.ch <- domain.LedgerEvent{Kind: domain.EventEvaluationCompleted, EvaluationID: 1}

	third := nextSnapshot(t, snaps)
	assert.Empty(t, third.Evaluations)
	_, msgs = notifier.count()
	assert.Equal(t, 2, msgs)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestRegistryWatcherKeepsSnapshotOnReadError(t *testing.T) {
	r := &fakeReader{
		ids:     []uint64{1},
		records: map[uint64]domain.Evaluation{1: ledgerEvaluation(1, "10")},
	}
	w := NewRegistryWatcher(newTestRegistry(r, nil, registryStart), testTrader, time.Hour, discardLogger())

	w.refresh(t.Context())
	require.Len(t, w.Snapshot().Evaluations, 1)

	r.mu.Lock()
	r.idsErr = domain.ErrLedgerRead
	r.mu.Unlock()
	w.refresh(t.Context())
	assert.Len(t, w.Snapshot().Evaluations, 1)
}
