package domain

import (
	"context"
	"time"
)

// OfferCache caches resolved offers per phase and exam type.
type OfferCache interface {
	Set(ctx context.Context, offer Offer) error
	Get(ctx context.Context, phase Phase, examType string) (Offer, error)
	Invalidate(ctx context.Context, phase Phase, examType string) error
}

// EvaluationTypeCache caches ledger evaluation type configs.
type EvaluationTypeCache interface {
	Set(ctx context.Context, t EvaluationType) error
	Get(ctx context.Context, id EvaluationTypeID) (EvaluationType, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ProvisionClaimer grants the right to provision a transaction hash once.
type ProvisionClaimer interface {
	Claim(ctx context.Context, txHash string) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels and streams.
const (
	ChannelPayments    = "ch:payments"
	ChannelEvaluations = "ch:evaluations"
	StreamPayments     = "stream:payments"
)

// ClaimFunc adapts a function to ProvisionClaimer.
type ClaimFunc func(ctx context.Context, txHash string) (bool, error)

// Claim calls f.
func (f ClaimFunc) Claim(ctx context.Context, txHash string) (bool, error) {
	return f(ctx, txHash)
}
