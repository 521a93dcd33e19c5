package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PaymentStore persists payment sessions so a restart can surface sessions
// that still need attention.
type PaymentStore interface {
	Save(ctx context.Context, s PaymentSession) error
	GetByID(ctx context.Context, id string) (PaymentSession, error)
	GetByTxHash(ctx context.Context, txHash string) (PaymentSession, error)
	// ClaimProvisioning marks provisioning as invoked for txHash. It returns
	// false when another caller already claimed it.
	ClaimProvisioning(ctx context.Context, txHash string) (bool, error)
	ListNeedingRecovery(ctx context.Context, opts ListOpts) ([]PaymentSession, error)
	ListByTrader(ctx context.Context, trader string, opts ListOpts) ([]PaymentSession, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
