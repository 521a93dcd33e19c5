package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerReader reads evaluation state from the ledger.
type LedgerReader interface {
	TraderEvaluationIDs(ctx context.Context, trader string) ([]uint64, error)
	Evaluation(ctx context.Context, id uint64) (Evaluation, error)
	EvaluationType(ctx context.Context, id EvaluationTypeID) (EvaluationType, error)
}

// LedgerWriter submits payments and resolves their receipts.
type LedgerWriter interface {
	SubmitPayment(ctx context.Context, req PaymentRequest) (txHash string, err error)
	// Receipt returns ErrNotFound while the transaction is pending.
	Receipt(ctx context.Context, txHash string) (Confirmation, error)
	// AwaitConfirmation delivers confirmations for txHash until ctx is done.
	// Consumers must tolerate duplicate deliveries.
	AwaitConfirmation(ctx context.Context, txHash string) (<-chan Confirmation, error)
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// LedgerEventKind names the contract events the registry reacts to.
type LedgerEventKind string

const (
	EventEvaluationCreated   LedgerEventKind = "EvaluationCreated"
	EventEvaluationCompleted LedgerEventKind = "EvaluationCompleted"
)

// LedgerEvent carries no payload guarantees beyond "something changed".
type LedgerEvent struct {
	Kind         LedgerEventKind
	EvaluationID uint64
	Trader       string
	BlockNumber  uint64
	TxHash       string
}

// LedgerEvents streams contract events.
type LedgerEvents interface {
	WatchEvents(ctx context.Context, trader string) (<-chan LedgerEvent, error)
}

// Provisioner creates and funds the trading account for a confirmed payment.
type Provisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error)
}

// ConfigSource fetches exam configuration.
type ConfigSource interface {
	ExamTypes(ctx context.Context) ([]ExamType, error)
	CombinedConfig(ctx context.Context, phase Phase, examType string) (Offer, error)
}
