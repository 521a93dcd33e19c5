package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState is the coordinator state of a payment session.
type PaymentState string

const (
	PaymentIdle                 PaymentState = "idle"
	PaymentAwaitingSignature    PaymentState = "awaiting_signature"
	PaymentAwaitingConfirmation PaymentState = "awaiting_confirmation"
	PaymentProvisioning         PaymentState = "provisioning"
	PaymentSucceeded            PaymentState = "succeeded"
	PaymentFailed               PaymentState = "failed"
)

// Terminal reports whether the session has resolved.
func (s PaymentState) Terminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}

// ConfirmationState tracks the on-chain side of a payment.
type ConfirmationState string

const (
	ConfirmationUnsent    ConfirmationState = "unsent"
	ConfirmationPending   ConfirmationState = "pending"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationFailed    ConfirmationState = "failed"
)

// FailureKind separates payment failures from provisioning failures. A
// provisioning failure means funds have moved and needs manual recovery.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureSubmission   FailureKind = "submission"
	FailurePayment      FailureKind = "payment"
	FailureProvisioning FailureKind = "provisioning"
)

// PaymentSession is the single owned record of an in-flight purchase.
// Consumers receive copies.
type PaymentSession struct {
	ID                  string            `json:"id"`
	Trader              string            `json:"trader"`
	Offer               Offer             `json:"offer"`
	TransactionHash     string            `json:"transactionHash,omitempty"`
	State               PaymentState      `json:"state"`
	ConfirmationState   ConfirmationState `json:"confirmationState"`
	ProvisioningInvoked bool              `json:"provisioningInvoked"`
	Stale               bool              `json:"stale"`
	FailureKind         FailureKind       `json:"failureKind,omitempty"`
	Error               string            `json:"error,omitempty"`
	BlockNumber         uint64            `json:"blockNumber,omitempty"`
	ProvisioningData    map[string]any    `json:"provisioningData,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	SubmittedAt         *time.Time        `json:"submittedAt,omitempty"`
	ConfirmedAt         *time.Time        `json:"confirmedAt,omitempty"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
}

// NeedsRecovery reports whether the payment settled but the account was
// never provisioned.
func (s PaymentSession) NeedsRecovery() bool {
	return s.State == PaymentFailed && s.FailureKind == FailureProvisioning
}

// PaymentRequest is the ledger write for an evaluation purchase.
type PaymentRequest struct {
	From             string
	EvaluationTypeID EvaluationTypeID
	// Value is in whole units of the native settlement asset.
	Value decimal.Decimal
}

// Confirmation is a receipt notification for a submitted transaction.
type Confirmation struct {
	TransactionHash string
	Success         bool
	BlockNumber     uint64
	GasUsed         uint64
	ObservedAt      time.Time
}

// ProvisionRequest is sent to the provisioning service once a payment is
// confirmed on the ledger.
type ProvisionRequest struct {
	TraderAddress   string `json:"traderAddress"`
	Phase           Phase  `json:"phase"`
	ExamType        string `json:"examType"`
	TransactionHash string `json:"transactionHash"`
	Confirmed       bool   `json:"confirmed"`
}

// ProvisionResult is the provisioning service response.
type ProvisionResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// PaymentReceipt is the archived record of a resolved session.
type PaymentReceipt struct {
	Session    PaymentSession `json:"session"`
	ChainID    int64          `json:"chainId"`
	Contract   string         `json:"contract"`
	ArchivedAt time.Time      `json:"archivedAt"`
}
