package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadRequest    = errors.New("bad request")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	// Configuration service.
	ErrConfigUnavailable = errors.New("configuration unavailable")
	ErrInvalidSelection  = errors.New("invalid exam selection")

	// Payment lifecycle.
	ErrSubmissionRejected  = errors.New("payment submission rejected")
	ErrConfirmationTimeout = errors.New("payment confirmation timed out")
	ErrPaymentReverted     = errors.New("payment transaction reverted")
	ErrProvisioningFailed  = errors.New("payment confirmed, provisioning failed")
	ErrSessionInUse        = errors.New("payment session in use")
	ErrNotCancellable      = errors.New("payment session cannot be cancelled")
	ErrNoSession           = errors.New("no payment session")

	ErrLedgerRead            = errors.New("ledger read failed")
	ErrInvalidEvaluationType = errors.New("invalid evaluation type id")
)
