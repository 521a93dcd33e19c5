package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EvaluationTypeID identifies an evaluation tier on the ledger.
type EvaluationTypeID uint64

// String returns the decimal form of the id.
func (id EvaluationTypeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// BigInt returns the id as a uint256-compatible value for contract calls.
func (id EvaluationTypeID) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

// DefaultEvaluationTypeID is used for ledger records whose type is a
// non-numeric tag (e.g. "demo").
const DefaultEvaluationTypeID EvaluationTypeID = 1

// evaluationTypeTags maps exam type keys to their ledger type ids.
var evaluationTypeTags = map[string]EvaluationTypeID{
	"basic":        1,
	"intermediate": 2,
	"advanced":     3,
	"demo":         1,
}

// EvaluationTypeForExam returns the ledger type id for an exam type key.
func EvaluationTypeForExam(examType string) (EvaluationTypeID, bool) {
	id, ok := evaluationTypeTags[strings.ToLower(strings.TrimSpace(examType))]
	return id, ok
}

// ParseEvaluationTypeID normalizes the shapes an evaluation type can take in
// ledger and config payloads (integers, big integers, decimal strings and tag
// strings) into a single typed id. Unknown tags fall back to
// DefaultEvaluationTypeID; zero and negative values are rejected.
func ParseEvaluationTypeID(v any) (EvaluationTypeID, error) {
	switch t := v.(type) {
	case EvaluationTypeID:
		if t == 0 {
			return 0, fmt.Errorf("%w: zero", ErrInvalidEvaluationType)
		}
		return t, nil
	case int:
		return fromInt64(int64(t))
	case int64:
		return fromInt64(t)
	case uint8:
		return fromInt64(int64(t))
	case uint64:
		if t == 0 {
			return 0, fmt.Errorf("%w: zero", ErrInvalidEvaluationType)
		}
		return EvaluationTypeID(t), nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%w: non-integer %v", ErrInvalidEvaluationType, t)
		}
		return fromInt64(int64(t))
	case *big.Int:
		if t == nil || t.Sign() <= 0 || !t.IsUint64() {
			return 0, fmt.Errorf("%w: %v", ErrInvalidEvaluationType, t)
		}
		return EvaluationTypeID(t.Uint64()), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, fmt.Errorf("%w: empty", ErrInvalidEvaluationType)
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromInt64(n)
		}
		if id, ok := EvaluationTypeForExam(s); ok {
			return id, nil
		}
		return DefaultEvaluationTypeID, nil
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrInvalidEvaluationType)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidEvaluationType, v)
	}
}

func fromInt64(n int64) (EvaluationTypeID, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEvaluationType, n)
	}
	return EvaluationTypeID(n), nil
}

// Rules holds the thresholds an evaluation is judged against.
type Rules struct {
	TargetProfitPct decimal.Decimal `json:"targetProfitPct"`
	MaxTotalLossPct decimal.Decimal `json:"maxTotalLossPct"`
	MaxDailyLossPct decimal.Decimal `json:"maxDailyLossPct"`
	MinDaysRequired int             `json:"minDaysRequired"`
	MaxTimeDays     int             `json:"maxTimeDays"`
}

// Evaluation is a ledger-owned evaluation record. Balances are expressed in
// whole units of the settlement asset.
type Evaluation struct {
	ID               uint64           `json:"id"`
	Trader           string           `json:"trader"`
	EvaluationTypeID EvaluationTypeID `json:"evaluationTypeId"`
	InitialBalance   decimal.Decimal  `json:"initialBalance"`
	CurrentBalance   decimal.Decimal  `json:"currentBalance"`
	StartTime        time.Time        `json:"startTime"`
	EndTime          time.Time        `json:"endTime"`
	IsActive         bool             `json:"isActive"`
	IsCompleted      bool             `json:"isCompleted"`
	IsPassed         bool             `json:"isPassed"`
	Rules            Rules            `json:"rules"`
}

// PnL returns currentBalance - initialBalance.
func (e Evaluation) PnL() decimal.Decimal {
	return e.CurrentBalance.Sub(e.InitialBalance)
}

// PnLPct returns the profit or loss as a percentage of the initial balance,
// or zero when the initial balance is not positive.
func (e Evaluation) PnLPct() decimal.Decimal {
	if !e.InitialBalance.IsPositive() {
		return decimal.Zero
	}
	return e.PnL().Div(e.InitialBalance).Mul(decimal.NewFromInt(100))
}

// EvaluationType is the ledger configuration of an evaluation tier.
type EvaluationType struct {
	ID              EvaluationTypeID `json:"id"`
	Price           decimal.Decimal  `json:"price"`
	Duration        time.Duration    `json:"duration"`
	TargetProfitPct decimal.Decimal  `json:"targetProfitPct"`
	MaxLossPct      decimal.Decimal  `json:"maxLossPct"`
	InitialBalance  decimal.Decimal  `json:"initialBalance"`
	IsActive        bool             `json:"isActive"`
}

// DerivedStatus is computed from an evaluation snapshot and never stored.
type DerivedStatus string

const (
	StatusActive          DerivedStatus = "active"
	StatusPassed          DerivedStatus = "passed"
	StatusFailed          DerivedStatus = "failed"
	StatusCompletedPassed DerivedStatus = "completed-passed"
	StatusCompletedFailed DerivedStatus = "completed-failed"
)

// Terminal reports whether the ledger has settled the evaluation.
func (s DerivedStatus) Terminal() bool {
	return s == StatusCompletedPassed || s == StatusCompletedFailed
}

// Assessment is the derived view of an evaluation at a point in time.
type Assessment struct {
	Status DerivedStatus `json:"status"`
	// Tentative is set when the status is client-computed (passed or failed
	// before the ledger marks completion).
	Tentative bool `json:"tentative"`
	// TradingBlocked is only set once the ledger has settled the evaluation.
	TradingBlocked bool            `json:"tradingBlocked"`
	PnL            decimal.Decimal `json:"pnl"`
	PnLPct         decimal.Decimal `json:"pnlPct"`
	ProgressPct    float64         `json:"progressPct"`
	Remaining      time.Duration   `json:"remaining"`
	RemainingText  string          `json:"remainingText"`
}

// EvaluationView is one row of the registry listing.
type EvaluationView struct {
	Evaluation     Evaluation      `json:"evaluation"`
	Type           *EvaluationType `json:"type,omitempty"`
	PerformancePct decimal.Decimal `json:"performancePct"`
	Assessment     Assessment      `json:"assessment"`
}

// EvaluationSnapshot is a full registry listing for one trader.
type EvaluationSnapshot struct {
	Trader      string           `json:"trader"`
	Evaluations []EvaluationView `json:"evaluations"`
	RefreshedAt time.Time        `json:"refreshedAt"`
}
