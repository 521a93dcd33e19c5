package domain

import (
	"github.com/shopspring/decimal"
)

// Phase is an evaluation phase.
type Phase string

const (
	Phase1 Phase = "phase1"
	Phase2 Phase = "phase2"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == Phase1 || p == Phase2
}

// ExamType is one configured exam tier.
type ExamType struct {
	Key              string           `json:"key"`
	ExamType         string           `json:"examType"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	ExamPrice        decimal.Decimal  `json:"examPrice"`
	InitialBalance   decimal.Decimal  `json:"initialBalance"`
	Currency         string           `json:"currency"`
	IsActive         bool             `json:"isActive"`
	Features         []string         `json:"features,omitempty"`
	EvaluationTypeID EvaluationTypeID `json:"evaluationTypeId"`
}

// Offer is the merged price and rule configuration for a phase and exam type.
// It is immutable once resolved.
type Offer struct {
	Phase            Phase            `json:"phase"`
	ExamType         string           `json:"examType"`
	EvaluationTypeID EvaluationTypeID `json:"evaluationTypeId"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	InitialBalance   decimal.Decimal  `json:"initialBalance"`
	Currency         string           `json:"currency"`
	// Price is denominated in the native settlement asset.
	Price              decimal.Decimal `json:"price"`
	TargetProfitPct    decimal.Decimal `json:"targetProfitPct"`
	MaxTotalLossPct    decimal.Decimal `json:"maxTotalLossPct"`
	MaxDailyLossPct    decimal.Decimal `json:"maxDailyLossPct"`
	MaxTimeDays        int             `json:"maxTimeDays"`
	MinDaysRequired    int             `json:"minDaysRequired"`
	MaxPositionSizePct decimal.Decimal `json:"maxPositionSizePct"`
	MaxLeverage        decimal.Decimal `json:"maxLeverage"`
	MaxPositionValue   decimal.Decimal `json:"maxPositionValue"`
	MaxOpenPositions   int             `json:"maxOpenPositions"`
	MaxDailyTrades     int             `json:"maxDailyTrades"`
	MaxDrawdownPct     decimal.Decimal `json:"maxDrawdownPct"`
}

// Rules projects the offer onto the thresholds used for status derivation.
func (o Offer) Rules() Rules {
	return Rules{
		TargetProfitPct: o.TargetProfitPct,
		MaxTotalLossPct: o.MaxTotalLossPct,
		MaxDailyLossPct: o.MaxDailyLossPct,
		MinDaysRequired: o.MinDaysRequired,
		MaxTimeDays:     o.MaxTimeDays,
	}
}
