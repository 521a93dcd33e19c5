package fundx

import (
	"encoding/json"
	"strings"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/shopspring/decimal"
)

// APIExamType is one entry of GET /api/config/exam-types.
type APIExamType struct {
	Key            string          `json:"key"`
	ExamType       string          `json:"examType"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	ExamPrice      decimal.Decimal `json:"examPrice"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	Currency       string          `json:"currency"`
	IsActive       *bool           `json:"isActive"`
	Features       []string        `json:"features"`
	// EvaluationTypeID arrives as a number, a numeric string or is absent.
	EvaluationTypeID any `json:"evaluationTypeId"`
	TypeID           any `json:"typeId"`
}

// ToDomain converts the wire shape, resolving the evaluation type id from an
// explicit field first and the exam type tag second. Entries without an
// isActive flag are treated as active.
func (a APIExamType) ToDomain() domain.ExamType {
	key := a.Key
	if key == "" {
		key = a.ExamType
	}
	examType := a.ExamType
	if examType == "" {
		examType = key
	}
	active := a.IsActive == nil || *a.IsActive

	return domain.ExamType{
		Key:              key,
		ExamType:         examType,
		Name:             a.Name,
		Description:      a.Description,
		ExamPrice:        a.ExamPrice,
		InitialBalance:   a.InitialBalance,
		Currency:         a.Currency,
		IsActive:         active,
		Features:         a.Features,
		EvaluationTypeID: resolveTypeID(examType, a.EvaluationTypeID, a.TypeID),
	}
}

// APICombinedConfig is the payload of GET /api/config/combined/{phase}/{examType}.
type APICombinedConfig struct {
	Phase            string          `json:"phase"`
	ExamType         string          `json:"examType"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	InitialBalance   decimal.Decimal `json:"initialBalance"`
	Currency         string          `json:"currency"`
	ExamPrice        decimal.Decimal `json:"examPrice"`
	TargetProfit     decimal.Decimal `json:"targetProfit"`
	MinDaysRequired  int             `json:"minDaysRequired"`
	MaxTotalLoss     decimal.Decimal `json:"maxTotalLoss"`
	MaxDailyLoss     decimal.Decimal `json:"maxDailyLoss"`
	MaxTimeDays      int             `json:"maxTimeDays"`
	MaxPositionSize  decimal.Decimal `json:"maxPositionSize"`
	MaxLeverage      decimal.Decimal `json:"maxLeverage"`
	MaxPositionValue decimal.Decimal `json:"maxPositionValue"`
	MaxOpenPositions int             `json:"maxOpenPositions"`
	MaxDailyTrades   int             `json:"maxDailyTrades"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	EvaluationTypeID any             `json:"evaluationTypeId"`
	TypeID           any             `json:"typeId"`
}

// ToDomain converts the wire shape into an Offer. Missing phase and exam type
// fields fall back to the requested selection.
func (a APICombinedConfig) ToDomain(phase domain.Phase, examType string) domain.Offer {
	if a.Phase != "" {
		phase = domain.Phase(a.Phase)
	}
	if a.ExamType != "" {
		examType = a.ExamType
	}
	return domain.Offer{
		Phase:              phase,
		ExamType:           examType,
		EvaluationTypeID:   resolveTypeID(examType, a.EvaluationTypeID, a.TypeID),
		Name:               a.Name,
		Description:        a.Description,
		InitialBalance:     a.InitialBalance,
		Currency:           a.Currency,
		Price:              a.ExamPrice,
		TargetProfitPct:    a.TargetProfit,
		MaxTotalLossPct:    a.MaxTotalLoss,
		MaxDailyLossPct:    a.MaxDailyLoss,
		MaxTimeDays:        a.MaxTimeDays,
		MinDaysRequired:    a.MinDaysRequired,
		MaxPositionSizePct: a.MaxPositionSize,
		MaxLeverage:        a.MaxLeverage,
		MaxPositionValue:   a.MaxPositionValue,
		MaxOpenPositions:   a.MaxOpenPositions,
		MaxDailyTrades:     a.MaxDailyTrades,
		MaxDrawdownPct:     a.MaxDrawdown,
	}
}

// resolveTypeID returns the first explicit id that parses, else the id mapped
// from the exam type tag, else zero.
func resolveTypeID(examType string, candidates ...any) domain.EvaluationTypeID {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		// Non-numeric strings in an id field are not tags; skip them.
		if s, ok := c.(string); ok {
			if _, err := json.Number(strings.TrimSpace(s)).Int64(); err != nil {
				continue
			}
		}
		if id, err := domain.ParseEvaluationTypeID(c); err == nil {
			return id
		}
	}
	if id, ok := domain.EvaluationTypeForExam(examType); ok {
		return id
	}
	return 0
}
