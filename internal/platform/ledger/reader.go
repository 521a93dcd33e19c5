package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TraderEvaluationIDs returns the ids of every evaluation the trader holds.
func (g *Gateway) TraderEvaluationIDs(ctx context.Context, trader string) ([]uint64, error) {
	if !common.IsHexAddress(trader) {
		return nil, fmt.Errorf("ledger/reader: %w: bad trader address %q", domain.ErrLedgerRead, trader)
	}
	out, err := g.call(ctx, "getTraderEvaluations", common.HexToAddress(trader))
	if err != nil {
		return nil, fmt.Errorf("ledger/reader: trader evaluations: %w: %w", domain.ErrLedgerRead, err)
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger/reader: %w: unexpected id list type %T", domain.ErrLedgerRead, out[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if !v.IsUint64() {
			continue
		}
		ids = append(ids, v.Uint64())
	}
	return ids, nil
}

// Evaluation reads one evaluation record. The record's string type tag is
// normalized into a typed id; rules carry only the ledger thresholds.
func (g *Gateway) Evaluation(ctx context.Context, id uint64) (domain.Evaluation, error) {
	out, err := g.call(ctx, "evaluations", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("ledger/reader: evaluation %d: %w: %w", id, domain.ErrLedgerRead, err)
	}

	var (
		evID, initial, target, maxLoss, start, end, current *big.Int
		trader                                              common.Address
		active, completed, passed                           bool
		typeTag                                             string
	)
	if err := assign(out, &evID, &trader, &initial, &target, &maxLoss, &start, &end, &current,
		&active, &completed, &passed, &typeTag); err != nil {
		return domain.Evaluation{}, fmt.Errorf("ledger/reader: evaluation %d: %w: %w", id, domain.ErrLedgerRead, err)
	}
	if evID.Sign() == 0 && trader == (common.Address{}) {
		return domain.Evaluation{}, fmt.Errorf("ledger/reader: evaluation %d: %w", id, domain.ErrNotFound)
	}

	typeID, err := domain.ParseEvaluationTypeID(typeTag)
	if err != nil {
		typeID = domain.DefaultEvaluationTypeID
	}

	return domain.Evaluation{
		ID:               evID.Uint64(),
		Trader:           trader.Hex(),
		EvaluationTypeID: typeID,
		InitialBalance:   fromWei(initial),
		CurrentBalance:   fromWei(current),
		StartTime:        unixTime(start),
		EndTime:          unixTime(end),
		IsActive:         active,
		IsCompleted:      completed,
		IsPassed:         passed,
		Rules: domain.Rules{
			TargetProfitPct: decimal.NewFromBigInt(target, 0),
			MaxTotalLossPct: decimal.NewFromBigInt(maxLoss, 0),
		},
	}, nil
}

// EvaluationType reads the configuration of an evaluation tier.
func (g *Gateway) EvaluationType(ctx context.Context, id domain.EvaluationTypeID) (domain.EvaluationType, error) {
	if id == 0 {
		return domain.EvaluationType{}, fmt.Errorf("ledger/reader: %w", domain.ErrInvalidEvaluationType)
	}
	out, err := g.call(ctx, "evaluationTypes", id.BigInt())
	if err != nil {
		return domain.EvaluationType{}, fmt.Errorf("ledger/reader: evaluation type %s: %w: %w", id, domain.ErrLedgerRead, err)
	}

	var (
		price, duration, target, maxLoss, initial *big.Int
		active                                    bool
	)
	if err := assign(out, &price, &duration, &target, &maxLoss, &initial, &active); err != nil {
		return domain.EvaluationType{}, fmt.Errorf("ledger/reader: evaluation type %s: %w: %w", id, domain.ErrLedgerRead, err)
	}

	return domain.EvaluationType{
		ID:              id,
		Price:           fromWei(price),
		Duration:        time.Duration(duration.Int64()) * time.Second,
		TargetProfitPct: decimal.NewFromBigInt(target, 0),
		MaxLossPct:      decimal.NewFromBigInt(maxLoss, 0),
		InitialBalance:  fromWei(initial),
		IsActive:        active,
	}, nil
}

// assign copies unpacked ABI values into typed destinations.
func assign(values []any, dst ...any) error {
	if len(values) != len(dst) {
		return fmt.Errorf("expected %d outputs, got %d", len(dst), len(values))
	}
	for i, v := range values {
		var ok bool
		switch d := dst[i].(type) {
		case **big.Int:
			*d, ok = v.(*big.Int)
		case *common.Address:
			*d, ok = v.(common.Address)
		case *bool:
			*d, ok = v.(bool)
		case *string:
			*d, ok = v.(string)
		}
		if !ok {
			return fmt.Errorf("output %d: unexpected type %T", i, v)
		}
	}
	return nil
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() <= 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
