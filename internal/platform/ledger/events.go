package ledger

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// maxLogRange bounds the block span of a single eth_getLogs request.
const maxLogRange = 2000

// WatchEvents polls contract logs for EvaluationCreated and
// EvaluationCompleted events concerning trader, starting at the current head.
// The channel closes when ctx is done.
func (g *Gateway) WatchEvents(ctx context.Context, trader string) (<-chan domain.LedgerEvent, error) {
	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	created := g.abi.Events["EvaluationCreated"].ID
	completed := g.abi.Events["EvaluationCompleted"].ID
	topics := [][]common.Hash{{created, completed}}
	if common.IsHexAddress(trader) {
		topics = append(topics, nil, []common.Hash{common.BytesToHash(common.HexToAddress(trader).Bytes())})
	}

	out := make(chan domain.LedgerEvent, 16)
	go func() {
		defer close(out)
		next := head + 1
		ticker := time.NewTicker(g.cfg.EventPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			latest, err := g.backend.BlockNumber(ctx)
			if err != nil {
				g.logger.WarnContext(ctx, "event poll: block number failed", slog.String("error", err.Error()))
				continue
			}
			for next <= latest {
				to := min(latest, next+maxLogRange-1)
				logs, err := g.backend.FilterLogs(ctx, ethereum.FilterQuery{
					FromBlock: new(big.Int).SetUint64(next),
					ToBlock:   new(big.Int).SetUint64(to),
					Addresses: []common.Address{g.cfg.Contract},
					Topics:    topics,
				})
				if err != nil {
					g.logger.WarnContext(ctx, "event poll: filter logs failed",
						slog.Uint64("from", next),
						slog.Uint64("to", to),
						slog.String("error", err.Error()),
					)
					break
				}
				for _, l := range logs {
					ev, ok := g.decodeEvent(l)
					if !ok {
						continue
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
				next = to + 1
			}
		}
	}()

	return out, nil
}

// decodeEvent maps a raw log to a LedgerEvent using its indexed topics.
func (g *Gateway) decodeEvent(l types.Log) (domain.LedgerEvent, bool) {
	if l.Removed || len(l.Topics) < 3 {
		return domain.LedgerEvent{}, false
	}
	var kind domain.LedgerEventKind
	switch l.Topics[0] {
	case g.abi.Events["EvaluationCreated"].ID:
		kind = domain.EventEvaluationCreated
	case g.abi.Events["EvaluationCompleted"].ID:
		kind = domain.EventEvaluationCompleted
	default:
		return domain.LedgerEvent{}, false
	}
	return domain.LedgerEvent{
		Kind:         kind,
		EvaluationID: l.Topics[1].Big().Uint64(),
		Trader:       common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
		BlockNumber:  l.BlockNumber,
		TxHash:       l.TxHash.Hex(),
	}, true
}
