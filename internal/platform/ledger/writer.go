package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// SubmitPayment signs and broadcasts startEvaluation(typeId) with the offer
// price attached as native value. It returns the transaction hash as soon as
// the node accepts the transaction.
func (g *Gateway) SubmitPayment(ctx context.Context, req domain.PaymentRequest) (string, error) {
	if g.signer == nil {
		return "", fmt.Errorf("ledger/writer: %w: no wallet configured", domain.ErrSubmissionRejected)
	}
	from := g.signer.Address()
	if req.From != "" && !strings.EqualFold(req.From, from.Hex()) {
		return "", fmt.Errorf("ledger/writer: %w: payer %s is not the configured wallet %s",
			domain.ErrSubmissionRejected, req.From, from.Hex())
	}
	if req.EvaluationTypeID == 0 {
		return "", fmt.Errorf("ledger/writer: %w: %w", domain.ErrSubmissionRejected, domain.ErrInvalidEvaluationType)
	}
	if !req.Value.IsPositive() {
		return "", fmt.Errorf("ledger/writer: %w: non-positive value %s", domain.ErrSubmissionRejected, req.Value)
	}

	data, err := g.abi.Pack("startEvaluation", req.EvaluationTypeID.BigInt())
	if err != nil {
		return "", fmt.Errorf("ledger/writer: pack: %w", err)
	}
	value := toWei(req.Value)

	tx, err := g.buildTx(ctx, from, value, data)
	if err != nil {
		return "", fmt.Errorf("ledger/writer: %w: %w", domain.ErrSubmissionRejected, err)
	}
	signed, err := g.signer.SignTx(tx)
	if err != nil {
		return "", fmt.Errorf("ledger/writer: %w: %w", domain.ErrSubmissionRejected, err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("ledger/writer: %w: send: %w", domain.ErrSubmissionRejected, err)
	}

	hash := signed.Hash().Hex()
	g.logger.InfoContext(ctx, "payment submitted",
		slog.String("tx_hash", hash),
		slog.String("from", from.Hex()),
		slog.String("evaluation_type", req.EvaluationTypeID.String()),
		slog.String("value", req.Value.String()),
	)
	return hash, nil
}

// buildTx prices and assembles an unsigned transaction. Chains reporting a
// base fee get an EIP-1559 transaction, others a legacy one.
func (g *Gateway) buildTx(ctx context.Context, from common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	to := g.cfg.Contract

	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	gas := g.cfg.GasLimit
	if gas == 0 {
		est, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gas = est + est/5
	}

	head, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee != nil {
		tip, err := g.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas tip: %w", err)
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   g.signer.ChainID(),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		}), nil
	}

	price, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	}), nil
}

// Receipt returns the confirmation for txHash once it is mined and buried
// under the configured number of confirmations. Pending transactions return
// domain.ErrNotFound.
func (g *Gateway) Receipt(ctx context.Context, txHash string) (domain.Confirmation, error) {
	r, err := g.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return domain.Confirmation{}, fmt.Errorf("ledger/writer: receipt %s: %w", txHash, domain.ErrNotFound)
		}
		return domain.Confirmation{}, fmt.Errorf("ledger/writer: receipt %s: %w", txHash, err)
	}

	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	if g.cfg.Confirmations > 1 {
		head, err := g.backend.BlockNumber(ctx)
		if err != nil {
			return domain.Confirmation{}, fmt.Errorf("ledger/writer: block number: %w", err)
		}
		if head+1 < block+uint64(g.cfg.Confirmations) {
			return domain.Confirmation{}, fmt.Errorf("ledger/writer: receipt %s: %w: %d/%d confirmations",
				txHash, domain.ErrNotFound, head+1-min(head+1, block), g.cfg.Confirmations)
		}
	}

	return domain.Confirmation{
		TransactionHash: txHash,
		Success:         r.Status == types.ReceiptStatusSuccessful,
		BlockNumber:     block,
		GasUsed:         r.GasUsed,
		ObservedAt:      time.Now().UTC(),
	}, nil
}

// AwaitConfirmation polls for the receipt of txHash and delivers it on the
// returned channel, which is closed after delivery or when ctx is done.
func (g *Gateway) AwaitConfirmation(ctx context.Context, txHash string) (<-chan domain.Confirmation, error) {
	if !strings.HasPrefix(txHash, "0x") || len(txHash) != 66 {
		return nil, fmt.Errorf("ledger/writer: invalid tx hash %q", txHash)
	}
	out := make(chan domain.Confirmation, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(g.cfg.ReceiptPollInterval)
		defer ticker.Stop()

		for {
			conf, err := g.Receipt(ctx, txHash)
			switch {
			case err == nil:
				select {
				case out <- conf:
				case <-ctx.Done():
				}
				return
			case !errors.Is(err, domain.ErrNotFound):
				g.logger.WarnContext(ctx, "receipt poll failed",
					slog.String("tx_hash", txHash),
					slog.String("error", err.Error()),
				)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

// Balance returns the native balance of address in whole units.
func (g *Gateway) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("ledger/writer: bad address %q", address)
	}
	wei, err := g.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger/writer: balance: %w: %w", domain.ErrLedgerRead, err)
	}
	return fromWei(wei), nil
}
