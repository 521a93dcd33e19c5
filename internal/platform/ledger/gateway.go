// Package ledger is the go-ethereum gateway to the EvaluationSystem contract.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// nativeDecimals is the precision of the native settlement asset.
const nativeDecimals = 18

// Backend is the subset of ethclient.Client the gateway uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// TxSigner signs transactions with the trader's key.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Config tunes the gateway.
type Config struct {
	Contract            common.Address
	Confirmations       int
	ReceiptPollInterval time.Duration
	EventPollInterval   time.Duration
	GasLimit            uint64
}

// Gateway reads evaluation state, submits payments and follows receipts and
// events for one EvaluationSystem deployment.
type Gateway struct {
	backend Backend
	signer  TxSigner
	abi     abi.ABI
	cfg     Config
	logger  *slog.Logger
}

// Dial connects to rpcURL and builds a Gateway. signer may be nil for
// read-only use. The returned close function releases the RPC connection.
func Dial(ctx context.Context, rpcURL string, cfg Config, signer TxSigner, logger *slog.Logger) (*Gateway, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger/gateway: dial %s: %w", rpcURL, err)
	}
	g, err := New(client, cfg, signer, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	if signer != nil {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ledger/gateway: chain id: %w", err)
		}
		if chainID.Cmp(signer.ChainID()) != 0 {
			client.Close()
			return nil, nil, fmt.Errorf("ledger/gateway: rpc chain id %s does not match configured %s", chainID, signer.ChainID())
		}
	}
	return g, client.Close, nil
}

// New builds a Gateway on an existing backend.
func New(backend Backend, cfg Config, signer TxSigner, logger *slog.Logger) (*Gateway, error) {
	parsed, err := parseABI()
	if err != nil {
		return nil, err
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	if cfg.EventPollInterval <= 0 {
		cfg.EventPollInterval = 5 * time.Second
	}
	if cfg.Confirmations < 1 {
		cfg.Confirmations = 1
	}
	return &Gateway{
		backend: backend,
		signer:  signer,
		abi:     parsed,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
	}, nil
}

// call packs method with args, runs eth_call against the contract and
// unpacks the outputs.
func (g *Gateway) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.cfg.Contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := g.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// fromWei converts an 18-decimal integer amount into whole units.
func fromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -nativeDecimals)
}

// toWei converts whole units into an 18-decimal integer amount, truncating
// any precision beyond 18 places.
func toWei(d decimal.Decimal) *big.Int {
	return d.Shift(nativeDecimals).Truncate(0).BigInt()
}
