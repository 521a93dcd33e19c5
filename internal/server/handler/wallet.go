package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"
)

// BalanceReader reads a native balance.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// WalletHandler serves the trader wallet.
type WalletHandler struct {
	ledger  BalanceReader
	address string
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler for address.
func NewWalletHandler(ledger BalanceReader, address string, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{ledger: ledger, address: address, logger: logHandler(logger, "wallet")}
}

// GetWallet returns the trader address and its native balance.
// GET /api/wallet
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	bal, err := h.ledger.Balance(r.Context(), h.address)
	if err != nil {
		writeServiceError(w, r, h.logger, "read balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": h.address,
		"balance": bal,
	})
}
