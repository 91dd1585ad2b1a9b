package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predmarket/internal/crypto"
	"github.com/alanyoungcy/predmarket/internal/domain"
)

// AccountService is the part of the service layer the account endpoints use.
type AccountService interface {
	Balance(ctx context.Context, account domain.Identity) (uint64, error)
	Credit(ctx context.Context, caller, account domain.Identity, amount uint64) (uint64, error)
}

// AccountHandler serves custody balances.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger.With(slog.String("handler", "account"))}
}

type balanceResponse struct {
	Identity domain.Identity `json:"identity"`
	Balance  uint64          `json:"balance"`
}

// GetBalance returns the free collateral of an identity.
// GET /api/accounts/{identity}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := crypto.NormalizeIdentity(pathParam(r, "identity"))
	bal, err := h.accounts.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Identity: account, Balance: bal})
}

// Credit adds collateral to an account. Operators only.
// POST /api/accounts/{identity}/credit
func (h *AccountHandler) Credit(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	account := crypto.NormalizeIdentity(pathParam(r, "identity"))
	bal, err := h.accounts.Credit(r.Context(), who, account, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Identity: account, Balance: bal})
}
