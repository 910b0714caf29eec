package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/store"
)

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.ledger.Wallet(r.Context(), principalID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	txns := make([]txnResponse, 0, len(wallet.Transactions))
	for _, t := range wallet.Transactions {
		txns = append(txns, toTxnResponse(t))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"credits":      money(wallet.Balance),
		"transactions": txns,
	})
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	costs := ledger.Costs()
	out := make(map[string]string, len(costs))
	for action, cost := range costs {
		out[string(action)] = money(cost)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"costs": out})
}

type topupRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type topupResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       string `json:"amount"`
}

// handleTopup opens a payment intent shell. No credits move here; the
// payment provider's webhook applies the purchase once the charge settles.
func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		s.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", ledger.ErrInvalidAmount.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, topupResponse{
		IntentID:     "pi_" + uuid.NewString(),
		ClientSecret: "cs_" + uuid.NewString(),
		Amount:       money(req.Amount),
	})
}

type grantRequest struct {
	Amount decimal.Decimal `json:"amount"`
	UserID string          `json:"user_id"`
}

type grantResponse struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	BalanceAfter  string `json:"balance_after"`
}

// handleGrant adds promotional credits. Anyone may grant their own wallet;
// granting another user requires the enterprise role.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	caller := principalID(r.Context())
	target := caller
	if req.UserID != "" && req.UserID != caller {
		user, err := s.store.UserByID(r.Context(), caller)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if user.Role != store.RoleEnterprise {
			s.writeError(w, http.StatusForbidden, "FORBIDDEN", "only enterprise accounts can grant credits to other users")
			return
		}
		target = req.UserID
	}

	entry, err := s.ledger.Grant(r.Context(), target, req.Amount, store.TxnGrant, "Credit grant", "")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, grantResponse{
		TransactionID: entry.TransactionID,
		Amount:        money(entry.Amount),
		BalanceAfter:  money(entry.BalanceAfter),
	})
}
