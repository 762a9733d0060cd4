package http

import (
	"context"
	"net/http"
	"time"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/shared/middleware"
)

// AccountLister is implemented by account.Service.
type AccountLister interface {
	ListAccounts(ctx context.Context, userID int64) ([]*account.Account, error)
}

// AccountSyncer is implemented by banksync.Service.
type AccountSyncer interface {
	RefreshBalance(ctx context.Context, accountID string, userID int64) (*account.Account, error)
	DisconnectAccount(ctx context.Context, accountID string, userID int64) error
}

type AccountHandler struct {
	accounts AccountLister
	sync     AccountSyncer
}

func NewAccountHandler(accounts AccountLister, sync AccountSyncer) *AccountHandler {
	return &AccountHandler{accounts: accounts, sync: sync}
}

// AccountResponse is the client view of an account. Balances are decimal
// strings.
type AccountResponse struct {
	ID                 string  `json:"id"`
	EnrollmentID       string  `json:"enrollmentId"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	Subtype            string  `json:"subtype"`
	InstitutionName    string  `json:"institutionName"`
	MaskedNumber       string  `json:"maskedNumber"`
	CurrentBalance     string  `json:"currentBalance"`
	AvailableBalance   *string `json:"availableBalance"`
	Currency           string  `json:"currency"`
	SyncStatus         string  `json:"syncStatus"`
	VerificationStatus string  `json:"verificationStatus"`
	IsActive           bool    `json:"isActive"`
	IsPrimary          bool    `json:"isPrimary"`
	LastSyncAt         *string `json:"lastSyncAt"`
	Notes              string  `json:"notes,omitempty"`
	CreatedAt          string  `json:"createdAt"`
}

// HandleListAccounts returns all accounts for the authenticated user
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accounts, err := h.accounts.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, "list accounts", err)
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		response = append(response, toAccountResponse(acc))
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleAccountByID handles DELETE /api/accounts/{id}
func (h *AccountHandler) HandleAccountByID(w http.ResponseWriter, r *http.Request) {
	userID, accountID, ok := accountRequest(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := h.sync.DisconnectAccount(r.Context(), accountID, userID); err != nil {
			writeError(w, "disconnect account", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRefreshBalance handles POST /api/accounts/{id}/balance
func (h *AccountHandler) HandleRefreshBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, accountID, ok := accountRequest(w, r)
	if !ok {
		return
	}

	acc, err := h.sync.RefreshBalance(r.Context(), accountID, userID)
	if err != nil {
		writeError(w, "refresh balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

func accountRequest(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, "", false
	}

	accountID := r.PathValue("id")
	if accountID == "" {
		http.Error(w, "Account ID is required", http.StatusBadRequest)
		return 0, "", false
	}
	return userID, accountID, true
}

func toAccountResponse(acc *account.Account) AccountResponse {
	resp := AccountResponse{
		ID:                 acc.ID,
		EnrollmentID:       acc.EnrollmentID,
		Name:               acc.Name,
		Type:               acc.Type,
		Subtype:            acc.Subtype,
		InstitutionName:    acc.InstitutionName,
		MaskedNumber:       acc.MaskedNumber,
		CurrentBalance:     acc.CurrentBalance.StringFixed(2),
		Currency:           acc.Currency,
		SyncStatus:         acc.SyncStatus,
		VerificationStatus: acc.VerificationStatus,
		IsActive:           acc.IsActive,
		IsPrimary:          acc.IsPrimary,
		Notes:              acc.Notes,
		CreatedAt:          acc.CreatedAt.Format(time.RFC3339),
	}
	if acc.AvailableBalance.Valid {
		available := acc.AvailableBalance.Decimal.StringFixed(2)
		resp.AvailableBalance = &available
	}
	if acc.LastSyncAt != nil {
		formatted := acc.LastSyncAt.Format(time.RFC3339)
		resp.LastSyncAt = &formatted
	}
	return resp
}
