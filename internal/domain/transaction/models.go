package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types derived from the sign of the upstream amount
const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

// Transaction statuses
const (
	StatusPending   = "pending"
	StatusPosted    = "posted"
	StatusCancelled = "cancelled"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrOwnershipConflict   = errors.New("transaction external ID belongs to another account")
	ErrMissingAmount       = errors.New("transaction amount is missing")
)

// Transaction is an upstream financial event. Amount is always a
// non-negative magnitude; Type carries the direction.
type Transaction struct {
	ID              string          `json:"id"`
	ExternalID      string          `json:"externalId"`
	AccountID       string          `json:"accountId"`
	UserID          int64           `json:"-"`
	Amount          decimal.Decimal `json:"amount"`
	Type            string          `json:"type"`
	Description     string          `json:"description"`
	TransactionDate time.Time       `json:"transactionDate"`
	PostedDate      *time.Time      `json:"postedDate"`
	Category        string          `json:"category"`
	MerchantName    string          `json:"merchantName"`
	Status          string          `json:"status"`
	Verified        bool            `json:"verified"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// UpsertParams is the normalized upstream view of a transaction.
type UpsertParams struct {
	ID              string // used only when the row is created
	ExternalID      string
	AccountID       string
	UserID          int64
	Amount          decimal.Decimal
	Type            string
	Description     string
	TransactionDate time.Time
	PostedDate      *time.Time
	Category        string
	MerchantName    string
	Status          string
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.ExternalID == "" {
		return errors.New("external transaction ID is required")
	}
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Amount.IsNegative() {
		return errors.New("amount must be a non-negative magnitude")
	}
	if p.Type != TypeIncome && p.Type != TypeExpense {
		return errors.New("type must be income or expense")
	}
	if p.TransactionDate.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}

// Outcome classifies one reconciled transaction.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)
