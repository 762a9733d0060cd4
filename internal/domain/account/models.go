package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sync statuses
const (
	SyncPending       = "pending"
	SyncSyncing       = "syncing"
	SyncSuccess       = "success"
	SyncFailed        = "failed"
	SyncBalanceFailed = "balance_failed"
	SyncDisconnected  = "disconnected"
)

// Verification statuses mirrored from the aggregation API
const (
	VerificationUnverified = "unverified"
	VerificationPending    = "pending"
	VerificationVerified   = "verified"
	VerificationFailed     = "failed"
)

var (
	accountTypes = map[string]struct{}{
		"depository": {},
		"credit":     {},
		"loan":       {},
		"investment": {},
	}
	syncStatuses = map[string]struct{}{
		SyncPending:       {},
		SyncSyncing:       {},
		SyncSuccess:       {},
		SyncFailed:        {},
		SyncBalanceFailed: {},
		SyncDisconnected:  {},
	}
)

// Domain errors
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidCurrency    = errors.New("valid ISO 4217 currency is required")
	ErrInvalidSyncStatus  = errors.New("invalid sync status")
)

// Account represents a bank account domain entity. ExternalID is the
// aggregation API's identifier; ID is local.
type Account struct {
	ID                 string              `json:"id"`
	UserID             int64               `json:"userId"`
	EnrollmentID       string              `json:"enrollmentId"`
	ExternalID         string              `json:"externalId"`
	Name               string              `json:"name"`
	Type               string              `json:"type"`
	Subtype            string              `json:"subtype"`
	InstitutionName    string              `json:"institutionName"`
	MaskedNumber       string              `json:"maskedNumber"`
	RoutingNumber      string              `json:"routingNumber"`
	CurrentBalance     decimal.Decimal     `json:"currentBalance"`
	AvailableBalance   decimal.NullDecimal `json:"availableBalance"`
	Currency           string              `json:"currency"`
	SyncStatus         string              `json:"syncStatus"`
	VerificationStatus string              `json:"verificationStatus"`
	IsActive           bool                `json:"isActive"`
	IsPrimary          bool                `json:"isPrimary"`
	LastSyncAt         *time.Time          `json:"lastSyncAt"`
	Notes              string              `json:"notes"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// UpsertParams carries the upstream view of an account. Empty MaskedNumber
// and RoutingNumber leave the stored values untouched.
type UpsertParams struct {
	ID              string // used only when the row is created
	UserID          int64
	EnrollmentID    string
	ExternalID      string
	Name            string
	Type            string
	Subtype         string
	InstitutionName string
	Currency        string
	MaskedNumber    string
	RoutingNumber   string
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.ExternalID == "" {
		return errors.New("external account ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.EnrollmentID == "" {
		return errors.New("enrollment ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if p.Type != "" && !IsValidAccountType(p.Type) {
		return ErrInvalidAccountType
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// SyncState is the sync bookkeeping written after each pass.
// A nil LastSyncAt leaves the stored timestamp untouched.
type SyncState struct {
	Status     string
	Notes      string
	LastSyncAt *time.Time
}

// Validate validates the sync state
func (s SyncState) Validate() error {
	if !IsValidSyncStatus(s.Status) {
		return ErrInvalidSyncStatus
	}
	return nil
}

// Balances are the only fields a balance-only refresh may overwrite.
type Balances struct {
	Current   decimal.Decimal
	Available decimal.NullDecimal
}

// ZeroBalances is stored when the upstream balance cannot be trusted.
func ZeroBalances() Balances {
	return Balances{
		Current:   decimal.Zero,
		Available: decimal.NewNullDecimal(decimal.Zero),
	}
}

// IsValidAccountType checks if the provided account type is one the
// aggregation API reports.
func IsValidAccountType(t string) bool {
	_, ok := accountTypes[t]
	return ok
}

// IsValidSyncStatus checks if the provided sync status is known.
func IsValidSyncStatus(s string) bool {
	_, ok := syncStatuses[s]
	return ok
}

// IsValidCurrency checks that c looks like an ISO 4217 code.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
