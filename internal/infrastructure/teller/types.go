package teller

import (
	"time"

	"github.com/shopspring/decimal"
)

// Institution identifies the bank behind an enrollment.
type Institution struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccountLinks holds the upstream resource links of an account.
type AccountLinks struct {
	Self         string `json:"self"`
	Details      string `json:"details"`
	Balances     string `json:"balances"`
	Transactions string `json:"transactions"`
}

// Account is one entry of GET /accounts.
type Account struct {
	ID           string       `json:"id"`
	EnrollmentID string       `json:"enrollment_id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Subtype      string       `json:"subtype"`
	Currency     string       `json:"currency"`
	LastFour     string       `json:"last_four"`
	Status       string       `json:"status"` // "open" or "closed"
	Institution  Institution  `json:"institution"`
	Links        AccountLinks `json:"links"`
}

// Counterparty is the merchant or payee of a transaction.
type Counterparty struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionDetails carries the upstream enrichment of a transaction.
type TransactionDetails struct {
	ProcessingStatus string       `json:"processing_status"`
	Category         string       `json:"category"`
	Counterparty     Counterparty `json:"counterparty"`
}

// Transaction is one entry of GET /accounts/{id}/transactions.
// Amount is signed: negative values are outflows.
type Transaction struct {
	ID             string              `json:"id"`
	AccountID      string              `json:"account_id"`
	Amount         decimal.NullDecimal `json:"amount"`
	Description    string              `json:"description"`
	Date           string              `json:"date"`   // YYYY-MM-DD
	Status         string              `json:"status"` // "pending" or "posted"
	Type           string              `json:"type"`
	RunningBalance decimal.NullDecimal `json:"running_balance"`
	Details        TransactionDetails  `json:"details"`
}

// ParseDate returns the transaction date, or nil when absent.
func (t *Transaction) ParseDate() (*time.Time, error) {
	if t.Date == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, t.Date)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RoutingNumbers of an account.
type RoutingNumbers struct {
	ACH  string `json:"ach"`
	Wire string `json:"wire"`
}

// AccountDetails is GET /accounts/{id}/details.
type AccountDetails struct {
	AccountID      string         `json:"account_id"`
	AccountNumber  string         `json:"account_number"`
	RoutingNumbers RoutingNumbers `json:"routing_numbers"`
}

// MaskedNumber returns the account number with all but the last four digits hidden.
func (d *AccountDetails) MaskedNumber() string {
	n := d.AccountNumber
	if len(n) <= 4 {
		return n
	}
	return "****" + n[len(n)-4:]
}

// Balance is the normalized result of GET /accounts/{id}/balances.
// Available is optional upstream; Ledger is not.
type Balance struct {
	AccountID string
	Ledger    decimal.Decimal
	Available decimal.NullDecimal
}

// TransactionQuery narrows a transaction fetch. Zero values are omitted.
type TransactionQuery struct {
	FromDate time.Time
	ToDate   time.Time
	Count    int
}

const dateLayout = "2006-01-02"
