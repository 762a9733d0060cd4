package transaction

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeAmount splits a signed upstream amount into a magnitude and a
// type. Negative amounts are expenses, positive amounts income, and zero is
// an expense.
func NormalizeAmount(signed decimal.Decimal) (decimal.Decimal, string) {
	if signed.IsPositive() {
		return signed, TypeIncome
	}
	return signed.Abs(), TypeExpense
}

// NormalizeStatus maps an upstream status onto the stored set. Unknown
// values are treated as pending.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusPosted:
		return StatusPosted
	case StatusCancelled, "canceled":
		return StatusCancelled
	default:
		return StatusPending
	}
}

// Differs reports whether incoming changes any compared field of existing:
// amount, type, description, transaction and posted dates, category,
// merchant, status.
func Differs(existing *Transaction, incoming UpsertParams) bool {
	switch {
	case !existing.Amount.Equal(incoming.Amount):
		return true
	case existing.Type != incoming.Type:
		return true
	case existing.Description != incoming.Description:
		return true
	case !sameDay(existing.TransactionDate, incoming.TransactionDate):
		return true
	case !sameOptionalDay(existing.PostedDate, incoming.PostedDate):
		return true
	case existing.Category != incoming.Category:
		return true
	case existing.MerchantName != incoming.MerchantName:
		return true
	case existing.Status != incoming.Status:
		return true
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameOptionalDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return sameDay(*a, *b)
}
