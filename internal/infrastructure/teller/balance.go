package teller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bankfeed/internal/shared/apperr"
)

// Field names observed for each balance figure, in precedence order.
var (
	ledgerFields    = []string{"ledger", "current", "balance", "ledger_balance"}
	availableFields = []string{"available", "available_balance"}
)

// ParseBalance decodes a balances payload. Figures may be JSON numbers or
// numeric strings. A missing or unparseable ledger figure is a
// KindMalformedResponse error; it is never reported as zero.
func ParseBalance(body []byte) (*Balance, error) {
	const op = "teller.ParseBalance"

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, apperr.New(apperr.KindMalformedResponse, op, "balance payload is not an object")
	}

	b := &Balance{}
	if raw, ok := fields["account_id"]; ok {
		_ = json.Unmarshal(raw, &b.AccountID)
	}

	ledger, found, err := firstAmount(fields, ledgerFields)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, op, err)
	}
	if !found {
		return nil, apperr.New(apperr.KindMalformedResponse, op,
			fmt.Sprintf("no ledger balance among %s", strings.Join(ledgerFields, ", ")))
	}
	b.Ledger = ledger

	available, found, err := firstAmount(fields, availableFields)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, op, err)
	}
	if found {
		b.Available = decimal.NewNullDecimal(available)
	}

	return b, nil
}

// firstAmount returns the first present, non-null field among names.
func firstAmount(fields map[string]json.RawMessage, names []string) (decimal.Decimal, bool, error) {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		d, err := parseAmount(raw)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("field %q: %w", name, err)
		}
		return d, true, nil
	}
	return decimal.Zero, false, nil
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty amount string")
		}
		return decimal.NewFromString(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return decimal.NewFromString(string(raw))
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount %s", string(raw))
	}
}
