package webhook

import (
	"encoding/json"
	"errors"
	"time"
)

// Event types sent by the aggregation API
const (
	TypeEnrollmentDisconnected = "enrollment.disconnected"
	TypeTransactionsProcessed  = "transactions.processed"
	TypeVerificationProcessed  = "account.number_verification.processed"
	TypeTest                   = "webhook.test"
)

// Domain errors
var (
	ErrEventNotFound = errors.New("webhook event not found")
	ErrMissingID     = errors.New("webhook event id is required")
	ErrMissingType   = errors.New("webhook event type is required")
)

// Event is an inbound notification envelope.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks the envelope fields every handler relies on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.Type == "" {
		return ErrMissingType
	}
	return nil
}

// Record is one row of the durable event log.
type Record struct {
	Event
	ReceivedAt  time.Time  `json:"receivedAt"`
	ProcessedAt *time.Time `json:"processedAt"`
	Error       string     `json:"error,omitempty"`
	Note        string     `json:"note,omitempty"`
	Attempts    int        `json:"attempts"`
}

// EnrollmentPayload is the payload of enrollment.disconnected.
type EnrollmentPayload struct {
	EnrollmentID string `json:"enrollment_id"`
	Reason       string `json:"reason"`
}

// TransactionsPayload is the payload of transactions.processed. Upstream
// names affected accounts through the transaction list; AccountIDs is
// accepted for senders that list them directly.
type TransactionsPayload struct {
	EnrollmentID string   `json:"enrollment_id"`
	AccountIDs   []string `json:"account_ids"`
	Transactions []struct {
		ID        string `json:"id"`
		AccountID string `json:"account_id"`
	} `json:"transactions"`
}

// AffectedAccounts returns the distinct account ids named in the payload,
// in first-seen order.
func (p *TransactionsPayload) AffectedAccounts() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range p.AccountIDs {
		add(id)
	}
	for _, tx := range p.Transactions {
		add(tx.AccountID)
	}
	return ids
}

// VerificationPayload is the payload of account.number_verification.processed.
type VerificationPayload struct {
	AccountID    string `json:"account_id"`
	EnrollmentID string `json:"enrollment_id"`
	Status       string `json:"status"`
}

// DecodePayload unmarshals the event payload into v.
func DecodePayload(e *Event, v any) error {
	if len(e.Payload) == 0 {
		return errors.New("webhook payload is empty")
	}
	return json.Unmarshal(e.Payload, v)
}
