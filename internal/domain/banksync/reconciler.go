package banksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/domain/notification"
	"bankfeed/internal/domain/webhook"
	"bankfeed/internal/shared/apperr"
)

// Reconciler turns inbound webhook events into targeted resyncs and state
// changes. Every accepted event is logged before it is handled.
type Reconciler struct {
	svc      *Service
	events   webhook.Repository
	verifier *webhook.Verifier

	// background runs resyncs that outlive the webhook request
	background func(fn func())
}

// NewReconciler creates a reconciler.
func NewReconciler(svc *Service, events webhook.Repository, verifier *webhook.Verifier) *Reconciler {
	return &Reconciler{
		svc:        svc,
		events:     events,
		verifier:   verifier,
		background: func(fn func()) { go fn() },
	}
}

// Receive verifies, decodes, logs and handles one delivery. The signature is
// checked before the body is parsed. A redelivered event id that was already
// processed is acknowledged without handling it again.
func (r *Reconciler) Receive(ctx context.Context, signature string, body []byte) (*webhook.Event, error) {
	const op = "banksync.Receive"

	if err := r.verifier.Verify(signature, body); err != nil {
		return nil, err
	}

	var event webhook.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, op, fmt.Errorf("malformed webhook body: %w", err))
	}
	if err := event.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, op, err)
	}

	inserted, err := r.events.Log(ctx, &event)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("failed to log webhook event: %w", err))
	}
	if !inserted {
		rec, err := r.events.Get(ctx, event.ID)
		if err == nil && rec.ProcessedAt != nil && rec.Error == "" {
			log.Printf("Webhook %s: duplicate delivery, already processed", event.ID)
			return &event, nil
		}
	}

	if err := r.process(ctx, &event); err != nil {
		return &event, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return &event, nil
}

// Replay handles a logged event again, regardless of its previous outcome.
func (r *Reconciler) Replay(ctx context.Context, id string) error {
	rec, err := r.events.Get(ctx, id)
	if err != nil {
		return err
	}
	log.Printf("Webhook %s: replaying %s event", id, rec.Type)
	return r.process(ctx, &rec.Event)
}

func (r *Reconciler) process(ctx context.Context, event *webhook.Event) error {
	note, err := r.Handle(ctx, event)
	if err != nil {
		log.Printf("Webhook %s (%s): handling failed: %v", event.ID, event.Type, err)
		if markErr := r.events.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			log.Printf("Webhook %s: failed to record failure: %v", event.ID, markErr)
		}
		return err
	}

	if note != "" {
		log.Printf("Webhook %s (%s): %s", event.ID, event.Type, note)
	}
	if err := r.events.MarkProcessed(ctx, event.ID, note); err != nil {
		log.Printf("Webhook %s: failed to mark processed: %v", event.ID, err)
	}
	return nil
}

// Handle dispatches on event type and returns a note for the event log.
// Unknown types are accepted and noted.
func (r *Reconciler) Handle(ctx context.Context, event *webhook.Event) (string, error) {
	switch event.Type {
	case webhook.TypeEnrollmentDisconnected:
		return r.handleDisconnected(ctx, event)
	case webhook.TypeTransactionsProcessed:
		return r.handleTransactionsProcessed(ctx, event)
	case webhook.TypeVerificationProcessed:
		return r.handleVerification(ctx, event)
	case webhook.TypeTest:
		return "test event received", nil
	default:
		return fmt.Sprintf("unhandled event type %q", event.Type), nil
	}
}

func (r *Reconciler) handleDisconnected(ctx context.Context, event *webhook.Event) (string, error) {
	var p webhook.EnrollmentPayload
	if err := webhook.DecodePayload(event, &p); err != nil {
		return "", fmt.Errorf("invalid enrollment payload: %w", err)
	}
	if p.EnrollmentID == "" {
		return "payload names no enrollment", nil
	}

	enr, err := r.svc.enrollments.Get(ctx, p.EnrollmentID)
	if errors.Is(err, enrollment.ErrEnrollmentNotFound) {
		return fmt.Sprintf("unknown enrollment %s", p.EnrollmentID), nil
	}
	if err != nil {
		return "", err
	}

	reason := p.Reason
	if reason == "" {
		reason = "disconnected"
	}
	if err := r.svc.enrollments.MarkDisconnected(ctx, enr.ID, reason); err != nil {
		return "", err
	}

	n, err := r.svc.accounts.DisconnectEnrollment(ctx, enr.ID, "Disconnected by the bank: "+reason)
	if err != nil {
		return "", err
	}
	r.svc.orch.gateway.InvalidateUser(enr.UserID)

	title, body := r.svc.orch.messages.EnrollmentDisconnected.Render(enr.InstitutionName, reason)
	r.svc.orch.notify(ctx, enr.UserID, notification.CategoryEnrollment, title, body, map[string]string{
		"enrollment_id": enr.ID,
		"reason":        reason,
	})

	return fmt.Sprintf("enrollment %s disconnected (%s), %d accounts deactivated", enr.ID, reason, n), nil
}

// handleTransactionsProcessed resyncs the accounts named in the payload, or
// the whole enrollment when the payload names none. Named accounts that are
// not known locally are noted, and no fallback to the full account set is
// made when none of them match.
func (r *Reconciler) handleTransactionsProcessed(ctx context.Context, event *webhook.Event) (string, error) {
	var p webhook.TransactionsPayload
	if err := webhook.DecodePayload(event, &p); err != nil {
		return "", fmt.Errorf("invalid transactions payload: %w", err)
	}
	named := p.AffectedAccounts()

	var candidates []*account.Account
	var err error
	switch {
	case p.EnrollmentID != "":
		candidates, err = r.svc.accounts.ListByEnrollment(ctx, p.EnrollmentID)
	case len(named) > 0:
		candidates, err = r.svc.accounts.ListByExternalIDs(ctx, named)
	default:
		return "payload names no enrollment or accounts", nil
	}
	if err != nil {
		return "", err
	}

	targets, unmatched := selectTargets(candidates, named)
	var notes []string
	if len(unmatched) > 0 {
		notes = append(notes, fmt.Sprintf("unknown accounts: %s", strings.Join(unmatched, ", ")))
	}
	if len(targets) == 0 {
		notes = append(notes, "no local accounts to resync")
		return strings.Join(notes, "; "), nil
	}

	byEnrollment := make(map[string][]*account.Account)
	var order []string
	for _, acc := range targets {
		if _, ok := byEnrollment[acc.EnrollmentID]; !ok {
			order = append(order, acc.EnrollmentID)
		}
		byEnrollment[acc.EnrollmentID] = append(byEnrollment[acc.EnrollmentID], acc)
	}

	detached := context.WithoutCancel(ctx)
	scheduled := 0
	for _, enrollmentID := range order {
		accounts := byEnrollment[enrollmentID]
		enr, err := r.svc.enrollments.Get(ctx, enrollmentID)
		if err != nil {
			notes = append(notes, fmt.Sprintf("enrollment %s: %v", enrollmentID, err))
			continue
		}
		if !enr.IsActive() {
			notes = append(notes, fmt.Sprintf("enrollment %s is %s, skipped", enr.ID, enr.Status))
			continue
		}
		token, err := r.svc.enrollments.AccessToken(enr)
		if err != nil {
			return "", err
		}

		for _, acc := range accounts {
			r.svc.orch.gateway.InvalidateTransactions(acc.UserID, acc.ExternalID)
		}

		eventID := event.ID
		r.background(func() {
			res := r.svc.orch.SyncMany(detached, accounts, token)
			log.Printf("Webhook %s: resynced %d accounts of enrollment %s: synced=%d errors=%d",
				eventID, len(accounts), enr.ID, res.Synced(), len(res.Errors))
		})
		scheduled += len(accounts)
	}

	notes = append([]string{fmt.Sprintf("resync scheduled for %d accounts", scheduled)}, notes...)
	return strings.Join(notes, "; "), nil
}

// selectTargets keeps the active candidates named in the payload, or every
// active candidate when named is empty. It also returns the named ids with
// no matching candidate.
func selectTargets(candidates []*account.Account, named []string) (targets []*account.Account, unmatched []string) {
	if len(named) == 0 {
		for _, acc := range candidates {
			if acc.IsActive {
				targets = append(targets, acc)
			}
		}
		return targets, nil
	}

	byExternal := make(map[string]*account.Account, len(candidates))
	for _, acc := range candidates {
		byExternal[acc.ExternalID] = acc
	}
	for _, id := range named {
		acc, ok := byExternal[id]
		if !ok {
			unmatched = append(unmatched, id)
			continue
		}
		if acc.IsActive {
			targets = append(targets, acc)
		}
	}
	return targets, unmatched
}

func (r *Reconciler) handleVerification(ctx context.Context, event *webhook.Event) (string, error) {
	var p webhook.VerificationPayload
	if err := webhook.DecodePayload(event, &p); err != nil {
		return "", fmt.Errorf("invalid verification payload: %w", err)
	}
	if p.AccountID == "" || p.Status == "" {
		return "payload names no account or status", nil
	}

	accounts, err := r.verificationTargets(ctx, p)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return fmt.Sprintf("unknown account %s", p.AccountID), nil
	}

	for _, acc := range accounts {
		if err := r.svc.accounts.SetVerificationStatus(ctx, acc.ID, p.Status); err != nil {
			return "", err
		}
		title, body := r.svc.orch.messages.VerificationProcessed.Render(acc.InstitutionName, p.Status)
		r.svc.orch.notify(ctx, acc.UserID, notification.CategoryVerification, title, body, map[string]string{
			"account_id": acc.ID,
			"status":     p.Status,
		})
	}
	return fmt.Sprintf("verification status %s recorded for %d accounts", p.Status, len(accounts)), nil
}

// verificationTargets scopes the account lookup to the named enrollment, so a
// payload naming one never touches another user's row.
func (r *Reconciler) verificationTargets(ctx context.Context, p webhook.VerificationPayload) ([]*account.Account, error) {
	if p.EnrollmentID == "" {
		return r.svc.accounts.ListByExternalIDs(ctx, []string{p.AccountID})
	}

	candidates, err := r.svc.accounts.ListByEnrollment(ctx, p.EnrollmentID)
	if err != nil {
		return nil, err
	}
	var out []*account.Account
	for _, acc := range candidates {
		if acc.ExternalID == p.AccountID {
			out = append(out, acc)
		}
	}
	return out, nil
}
