package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"bankfeed/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

var _ account.Repository = (*AccountRepository)(nil)

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, user_id, enrollment_id, external_id, name, account_type, subtype,
	institution_name, masked_number, routing_number, current_balance, available_balance,
	currency, sync_status, verification_status, is_active, is_primary, last_sync_at, notes,
	created_at, updated_at`

func scanAccount(row rowScanner) (*account.Account, error) {
	var acc account.Account
	var lastSync sql.NullTime
	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.EnrollmentID, &acc.ExternalID, &acc.Name, &acc.Type, &acc.Subtype,
		&acc.InstitutionName, &acc.MaskedNumber, &acc.RoutingNumber, &acc.CurrentBalance, &acc.AvailableBalance,
		&acc.Currency, &acc.SyncStatus, &acc.VerificationStatus, &acc.IsActive, &acc.IsPrimary, &lastSync, &acc.Notes,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		acc.LastSyncAt = &lastSync.Time
	}
	return &acc, nil
}

// upsertAccountQuery is keyed by (user_id, external_id). Balances and sync
// bookkeeping are not touched on update, except that a row listed upstream
// again is active: a disconnected row goes back to pending with its note
// cleared. Empty masked and routing numbers keep the stored values.
// xmax = 0 identifies an insert.
const upsertAccountQuery = `
		INSERT INTO accounts (
			id, user_id, enrollment_id, external_id, name, account_type, subtype,
			institution_name, currency, masked_number, routing_number
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, external_id) DO UPDATE SET
			enrollment_id = EXCLUDED.enrollment_id,
			name = EXCLUDED.name,
			account_type = EXCLUDED.account_type,
			subtype = EXCLUDED.subtype,
			institution_name = EXCLUDED.institution_name,
			currency = EXCLUDED.currency,
			masked_number = COALESCE(NULLIF(EXCLUDED.masked_number, ''), accounts.masked_number),
			routing_number = COALESCE(NULLIF(EXCLUDED.routing_number, ''), accounts.routing_number),
			is_active = TRUE,
			sync_status = CASE WHEN accounts.sync_status = 'disconnected' THEN 'pending' ELSE accounts.sync_status END,
			notes = CASE WHEN accounts.sync_status = 'disconnected' THEN '' ELSE accounts.notes END,
			updated_at = NOW()
		RETURNING ` + accountColumns + `, (xmax = 0) AS inserted`

// Upsert creates or updates an account from an upstream listing.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	query := upsertAccountQuery

	var acc account.Account
	var lastSync sql.NullTime
	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.EnrollmentID, params.ExternalID, params.Name, params.Type, params.Subtype,
		params.InstitutionName, params.Currency, params.MaskedNumber, params.RoutingNumber,
	).Scan(
		&acc.ID, &acc.UserID, &acc.EnrollmentID, &acc.ExternalID, &acc.Name, &acc.Type, &acc.Subtype,
		&acc.InstitutionName, &acc.MaskedNumber, &acc.RoutingNumber, &acc.CurrentBalance, &acc.AvailableBalance,
		&acc.Currency, &acc.SyncStatus, &acc.VerificationStatus, &acc.IsActive, &acc.IsPrimary, &lastSync, &acc.Notes,
		&acc.CreatedAt, &acc.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}
	if lastSync.Valid {
		acc.LastSyncAt = &lastSync.Time
	}
	return &acc, inserted, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListByUserID retrieves all accounts for a specific user, oldest first
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, userID)
}

// ListByEnrollment retrieves the accounts of one enrollment, oldest first
func (r *AccountRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE enrollment_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, enrollmentID)
}

// ListByExternalIDs resolves upstream account ids across users
func (r *AccountRepository) ListByExternalIDs(ctx context.Context, externalIDs []string) ([]*account.Account, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE external_id = ANY($1) ORDER BY created_at, id`
	return r.list(ctx, query, pq.Array(externalIDs))
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// UpdateSyncState writes the sync status and note. A disconnected account
// is also deactivated.
func (r *AccountRepository) UpdateSyncState(ctx context.Context, id string, state account.SyncState) error {
	var lastSync sql.NullTime
	if state.LastSyncAt != nil {
		lastSync = sql.NullTime{Time: *state.LastSyncAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			sync_status = $1,
			notes = $2,
			last_sync_at = COALESCE($3, last_sync_at),
			is_active = CASE WHEN $1 = 'disconnected' THEN false ELSE is_active END,
			updated_at = NOW()
		WHERE id = $4`,
		state.Status, state.Notes, lastSync, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update account sync state: %w", err)
	}
	return expectOne(result, account.ErrAccountNotFound)
}

// UpdateBalances overwrites only the balance fields
func (r *AccountRepository) UpdateBalances(ctx context.Context, id string, balances account.Balances) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET current_balance = $1, available_balance = $2, updated_at = NOW() WHERE id = $3`,
		balances.Current, balances.Available, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update account balances: %w", err)
	}
	return expectOne(result, account.ErrAccountNotFound)
}

// UpdateVerificationStatus records the account number verification outcome
func (r *AccountRepository) UpdateVerificationStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET verification_status = $1, updated_at = NOW() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update verification status: %w", err)
	}
	return expectOne(result, account.ErrAccountNotFound)
}

// DeactivateByEnrollment marks the active accounts of an enrollment inactive
func (r *AccountRepository) DeactivateByEnrollment(ctx context.Context, enrollmentID, status, note string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = false, sync_status = $1, notes = $2, updated_at = NOW()
		WHERE enrollment_id = $3 AND is_active`,
		status, note, enrollmentID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate accounts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// SetPrimary moves the primary flag to accountID within one transaction so
// the one-primary index is never violated.
func (r *AccountRepository) SetPrimary(ctx context.Context, userID int64, accountID string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET is_primary = false WHERE user_id = $1 AND is_primary AND id <> $2`,
			userID, accountID,
		); err != nil {
			return fmt.Errorf("failed to clear primary account: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE accounts SET is_primary = true, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
			accountID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to set primary account: %w", err)
		}
		return expectOne(result, account.ErrAccountNotFound)
	})
}

// Delete removes an account; its transactions cascade
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return expectOne(result, account.ErrAccountNotFound)
}
