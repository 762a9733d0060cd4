package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bankfeed/internal/domain/transaction"
)

// TransactionRepository implements transaction.Repository for PostgreSQL
type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, external_id, account_id, user_id, amount, type, description,
	transaction_date, posted_date, category, merchant_name, status, verified, created_at, updated_at`

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	var posted sql.NullTime
	err := row.Scan(
		&tx.ID, &tx.ExternalID, &tx.AccountID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Description,
		&tx.TransactionDate, &posted, &tx.Category, &tx.MerchantName, &tx.Status, &tx.Verified,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if posted.Valid {
		tx.PostedDate = &posted.Time
	}
	return &tx, nil
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, externalID))
	if err == sql.ErrNoRows {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// Create inserts a transaction. A row with the same external id written
// concurrently for the same account is updated instead; one owned by another
// account is left alone and reported as an ownership conflict.
func (r *TransactionRepository) Create(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
	query := `
		INSERT INTO transactions (
			id, external_id, account_id, user_id, amount, type, description,
			transaction_date, posted_date, category, merchant_name, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			type = EXCLUDED.type,
			description = EXCLUDED.description,
			transaction_date = EXCLUDED.transaction_date,
			posted_date = EXCLUDED.posted_date,
			category = EXCLUDED.category,
			merchant_name = EXCLUDED.merchant_name,
			status = EXCLUDED.status,
			updated_at = NOW()
		WHERE transactions.account_id = EXCLUDED.account_id
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		params.ID, params.ExternalID, params.AccountID, params.UserID, params.Amount, params.Type, params.Description,
		params.TransactionDate, postedDate(params), params.Category, params.MerchantName, params.Status,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", transaction.ErrOwnershipConflict, params.ExternalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

// Update overwrites the compared fields of an existing row
func (r *TransactionRepository) Update(ctx context.Context, id string, params transaction.UpsertParams) (*transaction.Transaction, error) {
	query := `
		UPDATE transactions SET
			amount = $1,
			type = $2,
			description = $3,
			transaction_date = $4,
			posted_date = $5,
			category = $6,
			merchant_name = $7,
			status = $8,
			updated_at = NOW()
		WHERE id = $9
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		params.Amount, params.Type, params.Description, params.TransactionDate, postedDate(params),
		params.Category, params.MerchantName, params.Status, id,
	))
	if err == sql.ErrNoRows {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = $1
		ORDER BY transaction_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

func (r *TransactionRepository) CountByAccountID(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func postedDate(p transaction.UpsertParams) sql.NullTime {
	if p.PostedDate == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p.PostedDate, Valid: true}
}
