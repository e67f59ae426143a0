package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/nrbontha/spherepay/internal/domain"
)

// insertTransaction persists a new PENDING transaction and fills in its
// generated id and creation time.
func (e *Engine) insertTransaction(ctx context.Context, txn *domain.Transaction) error {
	err := e.db.QueryRowContext(ctx, `
		INSERT INTO transactions
			(source_currency, target_currency, source_amount, target_amount,
			 fx_rate, margin, revenue, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, txn.SourceCurrency, txn.TargetCurrency, txn.SourceAmount, txn.TargetAmount,
		txn.FxRate, txn.Margin, txn.Revenue, txn.Status).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (e *Engine) getTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var txn domain.Transaction
	var settledAt sql.NullTime
	err := e.db.QueryRowContext(ctx, `
		SELECT id, source_currency, target_currency, source_amount, target_amount,
		       fx_rate, margin, revenue, status, created_at, settled_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(&txn.ID, &txn.SourceCurrency, &txn.TargetCurrency, &txn.SourceAmount,
		&txn.TargetAmount, &txn.FxRate, &txn.Margin, &txn.Revenue, &txn.Status,
		&txn.CreatedAt, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %d: %w", id, err)
	}

	txn.SourceCurrency = strings.TrimSpace(txn.SourceCurrency)
	txn.TargetCurrency = strings.TrimSpace(txn.TargetCurrency)
	if settledAt.Valid {
		t := settledAt.Time
		txn.SettledAt = &t
	}
	return &txn, nil
}

// markStatus advances a transaction's status. The WHERE clause restricts the
// update to states the lifecycle permits as predecessors, so a late or
// duplicate worker can never regress a terminal state.
func (e *Engine) markStatus(ctx context.Context, id int64, next domain.TransactionStatus, from ...domain.TransactionStatus) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	res, err := e.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2
		WHERE id = $1 AND status = ANY($3)
	`, id, next, pq.Array(states))
	if err != nil {
		return fmt.Errorf("failed to mark transaction %d %s: %w", id, next, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: transaction %d not in %v", domain.ErrInvariantViolation, id, from)
	}
	return nil
}

// markCompleted terminates a PROCESSING transaction and stamps settlement.
func (e *Engine) markCompleted(ctx context.Context, id int64, settledAt time.Time) error {
	res, err := e.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, settled_at = $3
		WHERE id = $1 AND status = $4
	`, id, domain.StatusCompleted, settledAt, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete transaction %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: transaction %d not in PROCESSING", domain.ErrInvariantViolation, id)
	}
	return nil
}

func (e *Engine) listByStatus(ctx context.Context, status domain.TransactionStatus) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id FROM transactions WHERE status = $1 ORDER BY id
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s transactions: %w", status, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
