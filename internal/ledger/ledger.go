package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nrbontha/spherepay/internal/database"
	"github.com/nrbontha/spherepay/internal/domain"
	"github.com/nrbontha/spherepay/pkg/logger"
)

// RateSource supplies the latest FX observation for a pair. The rebalance
// path converts pool transfers through it with no margin.
type RateSource interface {
	LatestRate(ctx context.Context, base, quote string) (*domain.FxRate, error)
}

// Ledger is the authoritative balance store for the liquidity pools. Every
// mutating operation runs inside one database transaction with row locks on
// the affected pools; multi-pool operations lock in ascending currency-code
// order so concurrent settlements cannot deadlock.
type Ledger struct {
	db    *database.DB
	rates RateSource
	log   *logger.Logger
}

// New creates a ledger over the liquidity_pools relation.
func New(db *database.DB, rates RateSource, log *logger.Logger) *Ledger {
	return &Ledger{db: db, rates: rates, log: log}
}

// GetPool returns one pool without locking.
func (l *Ledger) GetPool(ctx context.Context, currency string) (*domain.LiquidityPool, error) {
	var pool domain.LiquidityPool
	err := l.db.QueryRowContext(ctx, `
		SELECT currency, balance, reserved_balance, updated_at
		FROM liquidity_pools
		WHERE currency = $1
	`, currency).Scan(&pool.Currency, &pool.Balance, &pool.ReservedBalance, &pool.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no liquidity pool for %s", domain.ErrNotFound, currency)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool %s: %w", currency, err)
	}
	pool.Currency = trimCurrency(pool.Currency)
	return &pool, nil
}

// ListPools returns all pools in ascending currency-code order.
func (l *Ledger) ListPools(ctx context.Context) ([]domain.LiquidityPool, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT currency, balance, reserved_balance, updated_at
		FROM liquidity_pools
		ORDER BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.LiquidityPool
	for rows.Next() {
		var pool domain.LiquidityPool
		if err := rows.Scan(&pool.Currency, &pool.Balance, &pool.ReservedBalance, &pool.UpdatedAt); err != nil {
			return nil, err
		}
		pool.Currency = trimCurrency(pool.Currency)
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

// CheckLiquidity reports whether the pool's available balance covers amount.
func (l *Ledger) CheckLiquidity(ctx context.Context, currency string, amount decimal.Decimal) (bool, error) {
	pool, err := l.GetPool(ctx, currency)
	if err != nil {
		return false, err
	}
	return pool.Available().GreaterThanOrEqual(amount), nil
}

// ReserveFunds places a soft hold of amount against the pool. The
// availability check and the reserved_balance increment happen atomically
// under the row lock, so concurrent reservations cannot oversell the pool.
func (l *Ledger) ReserveFunds(ctx context.Context, currency string, amount decimal.Decimal) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		pool, err := lockPool(ctx, tx, currency)
		if err != nil {
			return err
		}

		if pool.Available().LessThan(amount) {
			return fmt.Errorf("%w: %s available %s, requested %s",
				domain.ErrInsufficientLiquidity, currency, pool.Available(), amount)
		}

		return updatePool(ctx, tx, currency, pool.Balance, pool.ReservedBalance.Add(amount))
	})
}

// ReleaseReservation drops a hold previously placed with ReserveFunds.
func (l *Ledger) ReleaseReservation(ctx context.Context, currency string, amount decimal.Decimal) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		pool, err := lockPool(ctx, tx, currency)
		if err != nil {
			return err
		}

		reserved := pool.ReservedBalance.Sub(amount)
		if reserved.IsNegative() {
			return fmt.Errorf("%w: releasing %s from %s would leave reserved balance negative",
				domain.ErrInvariantViolation, amount, currency)
		}

		return updatePool(ctx, tx, currency, pool.Balance, reserved)
	})
}

// SettleTransaction applies the final two-sided balance update: the target
// pool pays the beneficiary (its balance and hold both drop by targetAmount)
// and the sender's deposit enters the source pool. Both legs commit in one
// database transaction or not at all.
func (l *Ledger) SettleTransaction(ctx context.Context, sourceCurrency, targetCurrency string, sourceAmount, targetAmount decimal.Decimal) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		pools, err := lockPools(ctx, tx, sourceCurrency, targetCurrency)
		if err != nil {
			return err
		}
		sourcePool, targetPool := pools[sourceCurrency], pools[targetCurrency]

		targetBalance := targetPool.Balance.Sub(targetAmount)
		targetReserved := targetPool.ReservedBalance.Sub(targetAmount)
		if targetBalance.IsNegative() || targetReserved.IsNegative() {
			return fmt.Errorf("%w: settling %s %s would overdraw pool (balance %s, reserved %s)",
				domain.ErrInvariantViolation, targetAmount, targetCurrency,
				targetPool.Balance, targetPool.ReservedBalance)
		}

		if err := updatePool(ctx, tx, targetCurrency, targetBalance, targetReserved); err != nil {
			return err
		}
		return updatePool(ctx, tx, sourceCurrency, sourcePool.Balance.Add(sourceAmount), sourcePool.ReservedBalance)
	})
}

// InternalRebalance moves amount from one owned pool to another, converted at
// the latest FX rate with no margin. An insufficient source balance is logged
// and ignored; a missing pool or rate fails with not found.
func (l *Ledger) InternalRebalance(ctx context.Context, fromCurrency, toCurrency string, amount decimal.Decimal) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		pools, err := lockPools(ctx, tx, fromCurrency, toCurrency)
		if err != nil {
			return err
		}
		fromPool, toPool := pools[fromCurrency], pools[toCurrency]

		if fromPool.Balance.LessThan(amount) {
			l.log.Warn("Skipping rebalance, source pool balance insufficient",
				"from", fromCurrency,
				"to", toCurrency,
				"amount", amount.String(),
				"balance", fromPool.Balance.String())
			return nil
		}

		rate, err := l.rates.LatestRate(ctx, fromCurrency, toCurrency)
		if err != nil {
			return err
		}
		converted := domain.Round6(amount.Mul(rate.Rate))

		if err := updatePool(ctx, tx, fromCurrency, fromPool.Balance.Sub(amount), fromPool.ReservedBalance); err != nil {
			return err
		}
		if err := updatePool(ctx, tx, toCurrency, toPool.Balance.Add(converted), toPool.ReservedBalance); err != nil {
			return err
		}

		l.log.Info("Rebalanced pools",
			"from", fromCurrency,
			"to", toCurrency,
			"amount", amount.String(),
			"converted", converted.String(),
			"rate", rate.Rate.String())
		return nil
	})
}

// PoolMetrics computes flow volumes over the trailing window and the pool's
// utilization. Failed transactions never moved money and are excluded.
func (l *Ledger) PoolMetrics(ctx context.Context, currency string, window time.Duration) (*domain.PoolMetrics, error) {
	pool, err := l.GetPool(ctx, currency)
	if err != nil {
		return nil, err
	}

	since := time.Now().Add(-window)

	var outgoing, incoming decimal.Decimal
	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(source_amount), 0)
		FROM transactions
		WHERE source_currency = $1 AND created_at >= $2 AND status <> $3
	`, currency, since, domain.StatusFailed).Scan(&outgoing)
	if err != nil {
		return nil, fmt.Errorf("failed to sum outgoing volume for %s: %w", currency, err)
	}

	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(target_amount), 0)
		FROM transactions
		WHERE target_currency = $1 AND created_at >= $2 AND status <> $3
	`, currency, since, domain.StatusFailed).Scan(&incoming)
	if err != nil {
		return nil, fmt.Errorf("failed to sum incoming volume for %s: %w", currency, err)
	}

	utilization := decimal.Zero
	if pool.Balance.Sign() > 0 {
		utilization = outgoing.DivRound(pool.Balance, domain.MoneyScale)
	}

	return &domain.PoolMetrics{
		Currency:        currency,
		OutgoingVolume:  outgoing,
		IncomingVolume:  incoming,
		NetFlow:         incoming.Sub(outgoing),
		UtilizationRate: utilization,
	}, nil
}

// inTx runs fn inside one database transaction, rolling back on error.
func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// lockPool loads one pool under FOR UPDATE. Concurrent ledger operations on
// the same pool serialize here.
func lockPool(ctx context.Context, tx *sql.Tx, currency string) (*domain.LiquidityPool, error) {
	var pool domain.LiquidityPool
	err := tx.QueryRowContext(ctx, `
		SELECT currency, balance, reserved_balance, updated_at
		FROM liquidity_pools
		WHERE currency = $1
		FOR UPDATE
	`, currency).Scan(&pool.Currency, &pool.Balance, &pool.ReservedBalance, &pool.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no liquidity pool for %s", domain.ErrNotFound, currency)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock pool %s: %w", currency, err)
	}
	pool.Currency = trimCurrency(pool.Currency)
	return &pool, nil
}

// lockPools locks two pools in ascending currency-code order.
func lockPools(ctx context.Context, tx *sql.Tx, a, b string) (map[string]*domain.LiquidityPool, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	firstPool, err := lockPool(ctx, tx, first)
	if err != nil {
		return nil, err
	}
	secondPool, err := lockPool(ctx, tx, second)
	if err != nil {
		return nil, err
	}

	return map[string]*domain.LiquidityPool{first: firstPool, second: secondPool}, nil
}

func updatePool(ctx context.Context, tx *sql.Tx, currency string, balance, reserved decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE liquidity_pools
		SET balance = $2, reserved_balance = $3, updated_at = NOW()
		WHERE currency = $1
	`, currency, balance, reserved)
	if err != nil {
		return fmt.Errorf("failed to update pool %s: %w", currency, err)
	}
	return nil
}

// trimCurrency strips the CHAR(3) padding Postgres returns.
func trimCurrency(c string) string {
	for len(c) > 0 && c[len(c)-1] == ' ' {
		c = c[:len(c)-1]
	}
	return c
}
