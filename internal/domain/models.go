package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus tracks a transfer through its lifecycle. Transitions are
// strictly PENDING -> PROCESSING -> COMPLETED, with FAILED reachable from
// PENDING and PROCESSING. COMPLETED and FAILED are terminal.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
)

// CanTransitionTo reports whether the state machine permits moving to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// LiquidityPool is a per-currency fund pool. One row exists per supported
// currency; rows are created at init and never deleted.
type LiquidityPool struct {
	Currency        string
	Balance         decimal.Decimal
	ReservedBalance decimal.Decimal
	UpdatedAt       time.Time
}

// Available is the balance not held against pending transactions.
func (p LiquidityPool) Available() decimal.Decimal {
	return p.Balance.Sub(p.ReservedBalance)
}

// FxRate is one observation in the append-only rate log. Rate is quoted as
// units of quote currency per one unit of base currency.
type FxRate struct {
	ID           int64
	CurrencyPair string
	Rate         decimal.Decimal
	Timestamp    time.Time
}

// Transaction is a cross-currency transfer.
type Transaction struct {
	ID             int64
	SourceCurrency string
	TargetCurrency string
	SourceAmount   decimal.Decimal
	TargetAmount   decimal.Decimal
	FxRate         decimal.Decimal
	Margin         decimal.Decimal
	Revenue        decimal.Decimal
	Status         TransactionStatus
	CreatedAt      time.Time
	SettledAt      *time.Time
}

// PoolMetrics summarizes one pool's flow over a trailing window.
type PoolMetrics struct {
	Currency        string
	OutgoingVolume  decimal.Decimal
	IncomingVolume  decimal.Decimal
	NetFlow         decimal.Decimal
	UtilizationRate decimal.Decimal
}
