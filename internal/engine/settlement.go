package engine

import (
	"context"
	"errors"
	"time"

	"github.com/nrbontha/spherepay/internal/domain"
)

// Settle runs one transaction's settlement to a terminal state:
//
//	PENDING --reserve ok--> PROCESSING --settle ok--> COMPLETED
//	    |                        |
//	    +--reserve fail--------> +--settle fail-----> FAILED
//
// The reservation always precedes the delay and settlement always follows
// it; status writes are committed before each externally visible step. The
// worker holds no database connection across the delay: each store and
// ledger call acquires its own from the pool.
func (e *Engine) Settle(ctx context.Context, id int64) {
	txn, err := e.getTransaction(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.log.Error("Settlement worker failed to load transaction", "id", id, "error", err)
		}
		return
	}
	if txn.Status != domain.StatusPending {
		e.log.Warn("Settlement worker found transaction already dispatched", "id", id, "status", txn.Status)
		return
	}

	if err := e.ledger.ReserveFunds(ctx, txn.TargetCurrency, txn.TargetAmount); err != nil {
		e.log.Warn("Reservation failed, failing transaction",
			"id", id,
			"target", txn.TargetCurrency,
			"target_amount", txn.TargetAmount.String(),
			"error", err)
		e.fail(ctx, id)
		settlementsTotal.WithLabelValues("reserve_failed").Inc()
		return
	}

	if err := e.markStatus(ctx, id, domain.StatusProcessing, domain.StatusPending); err != nil {
		// Another actor already moved the transaction; give the hold back.
		e.log.Error("Failed to mark transaction PROCESSING", "id", id, "error", err)
		if relErr := e.ledger.ReleaseReservation(ctx, txn.TargetCurrency, txn.TargetAmount); relErr != nil {
			e.log.Error("Failed to release reservation", "id", id, "error", relErr)
		}
		settlementsTotal.WithLabelValues("error").Inc()
		return
	}

	// Simulated settlement rail delay. Not cancelable: once funds are
	// reserved the transfer must reach a terminal state.
	time.Sleep(e.settlementDelay(txn))

	if err := e.ledger.SettleTransaction(ctx, txn.SourceCurrency, txn.TargetCurrency, txn.SourceAmount, txn.TargetAmount); err != nil {
		e.log.Error("Settlement failed, failing transaction", "id", id, "error", err)
		if relErr := e.ledger.ReleaseReservation(ctx, txn.TargetCurrency, txn.TargetAmount); relErr != nil {
			e.log.Error("Failed to release reservation after settlement failure", "id", id, "error", relErr)
		}
		e.fail(ctx, id)
		settlementsTotal.WithLabelValues("settle_failed").Inc()
		return
	}

	if err := e.markCompleted(ctx, id, time.Now().UTC()); err != nil {
		e.log.Error("Failed to mark transaction COMPLETED", "id", id, "error", err)
		settlementsTotal.WithLabelValues("error").Inc()
		return
	}

	e.log.Info("Transaction settled", "id", id)
	settlementsTotal.WithLabelValues("completed").Inc()
}

func (e *Engine) fail(ctx context.Context, id int64) {
	if err := e.markStatus(ctx, id, domain.StatusFailed, domain.StatusPending, domain.StatusProcessing); err != nil {
		e.log.Error("Failed to mark transaction FAILED", "id", id, "error", err)
	}
}
