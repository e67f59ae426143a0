package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/nrbontha/spherepay/internal/database"
	"github.com/nrbontha/spherepay/internal/domain"
	"github.com/nrbontha/spherepay/pkg/logger"
)

var (
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sphere_transfers_total",
			Help: "Total number of transfer requests by outcome",
		},
		[]string{"outcome"},
	)

	settlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sphere_settlements_total",
			Help: "Total number of settlement attempts by result",
		},
		[]string{"result"},
	)
)

// RateSource supplies the latest FX observation for a pair.
type RateSource interface {
	LatestRate(ctx context.Context, base, quote string) (*domain.FxRate, error)
}

// PoolLedger is the slice of the liquidity ledger the engine drives during
// settlement.
type PoolLedger interface {
	ReserveFunds(ctx context.Context, currency string, amount decimal.Decimal) error
	ReleaseReservation(ctx context.Context, currency string, amount decimal.Decimal) error
	SettleTransaction(ctx context.Context, sourceCurrency, targetCurrency string, sourceAmount, targetAmount decimal.Decimal) error
}

// Config carries the engine's pricing and timing knobs.
type Config struct {
	Currencies      domain.Currencies
	MarginRate      decimal.Decimal
	SettlementTimes map[string]int
}

// Engine drives the transaction lifecycle: quote, persist, reserve, delay,
// settle. Settlement runs on independently scheduled workers that share no
// in-memory state with the request path.
type Engine struct {
	db     *database.DB
	rates  RateSource
	ledger PoolLedger
	cfg    Config
	log    *logger.Logger

	// dispatch hands a committed transaction id to the settlement
	// scheduler. The default spawns one worker goroutine per transaction;
	// tests substitute their own.
	dispatch func(id int64)
}

// New creates an engine with the default goroutine settlement scheduler.
func New(db *database.DB, rates RateSource, poolLedger PoolLedger, cfg Config, log *logger.Logger) *Engine {
	e := &Engine{
		db:     db,
		rates:  rates,
		ledger: poolLedger,
		cfg:    cfg,
		log:    log,
	}
	e.dispatch = func(id int64) {
		// The worker owns its own context: the HTTP request that created
		// the transaction has already been answered.
		go e.Settle(context.Background(), id)
	}
	return e
}

// SetDispatcher overrides the settlement scheduler.
func (e *Engine) SetDispatcher(dispatch func(id int64)) {
	e.dispatch = dispatch
}

// CreateRequest is a transfer request as received from the boundary. The
// amount is a string to preserve decimal precision.
type CreateRequest struct {
	SourceCurrency string
	TargetCurrency string
	SourceAmount   string
}

// CreateTransaction quotes the request against the latest stored rate,
// persists it as PENDING and schedules asynchronous settlement. The caller
// gets the PENDING record; settlement outcomes surface through
// GetTransaction.
func (e *Engine) CreateTransaction(ctx context.Context, req CreateRequest) (*domain.Transaction, error) {
	if err := e.cfg.Currencies.ValidatePair(req.SourceCurrency, req.TargetCurrency); err != nil {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	sourceAmount, err := decimal.NewFromString(req.SourceAmount)
	if err != nil {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: malformed amount %q", domain.ErrInvalidInput, req.SourceAmount)
	}
	if sourceAmount.Sign() <= 0 {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}

	rate, err := e.rates.LatestRate(ctx, req.SourceCurrency, req.TargetCurrency)
	if err != nil {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	quote := domain.ComputeQuote(sourceAmount, rate.Rate, e.cfg.MarginRate)

	txn := &domain.Transaction{
		SourceCurrency: req.SourceCurrency,
		TargetCurrency: req.TargetCurrency,
		SourceAmount:   sourceAmount,
		TargetAmount:   quote.TargetAmount,
		FxRate:         rate.Rate,
		Margin:         e.cfg.MarginRate,
		Revenue:        quote.MarginAmount,
		Status:         domain.StatusPending,
	}

	if err := e.insertTransaction(ctx, txn); err != nil {
		transfersTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	e.log.Info("Created transaction",
		"id", txn.ID,
		"source", txn.SourceCurrency,
		"target", txn.TargetCurrency,
		"source_amount", txn.SourceAmount.String(),
		"target_amount", txn.TargetAmount.String(),
		"fx_rate", txn.FxRate.String())

	transfersTotal.WithLabelValues("accepted").Inc()
	e.dispatch(txn.ID)

	return txn, nil
}

// GetTransaction looks up one transaction by id.
func (e *Engine) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return e.getTransaction(ctx, id)
}

// RecoverOrphans surveys transactions left in PROCESSING by a previous crash.
// They are reported for operator action only: re-reserving here could double
// a hold that the dead worker already placed.
func (e *Engine) RecoverOrphans(ctx context.Context) error {
	ids, err := e.listByStatus(ctx, domain.StatusProcessing)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		e.log.Warn("Found transactions stuck in PROCESSING, leaving for operator review", "count", len(ids), "ids", ids)
	}
	return nil
}

// settlementDelay is the simulated rail delay for one transfer.
func (e *Engine) settlementDelay(txn *domain.Transaction) time.Duration {
	return time.Duration(e.cfg.SettlementTimes[txn.SourceCurrency]+e.cfg.SettlementTimes[txn.TargetCurrency]) * time.Second
}
