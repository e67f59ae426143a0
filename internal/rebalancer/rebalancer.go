package rebalancer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/nrbontha/spherepay/internal/domain"
	"github.com/nrbontha/spherepay/pkg/logger"
)

var rebalancesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sphere_rebalances_total",
	Help: "Total number of internal pool rebalance transfers executed",
})

// PoolLedger is the slice of the liquidity ledger the rebalancer drives.
type PoolLedger interface {
	ListPools(ctx context.Context) ([]domain.LiquidityPool, error)
	PoolMetrics(ctx context.Context, currency string, window time.Duration) (*domain.PoolMetrics, error)
	InternalRebalance(ctx context.Context, fromCurrency, toCurrency string, amount decimal.Decimal) error
}

// RateSource supplies the latest FX observation for a pair.
type RateSource interface {
	LatestRate(ctx context.Context, base, quote string) (*domain.FxRate, error)
}

// Config carries the rebalancer thresholds.
type Config struct {
	HighUtilization  decimal.Decimal
	LowUtilization   decimal.Decimal
	BufferMultiplier decimal.Decimal
	Interval         time.Duration
	MetricsWindow    time.Duration
}

// Rebalancer periodically measures pool utilization and net flow and moves
// liquidity from underutilized pools into outflow-heavy ones via margin-free
// internal transfers.
type Rebalancer struct {
	pools PoolLedger
	rates RateSource
	cfg   Config
	log   *logger.Logger
}

// New creates a rebalancer.
func New(pools PoolLedger, rates RateSource, cfg Config, log *logger.Logger) *Rebalancer {
	return &Rebalancer{pools: pools, rates: rates, cfg: cfg, log: log}
}

// Run executes cycles on the configured interval until ctx is canceled.
// Cancellation is observed only at the sleep boundary; an in-flight cycle
// always finishes.
func (r *Rebalancer) Run(ctx context.Context) {
	r.log.Info("Starting pool rebalancer", "interval", r.cfg.Interval.String())

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Pool rebalancer stopped")
			return
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil {
				r.log.Error("Rebalance cycle failed", "error", err)
			}
		}
	}
}

// RunCycle performs one pass over all pools in ascending currency-code order.
// A single pool's failure is logged and the pass continues.
func (r *Rebalancer) RunCycle(ctx context.Context) error {
	pools, err := r.pools.ListPools(ctx)
	if err != nil {
		return err
	}

	balances := make(map[string]decimal.Decimal, len(pools))
	metrics := make(map[string]*domain.PoolMetrics, len(pools))
	for _, pool := range pools {
		m, err := r.pools.PoolMetrics(ctx, pool.Currency, r.cfg.MetricsWindow)
		if err != nil {
			r.log.Warn("Failed to compute pool metrics", "currency", pool.Currency, "error", err)
			continue
		}
		balances[pool.Currency] = pool.Balance
		metrics[pool.Currency] = m
	}

	// ListPools returns ascending currency order, which makes both the
	// deficit scan and the donor scan deterministic.
	for _, pool := range pools {
		deficit := metrics[pool.Currency]
		if deficit == nil {
			continue
		}
		if !r.isDeficit(deficit) {
			continue
		}

		donor := r.findDonor(pools, metrics, pool.Currency)
		if donor == "" {
			r.log.Debug("No donor pool available", "currency", pool.Currency)
			continue
		}

		transfer, err := r.planTransfer(ctx, deficit, donor, balances[donor])
		if err != nil {
			r.log.Warn("Failed to plan rebalance",
				"currency", pool.Currency,
				"donor", donor,
				"error", err)
			continue
		}
		if transfer.Sign() <= 0 {
			continue
		}

		if err := r.pools.InternalRebalance(ctx, donor, pool.Currency, transfer); err != nil {
			r.log.Warn("Rebalance transfer failed",
				"from", donor,
				"to", pool.Currency,
				"amount", transfer.String(),
				"error", err)
			continue
		}
		rebalancesTotal.Inc()
	}

	return nil
}

// isDeficit marks pools that are either running hot or bleeding funds.
func (r *Rebalancer) isDeficit(m *domain.PoolMetrics) bool {
	return m.UtilizationRate.GreaterThan(r.cfg.HighUtilization) || m.NetFlow.IsNegative()
}

// findDonor returns the first pool, in ascending currency order, whose
// utilization sits below the low-water mark.
func (r *Rebalancer) findDonor(pools []domain.LiquidityPool, metrics map[string]*domain.PoolMetrics, deficitCurrency string) string {
	for _, pool := range pools {
		if pool.Currency == deficitCurrency {
			continue
		}
		m := metrics[pool.Currency]
		if m == nil {
			continue
		}
		if m.UtilizationRate.LessThan(r.cfg.LowUtilization) {
			return pool.Currency
		}
	}
	return ""
}

// planTransfer sizes the transfer in donor-currency units: the deficit's
// absolute net flow, padded by the buffer multiplier, converted at the
// deficit-to-donor rate, and capped at half the donor's balance.
func (r *Rebalancer) planTransfer(ctx context.Context, deficit *domain.PoolMetrics, donor string, donorBalance decimal.Decimal) (decimal.Decimal, error) {
	targetRequired := domain.Round6(deficit.NetFlow.Abs().Mul(r.cfg.BufferMultiplier))

	rate, err := r.rates.LatestRate(ctx, deficit.Currency, donor)
	if err != nil {
		return decimal.Zero, err
	}
	sourceRequired := domain.Round6(targetRequired.Mul(rate.Rate))

	cap := domain.Round6(donorBalance.Mul(decimal.NewFromFloat(0.5)))
	if sourceRequired.GreaterThan(cap) {
		return cap, nil
	}
	return sourceRequired, nil
}
