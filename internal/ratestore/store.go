package ratestore

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

// staleAfter flags rate observations older than this at read time. Stale
// rates are still served; the flag only drives a log warning.
const staleAfter = 300 * time.Second

// Store appends FX rate observations and serves the latest one per pair.
// It is a thin query layer over the indexed fx_rates table; no caching.
type Store struct {
	db         *database.DB
	currencies domain.Currencies
	log        *logger.Logger
}

// New creates a rate store for the supported currency set.
func New(db *database.DB, currencies domain.Currencies, log *logger.Logger) *Store {
	return &Store{db: db, currencies: currencies, log: log}
}

// RecordRate validates and appends one rate observation. The rate arrives as
// a string to preserve decimal precision on the wire.
func (s *Store) RecordRate(ctx context.Context, pair, rate string, timestamp time.Time) (*domain.FxRate, error) {
	base, quote, err := s.currencies.ParsePair(pair)
	if err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed rate %q", domain.ErrInvalidInput, rate)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive", domain.ErrInvalidInput)
	}

	observation := &domain.FxRate{
		CurrencyPair: domain.PairKey(base, quote),
		Rate:         value,
		Timestamp:    timestamp,
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO fx_rates (currency_pair, rate, timestamp)
		VALUES ($1, $2, $3)
		RETURNING id
	`, observation.CurrencyPair, observation.Rate, observation.Timestamp).Scan(&observation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert fx rate: %w", err)
	}

	s.log.Info("Recorded FX rate",
		"pair", observation.CurrencyPair,
		"rate", observation.Rate.String(),
		"timestamp", observation.Timestamp)

	return observation, nil
}

// LatestRate returns the most recent observation for base/quote: highest
// timestamp, ties broken by highest id.
func (s *Store) LatestRate(ctx context.Context, base, quote string) (*domain.FxRate, error) {
	if err := s.currencies.ValidatePair(base, quote); err != nil {
		return nil, err
	}

	pair := domain.PairKey(base, quote)

	var observation domain.FxRate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, currency_pair, rate, timestamp
		FROM fx_rates
		WHERE currency_pair = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, pair).Scan(&observation.ID, &observation.CurrencyPair, &observation.Rate, &observation.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no rate for pair %s", domain.ErrNotFound, pair)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest rate: %w", err)
	}

	if age := time.Since(observation.Timestamp); age > staleAfter {
		s.log.Warn("Serving stale FX rate",
			"pair", pair,
			"age_seconds", int(age.Seconds()),
			"observed_at", observation.Timestamp)
	}

	return &observation, nil
}
