package domain

import "errors"

// Error kinds surfaced by the core subsystems. Callers match with errors.Is;
// the HTTP boundary maps each kind to a status code.
var (
	// ErrInvalidInput covers malformed or unsupported currencies, malformed
	// rates and non-positive amounts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound covers missing transactions, pools and FX rates.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientLiquidity is returned when a pool's available balance
	// cannot cover a reservation.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInvariantViolation is returned when a balance post-condition would
	// be violated; the enclosing transaction is rolled back.
	ErrInvariantViolation = errors.New("invariant violation")
)
