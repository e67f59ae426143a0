package domain

import "github.com/shopspring/decimal"

// MoneyScale is the fixed-point scale used on the entire money path. All
// multiplications round half-even to this scale.
const MoneyScale = 6

// Round6 rounds half-even to the money scale.
func Round6(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// Quote is the result of pricing a source amount against a rate snapshot.
type Quote struct {
	// TargetAmount is what the beneficiary receives, net of margin.
	TargetAmount decimal.Decimal
	// MarginAmount is the revenue retained, in target currency units.
	MarginAmount decimal.Decimal
}

// ComputeQuote converts sourceAmount at rate and deducts the margin.
// Each multiplication is rounded before the next step so the stored amounts
// always carry exactly MoneyScale fractional digits.
func ComputeQuote(sourceAmount, rate, marginRate decimal.Decimal) Quote {
	baseTarget := Round6(sourceAmount.Mul(rate))
	margin := Round6(baseTarget.Mul(marginRate))
	return Quote{
		TargetAmount: baseTarget.Sub(margin),
		MarginAmount: margin,
	}
}
