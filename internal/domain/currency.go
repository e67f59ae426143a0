package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Currencies is the ordered set of supported currency codes. Iteration order
// is ascending code order, which keeps multi-pool operations deterministic.
type Currencies []string

// NewCurrencies normalizes codes to upper case, drops duplicates and sorts.
func NewCurrencies(codes []string) Currencies {
	seen := make(map[string]struct{}, len(codes))
	out := make(Currencies, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether code is in the set.
func (cs Currencies) Supported(code string) bool {
	for _, c := range cs {
		if c == code {
			return true
		}
	}
	return false
}

func (cs Currencies) String() string {
	return strings.Join(cs, ", ")
}

// ParsePair splits a "BASE/QUOTE" pair and validates both legs against the
// supported set. Base and quote must be distinct.
func (cs Currencies) ParsePair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: currency pair %q must be formatted as BASE/QUOTE", ErrInvalidInput, pair)
	}
	base, quote = parts[0], parts[1]
	if err := cs.ValidatePair(base, quote); err != nil {
		return "", "", err
	}
	return base, quote, nil
}

// ValidatePair checks that both currencies are supported and distinct.
func (cs Currencies) ValidatePair(base, quote string) error {
	if !cs.Supported(base) || !cs.Supported(quote) {
		return fmt.Errorf("%w: unsupported currency pair %s/%s, supported currencies: %s", ErrInvalidInput, base, quote, cs)
	}
	if base == quote {
		return fmt.Errorf("%w: base and quote currency must differ", ErrInvalidInput)
	}
	return nil
}

// PairKey renders the canonical "BASE/QUOTE" form stored in fx_rates.
func PairKey(base, quote string) string {
	return base + "/" + quote
}
