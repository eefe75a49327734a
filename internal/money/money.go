// Package money holds the exact-decimal rules shared by the ledger, the booking
// coordinator and the revenue report.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places of the smallest currency unit.
const Scale = 2

var (
	// CommissionRate is the fraction of a gross booking amount kept by the platform.
	CommissionRate = decimal.RequireFromString("0.15")

	ErrNotPositive = errors.New("amount must be greater than 0")
	ErrTooPrecise  = fmt.Errorf("amount has more than %d decimal places", Scale)
	ErrUnparseable = errors.New("amount is not a decimal number")
)

// Validate checks that amount is strictly positive and representable in minor units.
func Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNotPositive
	}
	if !amount.Equal(amount.Truncate(Scale)) {
		return ErrTooPrecise
	}
	return nil
}

// Parse reads a decimal amount from its string form and validates it.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Commission returns round-half-up(gross * CommissionRate) at Scale.
// decimal.Round rounds half away from zero, which is half-up for the
// positive amounts the ledger accepts.
func Commission(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(CommissionRate).Round(Scale)
}

// Split divides a gross amount into the payee share and the platform commission.
// net + commission == gross holds exactly for every input.
func Split(gross decimal.Decimal) (net, commission decimal.Decimal) {
	commission = Commission(gross)
	net = gross.Sub(commission)
	return net, commission
}

// Format renders an amount with exactly Scale decimal places.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(Scale)
}
