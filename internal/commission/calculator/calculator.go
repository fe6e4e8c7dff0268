package calculator

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/roteiro/internal/commission/domain"
)

// Amounts are kept at currency minor-unit precision.
const minorUnitPlaces = 2

// Commission is the affiliate payable computed for a gross amount.
type Commission struct {
	Amount decimal.Decimal
	// Rate is the percentage applied (30 means 30%).
	Rate decimal.Decimal
}

// Split is the full breakdown of a gross amount.
type Split struct {
	Gross      decimal.Decimal
	Fee        decimal.Decimal
	Net        decimal.Decimal
	Commission *Commission
}

// Calculator computes fees, net amounts and commissions. It performs no I/O.
type Calculator struct {
	table domain.RateTable
}

func New(table domain.RateTable) *Calculator {
	return &Calculator{table: table}
}

// AmountFromMinorUnits converts gateway minor units (cents) into an amount.
func AmountFromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -minorUnitPlaces)
}

// AmountFromFloat converts a float amount, rejecting NaN and infinities.
func AmountFromFloat(amount float64) (decimal.Decimal, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	return decimal.NewFromFloat(amount), nil
}

// ComputeFee returns gross × platform fee rate, rounded half-up to 2 places.
func (c *Calculator) ComputeFee(gross decimal.Decimal) (decimal.Decimal, error) {
	if err := validateGross(gross); err != nil {
		return decimal.Zero, err
	}
	return applyPercent(gross, c.table.PlatformFeePercent()), nil
}

// ComputeNet returns gross - fee. The result is never rounded again so that
// net + fee always equals gross.
func (c *Calculator) ComputeNet(gross, fee decimal.Decimal) (decimal.Decimal, error) {
	if err := validateGross(gross); err != nil {
		return decimal.Zero, err
	}
	if fee.IsNegative() || fee.GreaterThan(gross) {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	return gross.Sub(fee), nil
}

// ComputeCommission returns gross × rate(productType, attribution) and the rate used.
func (c *Calculator) ComputeCommission(gross decimal.Decimal, productType domain.ProductType, attribution domain.Attribution) (Commission, error) {
	if err := validateGross(gross); err != nil {
		return Commission{}, err
	}
	rate, err := c.table.Rate(productType, attribution)
	if err != nil {
		return Commission{}, err
	}
	return Commission{
		Amount: applyPercent(gross, rate),
		Rate:   rate,
	}, nil
}

// Split computes fee and net, plus the commission when withCommission is set.
func (c *Calculator) Split(gross decimal.Decimal, productType domain.ProductType, attribution domain.Attribution, withCommission bool) (Split, error) {
	fee, err := c.ComputeFee(gross)
	if err != nil {
		return Split{}, err
	}
	net, err := c.ComputeNet(gross, fee)
	if err != nil {
		return Split{}, err
	}

	split := Split{Gross: gross, Fee: fee, Net: net}
	if !withCommission {
		return split, nil
	}

	commission, err := c.ComputeCommission(gross, productType, attribution)
	if err != nil {
		return Split{}, err
	}
	split.Commission = &commission
	return split, nil
}

func applyPercent(gross, percent decimal.Decimal) decimal.Decimal {
	// Shift(-2) divides by 100 exactly; rounding happens once, here.
	return gross.Mul(percent).Shift(-2).Round(minorUnitPlaces)
}

func validateGross(gross decimal.Decimal) error {
	if gross.IsNegative() {
		return domain.ErrInvalidAmount
	}
	return nil
}
