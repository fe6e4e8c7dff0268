package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ProductType identifies the catalog family a sale belongs to.
type ProductType string

const (
	ProductTypeTour          ProductType = "tour"
	ProductTypeAccommodation ProductType = "accommodation"
	ProductTypeTransfer      ProductType = "transfer"
	ProductTypePackage       ProductType = "package"
	ProductTypeExperience    ProductType = "experience"
	ProductTypeSubscription  ProductType = "subscription"
)

// ParseProductType normalizes a raw product type. Unknown values are kept
// as-is so that rate lookups fall back to the default tier.
func ParseProductType(raw string) ProductType {
	return ProductType(strings.ToLower(strings.TrimSpace(raw)))
}

// Attribution tells how an affiliate is credited for an event.
type Attribution string

const (
	AttributionDefault  Attribution = "default"
	AttributionDirect   Attribution = "direct"
	AttributionIndirect Attribution = "indirect"
)

// Rates holds commission percentages per attribution mode (30 means 30%).
type Rates struct {
	Default  decimal.Decimal
	Direct   decimal.Decimal
	Indirect decimal.Decimal
}

// NewRates builds Rates from float percentages.
func NewRates(defaultRate, direct, indirect float64) Rates {
	return Rates{
		Default:  decimal.NewFromFloat(defaultRate),
		Direct:   decimal.NewFromFloat(direct),
		Indirect: decimal.NewFromFloat(indirect),
	}
}

// For returns the percentage for the given attribution mode.
func (r Rates) For(attribution Attribution) (decimal.Decimal, error) {
	switch attribution {
	case AttributionDefault:
		return r.Default, nil
	case AttributionDirect:
		return r.Direct, nil
	case AttributionIndirect:
		return r.Indirect, nil
	default:
		return decimal.Zero, ErrInvalidAttribution
	}
}

func (r Rates) validate() error {
	for _, value := range []decimal.Decimal{r.Default, r.Direct, r.Indirect} {
		if !validPercent(value) {
			return fmt.Errorf("%w: %s", ErrInvalidRate, value.String())
		}
	}
	return nil
}

// RateTable is an immutable lookup of commission rates by product type plus
// the platform fee charged on every payment. Safe for concurrent use.
type RateTable struct {
	platformFee decimal.Decimal
	defaults    Rates
	byType      map[ProductType]Rates
}

// NewRateTable validates and copies its inputs.
func NewRateTable(platformFeePercent decimal.Decimal, defaults Rates, byType map[ProductType]Rates) (RateTable, error) {
	if !validPercent(platformFeePercent) {
		return RateTable{}, fmt.Errorf("%w: platform fee %s", ErrInvalidRate, platformFeePercent.String())
	}
	if err := defaults.validate(); err != nil {
		return RateTable{}, err
	}

	copied := make(map[ProductType]Rates, len(byType))
	for productType, rates := range byType {
		key := ParseProductType(string(productType))
		if key == "" {
			return RateTable{}, ErrInvalidProductType
		}
		if err := rates.validate(); err != nil {
			return RateTable{}, fmt.Errorf("%s: %w", key, err)
		}
		copied[key] = rates
	}

	return RateTable{
		platformFee: platformFeePercent,
		defaults:    defaults,
		byType:      copied,
	}, nil
}

// DefaultPlatformFeePercent is the gateway fee retained on each payment.
const DefaultPlatformFeePercent = 2.9

// DefaultRateTable returns the built-in marketplace rates.
func DefaultRateTable() RateTable {
	table, err := NewRateTable(
		decimal.NewFromFloat(DefaultPlatformFeePercent),
		NewRates(10, 10, 5),
		DefaultProductRates(),
	)
	if err != nil {
		panic(err)
	}
	return table
}

// DefaultProductRates returns the built-in per product type tiers.
func DefaultProductRates() map[ProductType]Rates {
	return map[ProductType]Rates{
		ProductTypeTour:          NewRates(10, 15, 5),
		ProductTypeAccommodation: NewRates(8, 12, 4),
		ProductTypeTransfer:      NewRates(8, 10, 3),
		ProductTypePackage:       NewRates(12, 18, 6),
		ProductTypeExperience:    NewRates(10, 15, 5),
		ProductTypeSubscription:  NewRates(20, 30, 10),
	}
}

// PlatformFeePercent returns the flat fee percentage, regardless of product type.
func (t RateTable) PlatformFeePercent() decimal.Decimal {
	return t.platformFee
}

// RatesFor returns the tier for productType, or the global default.
func (t RateTable) RatesFor(productType ProductType) Rates {
	if rates, ok := t.byType[ParseProductType(string(productType))]; ok {
		return rates
	}
	return t.defaults
}

// Rate returns the percentage applied for productType under attribution.
func (t RateTable) Rate(productType ProductType, attribution Attribution) (decimal.Decimal, error) {
	return t.RatesFor(productType).For(attribution)
}

// ProductTypes lists the product types with a dedicated tier.
func (t RateTable) ProductTypes() []ProductType {
	out := make([]ProductType, 0, len(t.byType))
	for productType := range t.byType {
		out = append(out, productType)
	}
	return out
}

// RateSource hands out the rate table snapshot in effect.
type RateSource interface {
	Current() RateTable
}

// StaticRates is a RateSource that never changes.
type StaticRates struct {
	Table RateTable
}

func (s StaticRates) Current() RateTable {
	return s.Table
}

var hundred = decimal.NewFromInt(100)

func validPercent(value decimal.Decimal) bool {
	return !value.IsNegative() && value.LessThanOrEqual(hundred)
}
