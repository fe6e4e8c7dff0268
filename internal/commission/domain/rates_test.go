package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatesForFallsBackToDefault(t *testing.T) {
	table := DefaultRateTable()

	assert.True(t, table.RatesFor(ProductTypeTour).Direct.Equal(decimal.NewFromInt(15)))
	assert.True(t, table.RatesFor("Tour ").Direct.Equal(decimal.NewFromInt(15)))

	fallback := table.RatesFor("cruise")
	assert.True(t, fallback.Default.Equal(decimal.NewFromInt(10)))
	assert.True(t, fallback.Direct.Equal(decimal.NewFromInt(10)))
	assert.True(t, fallback.Indirect.Equal(decimal.NewFromInt(5)))

	empty := table.RatesFor("")
	assert.True(t, empty.Direct.Equal(decimal.NewFromInt(10)))
}

func TestSubscriptionTierAboveSaleTiers(t *testing.T) {
	table := DefaultRateTable()
	subscription, err := table.Rate(ProductTypeSubscription, AttributionDirect)
	require.NoError(t, err)

	for _, productType := range table.ProductTypes() {
		if productType == ProductTypeSubscription {
			continue
		}
		rate, err := table.Rate(productType, AttributionDirect)
		require.NoError(t, err)
		assert.Truef(t, subscription.GreaterThan(rate), "subscription tier should exceed %s", productType)
	}
}

func TestPlatformFeeIsGlobal(t *testing.T) {
	table := DefaultRateTable()
	assert.Equal(t, "2.9", table.PlatformFeePercent().String())
}

func TestRateRejectsUnknownAttribution(t *testing.T) {
	_, err := DefaultRateTable().Rate(ProductTypeTour, Attribution("upline"))
	assert.True(t, errors.Is(err, ErrInvalidAttribution))
}

func TestNewRateTableValidates(t *testing.T) {
	_, err := NewRateTable(decimal.NewFromInt(-1), NewRates(10, 10, 5), nil)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewRateTable(decimal.NewFromFloat(2.9), NewRates(10, 101, 5), nil)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewRateTable(decimal.NewFromFloat(2.9), NewRates(10, 10, 5), map[ProductType]Rates{
		"": NewRates(1, 1, 1),
	})
	assert.ErrorIs(t, err, ErrInvalidProductType)
}

func TestNewRateTableCopiesInput(t *testing.T) {
	byType := map[ProductType]Rates{ProductTypeTour: NewRates(10, 15, 5)}
	table, err := NewRateTable(decimal.NewFromFloat(2.9), NewRates(10, 10, 5), byType)
	require.NoError(t, err)

	byType[ProductTypeTour] = NewRates(50, 50, 50)
	assert.True(t, table.RatesFor(ProductTypeTour).Direct.Equal(decimal.NewFromInt(15)))
}
