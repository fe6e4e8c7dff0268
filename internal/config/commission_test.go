package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/roteiro/internal/commission/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCommissionHolderDefaultsWithoutFile(t *testing.T) {
	holder, err := newCommissionConfigHolder(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	table := holder.Current()
	assert.True(t, table.PlatformFeePercent().Equal(decimal.NewFromFloat(2.9)))

	rate, err := table.Rate(commissiondomain.ProductTypeSubscription, commissiondomain.AttributionDirect)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(30)))
}

func TestCommissionHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`commission:
  platformFeePercent: 3.5
  default:
    default: 7
    direct: 9
    indirect: 2
  productTypes:
    tour:
      default: 11
      direct: 16
      indirect: 4
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "commission.yml"), content, 0o600))

	holder, err := newCommissionConfigHolder(zap.NewNop(), dir)
	require.NoError(t, err)

	table := holder.Current()
	assert.True(t, table.PlatformFeePercent().Equal(decimal.NewFromFloat(3.5)))
	assert.True(t, table.RatesFor(commissiondomain.ProductTypeTour).Direct.Equal(decimal.NewFromInt(16)))
	assert.True(t, table.RatesFor(commissiondomain.ProductTypePackage).Direct.Equal(decimal.NewFromInt(9)))
}

func TestCommissionHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`commission:
  platformFeePercent: 150
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "commission.yml"), content, 0o600))

	_, err := newCommissionConfigHolder(zap.NewNop(), dir)
	assert.Error(t, err)
}

func TestDefaultCommissionConfigMatchesBuiltInTable(t *testing.T) {
	table, err := DefaultCommissionConfig().RateTable()
	require.NoError(t, err)

	builtIn := commissiondomain.DefaultRateTable()
	for _, productType := range builtIn.ProductTypes() {
		want := builtIn.RatesFor(productType)
		got := table.RatesFor(productType)
		assert.Truef(t, want.Direct.Equal(got.Direct), "direct rate mismatch for %s", productType)
	}
}
