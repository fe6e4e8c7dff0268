package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/roteiro/internal/commission/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RateConfig is one commission tier as written in commission.yml.
type RateConfig struct {
	Default  float64 `mapstructure:"default"`
	Direct   float64 `mapstructure:"direct"`
	Indirect float64 `mapstructure:"indirect"`
}

type CommissionConfig struct {
	PlatformFeePercent float64               `mapstructure:"platformFeePercent"`
	Default            RateConfig            `mapstructure:"default"`
	ProductTypes       map[string]RateConfig `mapstructure:"productTypes"`
}

func DefaultCommissionConfig() CommissionConfig {
	productTypes := map[string]RateConfig{}
	for productType, rates := range commissiondomain.DefaultProductRates() {
		productTypes[string(productType)] = RateConfig{
			Default:  rates.Default.InexactFloat64(),
			Direct:   rates.Direct.InexactFloat64(),
			Indirect: rates.Indirect.InexactFloat64(),
		}
	}
	return CommissionConfig{
		PlatformFeePercent: commissiondomain.DefaultPlatformFeePercent,
		Default:            RateConfig{Default: 10, Direct: 10, Indirect: 5},
		ProductTypes:       productTypes,
	}
}

// RateTable converts the file representation into an immutable table.
func (c CommissionConfig) RateTable() (commissiondomain.RateTable, error) {
	byType := make(map[commissiondomain.ProductType]commissiondomain.Rates, len(c.ProductTypes))
	for name, rates := range c.ProductTypes {
		byType[commissiondomain.ParseProductType(name)] = rates.toRates()
	}
	return commissiondomain.NewRateTable(
		decimal.NewFromFloat(c.PlatformFeePercent),
		c.Default.toRates(),
		byType,
	)
}

func (r RateConfig) toRates() commissiondomain.Rates {
	return commissiondomain.NewRates(r.Default, r.Direct, r.Indirect)
}

// CommissionConfigHolder serves the current rate table snapshot. Every
// reload swaps in a new immutable table, readers never lock.
type CommissionConfigHolder struct {
	current atomic.Value // holds commissiondomain.RateTable
}

var defaultCommissionConfigPaths = []string{
	"/var/lib/roteiro/config", // Volume-mounted config
	"/etc/roteiro",            // System config
	".",                       // Current directory (dev mode)
}

func NewCommissionConfigHolder(log *zap.Logger) (*CommissionConfigHolder, error) {
	return newCommissionConfigHolder(log, defaultCommissionConfigPaths...)
}

func newCommissionConfigHolder(log *zap.Logger, paths ...string) (*CommissionConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("commission.config")

	v := viper.New()
	v.SetConfigName("commission")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("ROTEIRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCommissionConfig()
	v.SetDefault("commission.platformFeePercent", defaults.PlatformFeePercent)
	v.SetDefault("commission.default.default", defaults.Default.Default)
	v.SetDefault("commission.default.direct", defaults.Default.Direct)
	v.SetDefault("commission.default.indirect", defaults.Default.Indirect)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		v.SetDefault("commission.productTypes", defaults.ProductTypes)
	}

	table, err := loadRateTable(v)
	if err != nil {
		return nil, err
	}

	holder := &CommissionConfigHolder{}
	holder.current.Store(table)

	if !fileFound {
		log.Info("commission config file not found, using built-in rates")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := loadRateTable(v)
		if err != nil {
			log.Error("invalid commission config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("commission config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// Current returns the rate table in effect.
func (h *CommissionConfigHolder) Current() commissiondomain.RateTable {
	return h.current.Load().(commissiondomain.RateTable)
}

func loadRateTable(v *viper.Viper) (commissiondomain.RateTable, error) {
	var cfg CommissionConfig
	if err := v.UnmarshalKey("commission", &cfg); err != nil {
		return commissiondomain.RateTable{}, err
	}
	if err := validateCommissionConfig(cfg); err != nil {
		return commissiondomain.RateTable{}, err
	}
	return cfg.RateTable()
}

func validateCommissionConfig(cfg CommissionConfig) error {
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent >= 100 {
		return fmt.Errorf("commission.platformFeePercent out of range: %v", cfg.PlatformFeePercent)
	}
	for name := range cfg.ProductTypes {
		if strings.TrimSpace(name) == "" {
			return errors.New("commission.productTypes cannot contain an empty key")
		}
	}
	return nil
}
