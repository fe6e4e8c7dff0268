package config

import (
	commissiondomain "github.com/smallbiznis/roteiro/internal/commission/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCommissionConfigHolder),
	fx.Provide(func(h *CommissionConfigHolder) commissiondomain.RateSource { return h }),
)
