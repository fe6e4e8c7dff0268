package checkout

import (
	checkoutservice "github.com/smallbiznis/roteiro/internal/checkout/service"
	"github.com/smallbiznis/roteiro/internal/payment/adapters/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(func(c *stripe.Client) checkoutservice.SessionCreator {
		if c == nil {
			return nil
		}
		return c
	}),
	fx.Provide(checkoutservice.NewService),
)
