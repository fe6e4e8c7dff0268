package payment

import (
	"github.com/smallbiznis/roteiro/internal/config"
	"github.com/smallbiznis/roteiro/internal/lock"
	"github.com/smallbiznis/roteiro/internal/payment/adapters"
	"github.com/smallbiznis/roteiro/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/roteiro/internal/payment/domain"
	"github.com/smallbiznis/roteiro/internal/payment/repository"
	"github.com/smallbiznis/roteiro/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(func(cfg config.Config) *stripe.Client {
		return stripe.NewClient(cfg.Stripe.SecretKey)
	}),
	fx.Provide(func(c *stripe.Client) paymentdomain.SubscriptionFetcher {
		if c == nil {
			return nil
		}
		return c
	}),
	fx.Provide(func(l *lock.EventLock) webhook.EventLocker { return l }),
	fx.Provide(webhook.NewService),
)
