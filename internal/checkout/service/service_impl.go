package service

import (
	"context"
	"time"

	checkoutdomain "github.com/smallbiznis/roteiro/internal/checkout/domain"
	"github.com/smallbiznis/roteiro/internal/config"
	obslogger "github.com/smallbiznis/roteiro/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/roteiro/internal/observability/metrics"
	stripego "github.com/stripe/stripe-go/v74"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SessionCreator creates hosted checkout sessions on the gateway.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Creator    SessionCreator      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	creator    SessionCreator
	redirects  Redirects
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		log:     p.Log.Named("checkout.service"),
		creator: p.Creator,
		redirects: Redirects{
			SuccessURL: p.Cfg.Checkout.SuccessURL,
			CancelURL:  p.Cfg.Checkout.CancelURL,
		},
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateSession(ctx context.Context, req checkoutdomain.CreateSessionRequest) (checkoutdomain.Session, error) {
	params, err := BuildParams(req, s.redirects)
	if err != nil {
		return checkoutdomain.Session{}, err
	}
	if s.creator == nil {
		return checkoutdomain.Session{}, checkoutdomain.ErrCheckoutNotConfigured
	}

	log := obslogger.WithContext(ctx, s.log)
	session, err := s.creator.CreateCheckoutSession(ctx, params)
	if err != nil {
		log.Error("failed to create checkout session", zap.String("mode", *params.Mode), zap.Error(err))
		return checkoutdomain.Session{}, err
	}

	mode := checkoutdomain.Mode(*params.Mode)
	s.obsMetrics.RecordCheckoutSession(ctx, string(mode))
	log.Info("checkout session created", zap.String("session_id", session.ID), zap.String("mode", string(mode)))

	out := checkoutdomain.Session{
		ID:   session.ID,
		URL:  session.URL,
		Mode: mode,
	}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return out, nil
}
