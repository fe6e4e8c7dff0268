package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/roteiro/internal/authorization"
	"github.com/smallbiznis/roteiro/internal/checkout"
	checkoutdomain "github.com/smallbiznis/roteiro/internal/checkout/domain"
	"github.com/smallbiznis/roteiro/internal/config"
	"github.com/smallbiznis/roteiro/internal/ledger"
	ledgerdomain "github.com/smallbiznis/roteiro/internal/ledger/domain"
	"github.com/smallbiznis/roteiro/internal/lock"
	"github.com/smallbiznis/roteiro/internal/observability"
	obsmiddleware "github.com/smallbiznis/roteiro/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/roteiro/internal/observability/metrics"
	obstracing "github.com/smallbiznis/roteiro/internal/observability/tracing"
	"github.com/smallbiznis/roteiro/internal/payment"
	paymentdomain "github.com/smallbiznis/roteiro/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	lock.Module,
	authorization.Module,
	ledger.Module,
	payment.Module,
	checkout.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	paymentSvc  paymentdomain.Service
	checkoutSvc checkoutdomain.Service
	ledgerSvc   ledgerdomain.Service
	authzSvc    authorization.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	PaymentSvc  paymentdomain.Service
	CheckoutSvc checkoutdomain.Service
	LedgerSvc   ledgerdomain.Service
	AuthzSvc    authorization.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		paymentSvc:  p.PaymentSvc,
		checkoutSvc: p.CheckoutSvc,
		ledgerSvc:   p.LedgerSvc,
		authzSvc:    p.AuthzSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.UserRequired())
	{
		api.POST("/checkout/sessions", s.CreateCheckoutSession)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.UserRequired())
	{
		admin.POST("/commissions/reconcile",
			s.authorizeAction(authorization.ObjectCommission, authorization.ActionCommissionReconcile),
			s.ReconcileCommissions,
		)
		admin.GET("/payment-events",
			s.authorizeAction(authorization.ObjectPaymentEvent, authorization.ActionPaymentEventView),
			s.ListPaymentEvents,
		)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
