// Package server exposes the HTTP API: accounts, generations, billing
// webhooks, referrals and subscription reads.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	billingdomain "github.com/artivio/platform/internal/billing/domain"
	"github.com/artivio/platform/internal/config"
	generationdomain "github.com/artivio/platform/internal/generation/domain"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	"github.com/artivio/platform/internal/observability"
	obsmiddleware "github.com/artivio/platform/internal/observability/logger"
	obsmetrics "github.com/artivio/platform/internal/observability/metrics"
	plandomain "github.com/artivio/platform/internal/plan/domain"
	"github.com/artivio/platform/internal/ratelimit"
	referraldomain "github.com/artivio/platform/internal/referral/domain"
	subscriptiondomain "github.com/artivio/platform/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine *gin.Engine
	cfg    config.Config

	accountSvc      accountdomain.Service
	ledgerSvc       ledgerdomain.Service
	generationSvc   generationdomain.Service
	billingSvc      billingdomain.Service
	referralSvc     referraldomain.Service
	subscriptionSvc subscriptiondomain.Service
	planSvc         plandomain.Service

	generationLimiter *ratelimit.GenerationCreateLimiter
	obsMetrics        *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	AccountSvc      accountdomain.Service
	LedgerSvc       ledgerdomain.Service
	GenerationSvc   generationdomain.Service
	BillingSvc      billingdomain.Service
	ReferralSvc     referraldomain.Service
	SubscriptionSvc subscriptiondomain.Service
	PlanSvc         plandomain.Service

	GenerationLimiter *ratelimit.GenerationCreateLimiter `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics                `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		accountSvc:        p.AccountSvc,
		ledgerSvc:         p.LedgerSvc,
		generationSvc:     p.GenerationSvc,
		billingSvc:        p.BillingSvc,
		referralSvc:       p.ReferralSvc,
		subscriptionSvc:   p.SubscriptionSvc,
		planSvc:           p.PlanSvc,
		generationLimiter: p.GenerationLimiter,
		obsMetrics:        p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	accounts := v1.Group("/accounts")
	{
		accounts.POST("", s.Signup)
		accounts.GET("/:id", s.GetAccount)
		accounts.DELETE("/:id", s.DeleteAccount)
		accounts.GET("/:id/transactions", s.ListTransactions)
		accounts.GET("/:id/generations", s.ListGenerations)
		accounts.GET("/:id/subscription", s.GetSubscription)
	}

	generations := v1.Group("/generations")
	{
		generations.POST("", s.CreateGeneration)
		generations.GET("/:id", s.GetGeneration)
		generations.POST("/:id/start", s.StartGeneration)
		generations.POST("/:id/finalize", s.FinalizeGeneration)
		generations.POST("/:id/cancel", s.CancelGeneration)
	}

	v1.GET("/plans", s.ListPlans)

	referrals := v1.Group("/referrals")
	{
		referrals.POST("/click", s.ReferralClick)
		referrals.POST("/convert", s.ReferralConvert)
	}
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
}
