package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/kirimaja/kirimaja/internal/analytics"
	"github.com/kirimaja/kirimaja/internal/audit"
	auditdomain "github.com/kirimaja/kirimaja/internal/audit/domain"
	"github.com/kirimaja/kirimaja/internal/config"
	"github.com/kirimaja/kirimaja/internal/invoice"
	"github.com/kirimaja/kirimaja/internal/ledger"
	"github.com/kirimaja/kirimaja/internal/message"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	"github.com/kirimaja/kirimaja/internal/observability"
	obsmiddleware "github.com/kirimaja/kirimaja/internal/observability/logger"
	obsmetrics "github.com/kirimaja/kirimaja/internal/observability/metrics"
	obstracing "github.com/kirimaja/kirimaja/internal/observability/tracing"
	"github.com/kirimaja/kirimaja/internal/providers"
	"github.com/kirimaja/kirimaja/internal/ratelimit"
	"github.com/kirimaja/kirimaja/internal/reconciliation"
	reconservice "github.com/kirimaja/kirimaja/internal/reconciliation/service"
	"github.com/kirimaja/kirimaja/internal/scheduler"
	"github.com/kirimaja/kirimaja/internal/webhook"
	webhookrepo "github.com/kirimaja/kirimaja/internal/webhook/repository"
	webhookservice "github.com/kirimaja/kirimaja/internal/webhook/service"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	providers.Module,
	audit.Module,
	message.Module,
	webhook.Module,
	analytics.Module,
	ledger.Module,
	invoice.Module,
	reconciliation.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	db          *gorm.DB
	genID       *snowflake.Node
	webhookSvc  *webhookservice.Service
	webhookRepo webhookrepo.Repository
	messageSvc  messagedomain.Service
	messageRepo messagedomain.Repository
	analytics   *analytics.Service
	reconSvc    *reconservice.Service
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
	limiter     *ratelimit.IngressLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	WebhookSvc  *webhookservice.Service
	WebhookRepo webhookrepo.Repository
	MessageSvc  messagedomain.Service
	MessageRepo messagedomain.Repository
	Analytics   *analytics.Service
	ReconSvc    *reconservice.Service
	AuditSvc    auditdomain.Service
	ObsMetrics  *obsmetrics.Metrics       `optional:"true"`
	Limiter     *ratelimit.IngressLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		genID:       p.GenID,
		webhookSvc:  p.WebhookSvc,
		webhookRepo: p.WebhookRepo,
		messageSvc:  p.MessageSvc,
		messageRepo: p.MessageRepo,
		analytics:   p.Analytics,
		reconSvc:    p.ReconSvc,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
		limiter:     p.Limiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")
	hooks.Use(s.IngressRateLimit())

	hooks.POST("/:provider", s.HandleWebhook)
	hooks.POST("/:provider/*endpoint", s.HandleWebhook)
	hooks.GET("/:provider", s.HandleWebhookChallenge)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(s.KlienContext())

	api.GET("/messages/events.csv", s.ExportMessageEvents)
	api.GET("/messages/:key/events", s.GetMessageHistory)

	api.GET("/analytics/rates", s.GetDeliveryRates)
	api.GET("/analytics/hourly", s.GetHourlyBuckets)

	api.POST("/reconciliation/runs", s.TriggerReconciliationRun)
	api.GET("/reconciliation/runs", s.ListReconciliationRuns)
	api.GET("/reconciliation/runs/:id", s.GetReconciliationRun)
	api.GET("/reconciliation/anomalies", s.ListReconciliationAnomalies)
	api.POST("/reconciliation/anomalies/:id/review", s.ReviewReconciliationAnomaly)
	api.POST("/reconciliation/anomalies/:id/resolve", s.ResolveReconciliationAnomaly)

	api.GET("/audit-logs", s.ListAuditLogs)
}
