package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/intake"
	"github.com/smallbiznis/waiterless/internal/lifecycle"
	"github.com/smallbiznis/waiterless/internal/observability"
	obslogger "github.com/smallbiznis/waiterless/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/waiterless/internal/observability/metrics"
	obstracing "github.com/smallbiznis/waiterless/internal/observability/tracing"
	"github.com/smallbiznis/waiterless/internal/ratelimit"
	"github.com/smallbiznis/waiterless/internal/subscription"
	tenantdomain "github.com/smallbiznis/waiterless/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

const (
	defaultHeartbeat = 15 * time.Second
	defaultRetry     = 2 * time.Second
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
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

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	tenants       tenantdomain.Service
	core          *lifecycle.Coordinator
	intake        *intake.Registry
	subscriptions *subscription.Manager
	limiter       *ratelimit.IntakeLimiter
	obsMetrics    *obsmetrics.Metrics
	log           *zap.Logger

	heartbeat time.Duration
	retry     time.Duration
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Tenants       tenantdomain.Service
	Core          *lifecycle.Coordinator
	Intake        *intake.Registry
	Subscriptions *subscription.Manager
	Limiter       *ratelimit.IntakeLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
	Log           *zap.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		tenants:       p.Tenants,
		core:          p.Core,
		intake:        p.Intake,
		subscriptions: p.Subscriptions,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
		log:           p.Log.Named("http.server"),
		heartbeat:     defaultHeartbeat,
		retry:         defaultRetry,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	api.POST("/tenants", s.OnboardTenant)

	tenant := api.Group("/tenants/:tenant", s.TenantContext())
	tenant.GET("", s.GetTenant)
	tenant.POST("/deactivate", s.DeactivateTenant)
	tenant.POST("/activate", s.ActivateTenant)

	tenant.POST("/tables", s.CreateTable)
	tenant.GET("/tables", s.ListTables)
	tenant.GET("/tables/:id", s.GetTable)
	tenant.PUT("/tables/:id", s.UpdateTable)

	tenant.POST("/orders", s.IntakeRateLimit(), s.SubmitOrder)
	tenant.POST("/qr/:qr/orders", s.IntakeRateLimit(), s.SubmitQROrder)
	tenant.GET("/orders", s.ListOrders)
	tenant.GET("/orders/:id", s.GetOrder)
	tenant.POST("/orders/:id/transitions", s.TransitionOrder)

	tenant.GET("/stream", s.StreamEvents)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
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
