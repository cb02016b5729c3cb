package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/telemetry/internal/config"
	"github.com/smallbiznis/telemetry/internal/observability"
	obslogger "github.com/smallbiznis/telemetry/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/telemetry/internal/observability/metrics"
	obstracing "github.com/smallbiznis/telemetry/internal/observability/tracing"
	"github.com/smallbiznis/telemetry/internal/ratelimit"
	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/smallbiznis/telemetry/internal/sample/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiPrefix       = "/v2"
	canonicalPrefix = "/telemetry/v2"
	shutdownTimeout = 10 * time.Second
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	// Resource ids may contain escaped slashes.
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     []string{"/health", "/ready", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if httpMetrics != nil {
		r.GET("/metrics", httpMetrics.Handler())
	}

	return r
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	sampleSvc   sampledomain.Service
	resourceSvc resourcedomain.Service
	liveEvents  *liveevents.Hub
	limiter     *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	SampleSvc   sampledomain.Service
	ResourceSvc resourcedomain.Service
	LiveEvents  *liveevents.Hub          `optional:"true"`
	Limiter     *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("http"),
		sampleSvc:   p.SampleSvc,
		resourceSvc: p.ResourceSvc,
		liveEvents:  p.LiveEvents,
		limiter:     p.Limiter,
	}

	svc.registerHealthChecks()
	svc.registerAPIRoutes(apiPrefix)
	svc.registerAPIRoutes(canonicalPrefix)
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthChecks() {
	s.engine.GET("/ready", func(c *gin.Context) {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

func (s *Server) registerAPIRoutes(prefix string) {
	api := s.engine.Group(prefix)

	// -------- Meters --------
	api.GET("/meters", s.ListMeters)
	api.POST("/meters/:counter_name", s.IngestSamples)
	api.GET("/meters/:counter_name", s.ListSamples)
	api.GET("/meters/:counter_name/statistics", s.GetStatistics)
	api.GET("/meters/:counter_name/live", s.StreamMeterLiveEvents)

	// -------- Resources --------
	api.GET("/resources", s.ListResources)
	api.GET("/resources/:resource_id", s.GetResource)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
