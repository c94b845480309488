package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tally/internal/config"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	feedomain "github.com/smallbiznis/tally/internal/fee/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Server struct {
	events eventdomain.Service
	fees   feedomain.Service
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
	Config    config.Config
	Registry  *prometheus.Registry
	Events    eventdomain.Service
	Fees      feedomain.Service
}

func New(p Params) *Server {
	s := &Server{events: p.Events, fees: p.Fees}

	if p.Config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), ErrorHandlingMiddleware())
	s.register(engine, p.Registry)

	log := p.Log.Named("http.server")
	srv := &http.Server{
		Addr:              p.Config.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return s
}

func (s *Server) register(engine *gin.Engine, registry *prometheus.Registry) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := engine.Group("/v1")
	v1.POST("/events", s.createEvent)
	v1.POST("/events/estimate_fees", s.estimateFees)
}

var Module = fx.Module("server",
	fx.Provide(New),
	fx.Invoke(func(*Server) {}),
)
