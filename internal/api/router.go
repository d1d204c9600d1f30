package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fluxrules/internal/logger"
	"fluxrules/pkg/health"
	"fluxrules/pkg/middleware"
	"fluxrules/pkg/ratelimit"
	"fluxrules/pkg/tracing"
)

type RouterOptions struct {
	Handler *Handler
	Health  *health.CheckerRegistry
	Logger  logger.Logger
	// Limiter is optional; nil disables rate limiting.
	Limiter *ratelimit.Limiter
	// TracingService names the otelgin spans; empty disables HTTP tracing.
	TracingService string
}

func NewRouter(opts RouterOptions) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger()
	}
	if opts.Health == nil {
		opts.Health = health.NewCheckerRegistry()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if opts.TracingService != "" {
		router.Use(tracing.GinMiddleware(opts.TracingService, "/health", "/metrics"))
	}
	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(opts.Logger))

	router.GET("/health", func(c *gin.Context) {
		h := opts.Health.Check(c.Request.Context())
		c.JSON(h.HTTPStatus(), h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.Handler != nil {
		if opts.Limiter != nil {
			router.Use(opts.Limiter.Middleware())
		}
		opts.Handler.RegisterRoutes(router)
	}

	return router
}
