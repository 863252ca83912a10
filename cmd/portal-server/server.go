package main

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/labportal/portal/internal/config"
	"github.com/labportal/portal/internal/domain/portal"
	"github.com/labportal/portal/internal/platform/auth"
	"github.com/labportal/portal/internal/platform/db"
	"github.com/labportal/portal/internal/platform/metrics"
	"github.com/labportal/portal/internal/platform/middleware"
)

const version = "1.0.0"

type serverOptions struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Portal   portal.Deps
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// DB is set when snapshots live in postgres or redis and enables
	// /health/db.
	DB      db.Pinger
	DBStore string
}

func newServer(opts serverOptions) *echo.Echo {
	cfg := opts.Config
	logger := opts.Logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = portal.ErrorHandler

	// Global middleware
	e.Use(middleware.Recovery(logger, opts.Metrics))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, auth.AdminTokenHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, echo.HeaderContentLength, "ETag", middleware.RequestIDHeader},
	}))
	e.Use(opts.Metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if opts.DB != nil {
		e.GET("/health/db", db.HealthHandler(opts.DBStore, opts.DB))
	}
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(opts.Gatherer)))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	h := portal.NewHandler(opts.Portal)
	for _, prefix := range portal.RoutePrefixes {
		g := e.Group(prefix,
			middleware.RateLimit(rateLimitCfg),
			middleware.BodyLimit(cfg.BodyLimit),
			middleware.RequestTimeout(cfg.RequestTimeout()),
		)
		h.RegisterRoutes(g)
	}

	if cfg.StaticDir != "" {
		e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
			Root:    cfg.StaticDir,
			Index:   "index.html",
			HTML5:   true,
			Skipper: skipStatic,
		}))
		logger.Info().Str("dir", cfg.StaticDir).Msg("serving static front end")
	}

	return e
}

// skipStatic keeps API, health and metrics paths out of the SPA fallback so
// an unknown API route still answers with a JSON 404.
func skipStatic(c echo.Context) bool {
	path := c.Request().URL.Path
	for _, prefix := range portal.RoutePrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/")
}
