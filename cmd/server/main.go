// Foldset gateway - payment gating in front of an upstream service
package main

import (
	"context"
	"net/http/httputil"
	"net/url"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/foldset/foldset-go/internal/config"
	"github.com/foldset/foldset-go/internal/gate"
	"github.com/foldset/foldset-go/internal/logging"
	"github.com/foldset/foldset-go/internal/metrics"
	"github.com/foldset/foldset-go/internal/middleware"
	"github.com/foldset/foldset-go/internal/store"
	"github.com/foldset/foldset-go/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting foldset gateway",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	shutdownTraces, err := traces.Init(context.Background(), cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTraces(context.Background()) //nolint:errcheck

	opts := gate.Options{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Platform:   "gin",
		SDKVersion: Version,
		Logger:     logger,
	}
	if cfg.RedisAddr != "" {
		opts.Store = store.NewRedisStore(&store.Credentials{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TenantID: cfg.RedisTenantID,
		})
	}

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		logger.Error("invalid upstream url", "url", cfg.UpstreamURL, "error", err)
		os.Exit(1)
	}
	proxy := httputil.NewSingleHostReverseProxy(upstream)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", metrics.Handler())

	router.Use(middleware.New(opts))
	router.NoRoute(func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	})

	logger.Info("listening", "port", cfg.Port, "upstream", upstream.String())
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
