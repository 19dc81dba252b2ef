package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/internal/api"
	"github.com/celerix-dev/celerix-gacha/internal/app"
	"github.com/celerix-dev/celerix-gacha/internal/config"
	"github.com/celerix-dev/celerix-gacha/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		config.Exitf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}

	var sched interface{ Shutdown() error }
	if cfg.SchedulerEnabled {
		s, err := a.Scheduler(logger)
		if err != nil {
			logger.Fatal("failed to create scheduler", zap.Error(err))
		}
		s.Start()
		sched = s
	}

	if !cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := &api.Handler{
		Layout:      a.Layout,
		Runner:      a.Runner,
		Ledgers:     a.Ledgers,
		Credentials: a.Vault,
		Runs:        a.Journal,
	}
	r.GET("/healthz", api.Health)
	h.Register(r.Group("/api"))
	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, finishing in-flight syncs")

	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", zap.Error(err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		logger.Warn("close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}
