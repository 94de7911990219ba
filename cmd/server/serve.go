package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/api/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the outbox worker",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting rentsync", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer a.Close()
	logger.Info("Database migrated successfully")

	go a.hub.Run(ctx)

	// 启动 outbox worker
	a.worker.Start(ctx)

	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET is empty, /api/cron/sync will reject all requests")
	}

	handler := handlers.NewHandler(logger, handlers.Deps{
		Sync:         a.runner,
		Availability: a.reconciler,
		Bookings:     a.bookingSvc,
		Cars:         a.cars,
		Overrides:    a.overrides,
		Proposals:    a.proposals,
		Outbox:       a.outbox,
		NewRemote:    a.newRemote,
		Hub:          a.hub,
		CronSecret:   cfg.CronSecret,
		AdminSecret:  cfg.AdminSecret,
	})

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	// 同步可能持续 SYNC_MAX_DURATION，写超时需留出余量
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SyncMaxDuration + 30*time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	a.worker.Stop()
	cancel()

	logger.Info("Server exited")
	return nil
}
