package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/config"
	"github.com/langchou/rentsync/internal/metrics"
	"github.com/langchou/rentsync/internal/repository"
	"github.com/langchou/rentsync/internal/service"
	"github.com/langchou/rentsync/pkg/ws"
)

// app 进程内共享的组件
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *repository.DB
	metrics *metrics.Metrics
	hub     *ws.Hub

	cars      *repository.CarRepository
	bookings  *repository.BookingRepository
	windows   *repository.AvailabilityRepository
	overrides *repository.OverrideRepository
	proposals *repository.ProposalRepository
	outbox    *repository.OutboxRepository

	newRemote  service.RemoteFactory
	runner     *service.SyncRunner
	reconciler *service.AvailabilityReconciler
	worker     *service.OutboxWorker
	bookingSvc *service.BookingService
}

// loadConfig 加载配置并初始化日志
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, initLogger(cfg.Debug), nil
}

// newApp 连接数据库、执行迁移并组装所有服务
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		metrics:   metrics.New(),
		hub:       ws.NewHub(logger),
		cars:      repository.NewCarRepository(db),
		bookings:  repository.NewBookingRepository(db),
		windows:   repository.NewAvailabilityRepository(db),
		overrides: repository.NewOverrideRepository(db),
		proposals: repository.NewProposalRepository(db),
		outbox:    repository.NewOutboxRepository(db),
	}

	client := renteon.NewClient(cfg.RenteonBaseURL, renteon.Credentials{
		Username:     cfg.RenteonUsername,
		Password:     cfg.RenteonPassword,
		ClientID:     cfg.RenteonClientID,
		ClientSecret: cfg.RenteonClientSecret,
	}, cfg.RenteonTimeout, renteon.WithRequestHook(a.metrics.ObserveRemoteRequest))
	a.newRemote = service.SessionFactory(client)

	settings := service.RemoteSettings{
		OfficeID:    cfg.DefaultOfficeID,
		PricelistID: cfg.RenteonPricelistID,
		Currency:    cfg.RenteonCurrency,
	}
	cache := service.NewCategoryCache(cfg.CategoryCacheTTL)

	catalog := service.NewCatalogSyncEngine(logger, a.cars, a.proposals)
	prices := service.NewPriceSyncEngine(service.PriceSyncConfig{
		RemoteSettings: settings,
		OffsetDays:     cfg.PriceProbeOffsetDays,
		Days:           cfg.PriceProbeDays,
	}, logger, a.cars)
	a.runner = service.NewSyncRunner(logger, catalog, prices, a.overrides, cache, a.newRemote, cfg.SyncMaxDuration, a.hub, a.metrics)

	a.reconciler = service.NewAvailabilityReconciler(service.ReconcilerConfig{
		RemoteSettings: settings,
		Mode:           cfg.AvailabilityMode,
		Concurrency:    cfg.AvailabilityConcurrency,
	}, logger, a.cars, a.bookings, a.windows, a.overrides, cache, a.newRemote, a.metrics)

	a.worker = service.NewOutboxWorker(service.OutboxConfig{
		RemoteSettings: settings,
		PollInterval:   cfg.OutboxPollInterval,
		MaxAttempts:    cfg.OutboxMaxAttempts,
		BatchSize:      cfg.OutboxBatchSize,
	}, logger, a.outbox, a.bookings, a.cars, a.overrides, cache, a.newRemote, a.hub, a.metrics)

	a.bookingSvc = service.NewBookingService(logger, a.cars, a.bookings, cfg.DefaultOfficeID, a.worker)

	a.hub.SetInitDataProvider(func() *ws.InitData {
		return &ws.InitData{LastSync: a.runner.LastResult()}
	})

	return a, nil
}

func (a *app) Close() {
	a.db.Close()
}
