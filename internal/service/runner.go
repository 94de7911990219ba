package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/metrics"
	"github.com/langchou/rentsync/internal/models"
	"github.com/langchou/rentsync/pkg/ws"
)

// SyncResult 一次定时同步的结果
type SyncResult struct {
	Success      bool             `json:"success"`
	Cars         models.SyncStats `json:"cars"`
	Availability models.SyncStats `json:"availability"`
	Proposals    int              `json:"proposals"`
	Partial      bool             `json:"partial"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Error        string           `json:"error,omitempty"`
}

// SyncRunner 定时同步入口：先同步目录，再同步价格，整体受 maxDuration 限制。
// 两个阶段共用一个远端会话（同一个令牌）。
type SyncRunner struct {
	logger      *zap.Logger
	catalog     *CatalogSyncEngine
	prices      *PriceSyncEngine
	overrides   OverrideStore
	cache       *CategoryCache
	newRemote   RemoteFactory
	maxDuration time.Duration
	hub         Broadcaster
	metrics     *metrics.Metrics

	mu      sync.Mutex
	running bool
	last    *SyncResult
}

// NewSyncRunner 创建同步入口
func NewSyncRunner(
	logger *zap.Logger,
	catalog *CatalogSyncEngine,
	prices *PriceSyncEngine,
	overrides OverrideStore,
	cache *CategoryCache,
	newRemote RemoteFactory,
	maxDuration time.Duration,
	hub Broadcaster,
	m *metrics.Metrics,
) *SyncRunner {
	if maxDuration <= 0 {
		maxDuration = 5 * time.Minute
	}
	return &SyncRunner{
		logger:      logger,
		catalog:     catalog,
		prices:      prices,
		overrides:   overrides,
		cache:       cache,
		newRemote:   newRemote,
		maxDuration: maxDuration,
		hub:         hub,
		metrics:     m,
	}
}

// LastResult 最近一次同步结果，没有则返回 nil
func (r *SyncRunner) LastResult() *SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Run 执行一次同步。超时后放弃剩余工作并返回部分结果（Partial=true）。
// 已有同步在运行时返回 ErrSyncInProgress。
func (r *SyncRunner) Run(ctx context.Context) (*SyncResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, r.maxDuration)
	defer cancel()

	result := &SyncResult{StartedAt: time.Now()}
	r.logger.Info("Starting sync run", zap.Duration("max_duration", r.maxDuration))
	r.broadcast(ws.MsgTypeSyncStarted, map[string]interface{}{"started_at": result.StartedAt})

	err := r.run(ctx, result)
	result.FinishedAt = time.Now()
	elapsed := result.FinishedAt.Sub(result.StartedAt)

	if err != nil {
		result.Error = err.Error()
		r.metrics.ObserveSyncRun("error", elapsed, result.Cars, result.Availability)
		r.logger.Error("Sync run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		r.broadcast(ws.MsgTypeSyncFailed, result)
		r.remember(result)
		return result, err
	}

	result.Success = true
	result.Partial = result.Cars.Partial || result.Availability.Partial
	outcome := "ok"
	if result.Partial {
		outcome = "partial"
	}
	r.metrics.ObserveSyncRun(outcome, elapsed, result.Cars, result.Availability)
	r.logger.Info("Sync run finished",
		zap.Bool("partial", result.Partial),
		zap.Int("cars_created", result.Cars.Created),
		zap.Int("cars_updated", result.Cars.Updated),
		zap.Int("prices_updated", result.Availability.Updated),
		zap.Int("proposals", result.Proposals),
		zap.Duration("elapsed", elapsed),
	)
	r.broadcast(ws.MsgTypeSyncFinished, result)
	r.remember(result)
	return result, nil
}

func (r *SyncRunner) run(ctx context.Context, result *SyncResult) error {
	remote := r.newRemote()

	categories, err := remote.ListCategories(ctx)
	if err != nil {
		if r.outOfTime(ctx, "list car categories", err) {
			result.Cars.Partial = true
			result.Availability.Partial = true
			return nil
		}
		return fmt.Errorf("list car categories: %w", err)
	}
	r.cache.Set(categories)

	catalog, err := r.catalog.Sync(ctx, categories)
	if catalog != nil {
		result.Cars = catalog.Stats
		result.Proposals = len(catalog.Proposals)
	}
	if err != nil {
		if r.outOfTime(ctx, "sync catalog", err) {
			result.Cars.Partial = true
			result.Availability.Partial = true
			return nil
		}
		return fmt.Errorf("sync catalog: %w", err)
	}
	if result.Cars.Partial {
		// 没有剩余时间做价格同步
		result.Availability.Partial = true
		return nil
	}

	overrides, err := r.overrides.List(ctx)
	if err != nil {
		if r.outOfTime(ctx, "list category overrides", err) {
			result.Availability.Partial = true
			return nil
		}
		return fmt.Errorf("list category overrides: %w", err)
	}
	mapper := NewCategoryMapper(categories, overrides)

	prices, err := r.prices.Sync(ctx, remote, mapper)
	result.Availability = prices
	if err != nil {
		if r.outOfTime(ctx, "sync prices", err) {
			result.Availability.Partial = true
			return nil
		}
		return fmt.Errorf("sync prices: %w", err)
	}
	return nil
}

// outOfTime 阶段失败时判断是否因为运行时间耗尽，是则按部分结果处理
func (r *SyncRunner) outOfTime(ctx context.Context, phase string, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	r.logger.Warn("Sync deadline reached, returning partial result",
		zap.String("phase", phase),
		zap.Error(err),
	)
	return true
}

func (r *SyncRunner) remember(result *SyncResult) {
	r.mu.Lock()
	r.last = result
	r.mu.Unlock()
}

func (r *SyncRunner) broadcast(msgType string, data interface{}) {
	if r.hub != nil {
		r.hub.BroadcastMessage(msgType, data)
	}
}
