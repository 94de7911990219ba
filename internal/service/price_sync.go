package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/models"
)

// PriceSyncConfig 价格同步配置
type PriceSyncConfig struct {
	RemoteSettings
	OffsetDays int // 代表性订单距同步时间的天数
	Days       int // 代表性订单时长
}

// PriceSyncEngine 通过远端计价接口计算每辆车的日租价
type PriceSyncEngine struct {
	cfg    PriceSyncConfig
	logger *zap.Logger
	cars   CarStore
	now    func() time.Time
}

// NewPriceSyncEngine 创建价格同步引擎
func NewPriceSyncEngine(cfg PriceSyncConfig, logger *zap.Logger, cars CarStore) *PriceSyncEngine {
	if cfg.OffsetDays <= 0 {
		cfg.OffsetDays = 60
	}
	if cfg.Days <= 0 {
		cfg.Days = 3
	}
	return &PriceSyncEngine{cfg: cfg, logger: logger, cars: cars, now: time.Now}
}

// ProbeWindow 代表性订单窗口：OffsetDays 天后 10:00 开始，持续 Days 天
func (e *PriceSyncEngine) ProbeWindow() models.Window {
	now := e.now()
	day := now.AddDate(0, 0, e.cfg.OffsetDays)
	start := time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, now.Location())
	return models.Window{Start: start, End: start.AddDate(0, 0, e.cfg.Days)}
}

// quote 单个分类的计价结果，失败也会缓存，同一次运行不再重复请求
type quote struct {
	total   float64
	deposit float64
	err     error
}

// Sync 为所有关联远端车型的车辆更新日租价与押金。
// 认证失败会中止整个任务，其余单车失败只计数。
func (e *PriceSyncEngine) Sync(ctx context.Context, remote Remote, mapper *CategoryMapper) (models.SyncStats, error) {
	var stats models.SyncStats

	cars, err := e.cars.ListWithRenteonID(ctx)
	if err != nil {
		if ctx.Err() != nil {
			stats.Partial = true
			return stats, nil
		}
		return stats, fmt.Errorf("list cars with renteon id: %w", err)
	}

	window := e.ProbeWindow()
	days := float64(window.Days())
	req := e.cfg.availabilityRequest(window, 0, 0)
	quotes := make(map[int64]*quote)

	calculate := func(categoryID int64) *quote {
		if q, ok := quotes[categoryID]; ok {
			return q
		}
		q := &quote{}
		calc, err := remote.Calculate(ctx, renteon.CalculateRequest{AvailabilityRequest: req, CarCategoryID: categoryID})
		switch {
		case err != nil:
			q.err = err
		case calc.Total <= 0:
			q.err = fmt.Errorf("calculate category %d: empty total", categoryID)
		default:
			q.total = calc.Total
			q.deposit = calc.DepositAmount()
		}
		quotes[categoryID] = q
		return q
	}

	for _, car := range cars {
		if ctx.Err() != nil {
			stats.Partial = true
			e.logger.Warn("Price sync stopped before completion", zap.Error(ctx.Err()), zap.Int("scanned", stats.TotalScanned))
			break
		}
		stats.TotalScanned++

		categoryID, err := mapper.MustResolve(car)
		if err != nil {
			stats.Skipped++
			e.logger.Warn("Skipping car without category mapping", zap.Int64("car_id", car.ID), zap.Error(err))
			continue
		}

		q := calculate(categoryID)
		if q.err != nil && renteon.IsAuthError(q.err) {
			return stats, fmt.Errorf("calculate price: %w", q.err)
		}
		if q.err != nil {
			// 同保险组的其他分类依次尝试，第一个成功即止
			for _, sibling := range mapper.Siblings(categoryID) {
				q = calculate(sibling)
				if q.err == nil {
					e.logger.Debug("Priced car from sibling category",
						zap.Int64("car_id", car.ID),
						zap.Int64("category_id", categoryID),
						zap.Int64("sibling_id", sibling),
					)
					break
				}
				if renteon.IsAuthError(q.err) {
					return stats, fmt.Errorf("calculate price: %w", q.err)
				}
			}
		}
		if q.err != nil {
			stats.Failed++
			e.logger.Warn("Price unresolved, keeping current price",
				zap.Int64("car_id", car.ID),
				zap.Int64("category_id", categoryID),
				zap.Error(q.err),
			)
			continue
		}

		deposit := car.Deposit
		if q.deposit > 0 {
			deposit = q.deposit
		}
		pricePerDay := q.total / days
		if err := e.cars.UpdatePricing(ctx, car.ID, pricePerDay, deposit); err != nil {
			stats.Failed++
			e.logger.Error("Failed to update car pricing", zap.Int64("car_id", car.ID), zap.Error(err))
			continue
		}
		stats.Updated++
	}

	e.logger.Info("Price sync finished",
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("scanned", stats.TotalScanned),
	)
	return stats, nil
}
