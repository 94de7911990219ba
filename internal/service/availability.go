package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/config"
	"github.com/langchou/rentsync/internal/metrics"
	"github.com/langchou/rentsync/internal/models"
)

// PriceOverlay 远端价格覆盖结果
type PriceOverlay struct {
	CategoryID  int64   `json:"category_id"`
	PricePerDay float64 `json:"price_per_day"`
	Deposit     float64 `json:"deposit"`
}

// Reconciliation 可用性对账结果
type Reconciliation struct {
	Cars    []*models.Car          `json:"cars"`
	Overlay map[int64]PriceOverlay `json:"overlay"`
	// RemoteChecked 为 false 表示远端不可用，结果仅经过本地过滤
	RemoteChecked bool `json:"remote_checked"`
}

// ReconcilerConfig 对账配置
type ReconcilerConfig struct {
	RemoteSettings
	Mode        string
	Concurrency int
}

// AvailabilityReconciler 合并本地占用与远端库存
type AvailabilityReconciler struct {
	cfg       ReconcilerConfig
	logger    *zap.Logger
	cars      CarStore
	bookings  BookingStore
	windows   AvailabilityStore
	overrides OverrideStore
	cache     *CategoryCache
	newRemote RemoteFactory
	metrics   *metrics.Metrics
}

// NewAvailabilityReconciler 创建对账器
func NewAvailabilityReconciler(
	cfg ReconcilerConfig,
	logger *zap.Logger,
	cars CarStore,
	bookings BookingStore,
	windows AvailabilityStore,
	overrides OverrideStore,
	cache *CategoryCache,
	newRemote RemoteFactory,
	m *metrics.Metrics,
) *AvailabilityReconciler {
	if cfg.Mode == "" {
		cfg.Mode = config.AvailabilityModeBatch
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &AvailabilityReconciler{
		cfg:       cfg,
		logger:    logger,
		cars:      cars,
		bookings:  bookings,
		windows:   windows,
		overrides: overrides,
		cache:     cache,
		newRemote: newRemote,
		metrics:   m,
	}
}

// FilterLocal 本地过滤：
// 有 PENDING/CONFIRMED 订单与窗口相交的车辆被排除；
// 必须存在一条完整覆盖窗口的 AVAILABLE 记录；
// 任何相交的非 AVAILABLE 记录都会排除车辆。
func FilterLocal(window models.Window, cars []*models.Car, bookings []*models.Booking, windows []*models.AvailabilityWindow) []*models.Car {
	blocked := make(map[int64]bool)
	for _, b := range bookings {
		if b.BlocksInventory() && window.Overlaps(b.StartDate, b.EndDate) {
			blocked[b.CarID] = true
		}
	}

	covered := make(map[int64]bool)
	for _, w := range windows {
		if !window.Overlaps(w.StartDate, w.EndDate) {
			continue
		}
		if w.Status != models.AvailabilityAvailable {
			blocked[w.CarID] = true
			continue
		}
		if window.CoveredBy(w.StartDate, w.EndDate) {
			covered[w.CarID] = true
		}
	}

	result := make([]*models.Car, 0, len(cars))
	for _, car := range cars {
		if blocked[car.ID] || !covered[car.ID] {
			continue
		}
		result = append(result, car)
	}
	return result
}

// Reconcile 使用默认门店对候选车辆做可用性对账
func (r *AvailabilityReconciler) Reconcile(ctx context.Context, window models.Window, candidates []*models.Car) (*Reconciliation, error) {
	return r.reconcile(ctx, window, candidates, 0, 0)
}

// ListAvailable 对所有上架车辆做对账
func (r *AvailabilityReconciler) ListAvailable(ctx context.Context, window models.Window, pickupOfficeID, dropoffOfficeID int64) (*Reconciliation, error) {
	cars, err := r.cars.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active cars: %w", err)
	}
	return r.reconcile(ctx, window, cars, pickupOfficeID, dropoffOfficeID)
}

func (r *AvailabilityReconciler) reconcile(ctx context.Context, window models.Window, candidates []*models.Car, officeOut, officeIn int64) (*Reconciliation, error) {
	if !window.Valid() {
		return nil, ErrInvalidWindow
	}

	ids := make([]int64, 0, len(candidates))
	for _, car := range candidates {
		ids = append(ids, car.ID)
	}

	bookings, err := r.bookings.ListBlockingOverlapping(ctx, ids, window)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	windows, err := r.windows.ListOverlapping(ctx, ids, window)
	if err != nil {
		return nil, fmt.Errorf("load availability windows: %w", err)
	}

	local := FilterLocal(window, candidates, bookings, windows)
	result := &Reconciliation{Cars: local, Overlay: make(map[int64]PriceOverlay)}
	if len(local) == 0 {
		r.metrics.ObserveAvailability("skipped")
		return result, nil
	}

	remote := r.newRemote()
	mapper, err := loadMapper(ctx, remote, r.cache, r.overrides)
	if err != nil {
		r.fallback(err, window)
		return result, nil
	}

	available, err := r.remoteAvailability(ctx, remote, mapper, window, local, officeOut, officeIn)
	if err != nil {
		r.fallback(err, window)
		return result, nil
	}

	// 远端成功但为空时视为权威结果：没有车辆可用
	days := float64(window.Days())
	cars := make([]*models.Car, 0, len(local))
	for _, car := range local {
		categoryID, ok := mapper.Resolve(car)
		if !ok {
			continue
		}
		quote, ok := available[categoryID]
		if !ok {
			continue
		}

		c := *car
		overlay := PriceOverlay{CategoryID: categoryID, PricePerDay: c.PricePerDay, Deposit: c.Deposit}
		if quote.Amount > 0 {
			overlay.PricePerDay = quote.Amount / days
		}
		if quote.Deposit > 0 {
			overlay.Deposit = quote.Deposit
		}
		c.PricePerDay = overlay.PricePerDay
		c.Deposit = overlay.Deposit

		cars = append(cars, &c)
		result.Overlay[c.ID] = overlay
	}

	result.Cars = cars
	result.RemoteChecked = true
	r.metrics.ObserveAvailability("ok")
	return result, nil
}

func (r *AvailabilityReconciler) fallback(err error, window models.Window) {
	r.metrics.ObserveAvailability("fallback")
	r.logger.Warn("Remote availability unavailable, using local result",
		zap.Error(err),
		zap.Time("start", window.Start),
		zap.Time("end", window.End),
	)
}

// remoteAvailability 查询远端可用分类
func (r *AvailabilityReconciler) remoteAvailability(
	ctx context.Context,
	remote Remote,
	mapper *CategoryMapper,
	window models.Window,
	cars []*models.Car,
	officeOut, officeIn int64,
) (map[int64]renteon.AvailableCategory, error) {
	req := r.cfg.availabilityRequest(window, officeOut, officeIn)

	if r.cfg.Mode != config.AvailabilityModeProbe {
		items, err := remote.CheckAvailability(ctx, req)
		if err != nil {
			return nil, err
		}
		available := make(map[int64]renteon.AvailableCategory, len(items))
		for _, item := range items {
			available[item.CategoryID] = item
		}
		return available, nil
	}

	var categoryIDs []int64
	seen := make(map[int64]bool)
	for _, car := range cars {
		if id, ok := mapper.Resolve(car); ok && !seen[id] {
			seen[id] = true
			categoryIDs = append(categoryIDs, id)
		}
	}
	return r.probe(ctx, remote, req, categoryIDs)
}

// probe 按分类逐个计价，并发数受 Concurrency 限制。
// 4xx 表示该分类不可订，网络错误、5xx 或认证失败视为远端不可用。
func (r *AvailabilityReconciler) probe(ctx context.Context, remote Remote, req renteon.AvailabilityRequest, categoryIDs []int64) (map[int64]renteon.AvailableCategory, error) {
	var mu sync.Mutex
	available := make(map[int64]renteon.AvailableCategory, len(categoryIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range categoryIDs {
		g.Go(func() error {
			calc, err := remote.Calculate(gctx, renteon.CalculateRequest{AvailabilityRequest: req, CarCategoryID: id})
			if err != nil {
				if code := renteon.StatusCode(err); code >= 400 && code < 500 && !renteon.IsAuthError(err) {
					r.logger.Debug("Category not bookable", zap.Int64("category_id", id), zap.Int("status", code))
					return nil
				}
				return fmt.Errorf("probe category %d: %w", id, err)
			}
			mu.Lock()
			available[id] = renteon.AvailableCategory{CategoryID: id, Amount: calc.Total, Deposit: calc.DepositAmount()}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return available, nil
}

// CheckResult 页面使用的可用性查询结果
type CheckResult struct {
	Success bool            `json:"success"`
	Data    *Reconciliation `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// 可接受的日期格式
var dateLayouts = []string{time.RFC3339, renteon.DateTimeLayout, "2006-01-02T15:04", "2006-01-02"}

// ParseDate 解析页面传入的日期
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// Check 页面渲染使用的可用性查询，门店为 0 时使用默认门店。
// 任何错误都放在返回值中，不会以 error 形式抛出。
func (r *AvailabilityReconciler) Check(ctx context.Context, dateOut, dateIn string, pickupOfficeID, dropoffOfficeID int64) *CheckResult {
	start, err := ParseDate(dateOut)
	if err != nil {
		return &CheckResult{Error: "date_out: " + err.Error()}
	}
	end, err := ParseDate(dateIn)
	if err != nil {
		return &CheckResult{Error: "date_in: " + err.Error()}
	}

	data, err := r.ListAvailable(ctx, models.Window{Start: start, End: end}, pickupOfficeID, dropoffOfficeID)
	if err != nil {
		r.logger.Error("Availability check failed", zap.Error(err))
		return &CheckResult{Error: err.Error()}
	}
	return &CheckResult{Success: true, Data: data}
}
