package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/models"
)

func newPriceEngine(cars *memCars) *PriceSyncEngine {
	e := NewPriceSyncEngine(PriceSyncConfig{RemoteSettings: RemoteSettings{OfficeID: 54, PricelistID: 3, Currency: "EUR"}}, testLogger, cars)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC) }
	return e
}

// groupSnapshot 保险组 A 包含分类 1..4，分类 5 属于 B
func groupSnapshot() []renteon.CarCategory {
	var categories []renteon.CarCategory
	for id := int64(1); id <= 4; id++ {
		categories = append(categories, renteon.CarCategory{ID: id, Groups: insuranceGroup("A"), CarModels: []renteon.CarModel{{ID: 100 + id}}})
	}
	categories = append(categories, renteon.CarCategory{ID: 5, Groups: insuranceGroup("B"), CarModels: []renteon.CarModel{{ID: 105}}})
	return categories
}

func TestPriceSync_ProbeWindow(t *testing.T) {
	e := newPriceEngine(newMemCars())
	w := e.ProbeWindow()
	assert.Equal(t, time.Date(2024, 4, 30, 10, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 3, w.Days())
}

func TestPriceSync_DirectQuote(t *testing.T) {
	cars := newMemCars(&models.Car{ID: 1, RenteonID: int64Ptr(101), PricePerDay: 10, Deposit: 700})
	remote := &fakeRemote{calcResults: map[int64]*renteon.Calculation{
		1: {Total: 150, Services: []renteon.Service{{InsuranceDepositAmount: 300}, {InsuranceDepositAmount: 900}}},
	}}

	stats, err := newPriceEngine(cars).Sync(context.Background(), remote, NewCategoryMapper(groupSnapshot(), nil))
	require.NoError(t, err)

	assert.Equal(t, models.SyncStats{Updated: 1, TotalScanned: 1}, stats)
	car := cars.get(1)
	assert.Equal(t, 50.0, car.PricePerDay)
	assert.Equal(t, 900.0, car.Deposit)
}

func TestPriceSync_KeepsDepositWhenRemoteHasNone(t *testing.T) {
	cars := newMemCars(&models.Car{ID: 1, RenteonID: int64Ptr(101), Deposit: 700})
	remote := &fakeRemote{calcResults: map[int64]*renteon.Calculation{1: {Total: 90}}}

	_, err := newPriceEngine(cars).Sync(context.Background(), remote, NewCategoryMapper(groupSnapshot(), nil))
	require.NoError(t, err)
	assert.Equal(t, 30.0, cars.get(1).PricePerDay)
	assert.Equal(t, 700.0, cars.get(1).Deposit)
}

func TestPriceSync_SiblingFallback(t *testing.T) {
	cars := newMemCars(&models.Car{ID: 1, RenteonID: int64Ptr(102)})
	// 分类 2 不可订，兄弟分类按 ID 顺序尝试：1 失败，3 成功，4 不再请求
	remote := &fakeRemote{calcResults: map[int64]*renteon.Calculation{3: {Total: 210}, 4: {Total: 999}}}

	stats, err := newPriceEngine(cars).Sync(context.Background(), remote, NewCategoryMapper(groupSnapshot(), nil))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, []int64{2, 1, 3}, remote.calcCalls)
	assert.Equal(t, 70.0, cars.get(1).PricePerDay)
}

func TestPriceSync_FallbackTerminatesAndLeavesPrice(t *testing.T) {
	cars := newMemCars(&models.Car{ID: 1, RenteonID: int64Ptr(103), PricePerDay: 42, Deposit: 100})
	remote := &fakeRemote{}

	mapper := NewCategoryMapper(groupSnapshot(), nil)
	stats, err := newPriceEngine(cars).Sync(context.Background(), remote, mapper)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStats{Failed: 1, TotalScanned: 1}, stats)
	assert.Equal(t, 42.0, cars.get(1).PricePerDay)
	assert.Equal(t, 100.0, cars.get(1).Deposit)

	// 原分类只请求一次，兄弟分类最多 |组| - 1 次
	require.Len(t, remote.calcCalls, 4)
	assert.Equal(t, int64(3), remote.calcCalls[0])
	assert.NotContains(t, remote.calcCalls[1:], int64(3))
	assert.Len(t, remote.calcCalls[1:], len(mapper.Siblings(3)))
}

func TestPriceSync_QuotesCachedPerRun(t *testing.T) {
	cars := newMemCars(
		&models.Car{ID: 1, RenteonID: int64Ptr(101)},
		&models.Car{ID: 2, RenteonID: int64Ptr(1)},
		&models.Car{ID: 3, RenteonID: int64Ptr(102)},
	)
	remote := &fakeRemote{calcResults: map[int64]*renteon.Calculation{1: {Total: 30}}}

	stats, err := newPriceEngine(cars).Sync(context.Background(), remote, NewCategoryMapper(groupSnapshot(), nil))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Updated)
	// 分类 1 只请求一次；分类 2 失败后回退到已缓存的 1
	assert.Equal(t, []int64{1, 2}, remote.calcCalls)
}

func TestPriceSync_SkipsUnmappedCars(t *testing.T) {
	cars := newMemCars(
		&models.Car{ID: 1, RenteonID: int64Ptr(999)},
		&models.Car{ID: 2, RenteonID: int64Ptr(105)},
		&models.Car{ID: 3},
	)
	remote := &fakeRemote{calcResults: map[int64]*renteon.Calculation{5: {Total: 60}}}

	stats, err := newPriceEngine(cars).Sync(context.Background(), remote, NewCategoryMapper(groupSnapshot(), nil))
	require.NoError(t, err)
	assert.Equal(t, models.SyncStats{Updated: 1, Skipped: 1, TotalScanned: 2}, stats)
}

func TestPriceSync_AuthErrorAbortsJob(t *testing.T) {
	cars := newMemCars(
		&models.Car{ID: 1, RenteonID: int64Ptr(101)},
		&models.Car{ID: 2, RenteonID: int64Ptr(105)},
	)
	remote := &fakeRemote{calcErrs: map[int64]error{1: &renteon.AuthError{StatusCode: 401}}}

	stats, err := newPriceEngine(cars).Sync(context.Background(), remote, NewCategoryMapper(groupSnapshot(), nil))
	require.Error(t, err)
	assert.True(t, renteon.IsAuthError(err))
	assert.Equal(t, []int64{1}, remote.calcCalls)
	assert.Equal(t, 0, stats.Updated)
}

func TestPriceSync_StopsWhenContextDone(t *testing.T) {
	cars := newMemCars(&models.Car{ID: 1, RenteonID: int64Ptr(101)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := newPriceEngine(cars).Sync(ctx, &fakeRemote{}, NewCategoryMapper(groupSnapshot(), nil))
	require.NoError(t, err)
	assert.True(t, stats.Partial)
	assert.Equal(t, 0, stats.TotalScanned)
}

func TestPriceSync_DeadlineBeforeListingIsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cars := &expiringCars{memCars: newMemCars(&models.Car{ID: 1, RenteonID: int64Ptr(101)}), cancel: cancel}
	e := NewPriceSyncEngine(PriceSyncConfig{}, testLogger, cars)
	remote := &fakeRemote{}

	stats, err := e.Sync(ctx, remote, NewCategoryMapper(groupSnapshot(), nil))
	require.NoError(t, err)
	assert.True(t, stats.Partial)
	assert.Empty(t, remote.calcCalls)
}
