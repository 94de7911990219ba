package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/config"
	"github.com/langchou/rentsync/internal/models"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func availableAllJune(carIDs ...int64) []*models.AvailabilityWindow {
	var windows []*models.AvailabilityWindow
	for _, id := range carIDs {
		windows = append(windows, &models.AvailabilityWindow{CarID: id, StartDate: date("2024-06-01"), EndDate: date("2024-07-01"), Status: models.AvailabilityAvailable})
	}
	return windows
}

func carIDs(cars []*models.Car) []int64 {
	ids := []int64{}
	for _, c := range cars {
		ids = append(ids, c.ID)
	}
	return ids
}

type reconcilerFixture struct {
	cars      *memCars
	bookings  *memBookings
	windows   *memWindows
	remote    *fakeRemote
	reconcile *AvailabilityReconciler
}

func newReconcilerFixture(mode string, cars []*models.Car, bookings []*models.Booking, windows []*models.AvailabilityWindow) *reconcilerFixture {
	f := &reconcilerFixture{
		cars:     newMemCars(cars...),
		bookings: newMemBookings(bookings...),
		windows:  &memWindows{windows: windows},
		remote:   &fakeRemote{categories: []renteon.CarCategory{{ID: 42, CarModels: []renteon.CarModel{{ID: 4201}}}, {ID: 43, CarModels: []renteon.CarModel{{ID: 4301}}}}},
	}
	f.reconcile = NewAvailabilityReconciler(
		ReconcilerConfig{RemoteSettings: RemoteSettings{OfficeID: 54, PricelistID: 3, Currency: "EUR"}, Mode: mode, Concurrency: 2},
		testLogger,
		f.cars,
		f.bookings,
		f.windows,
		&memOverrides{},
		NewCategoryCache(time.Minute),
		f.remote.factory(),
		nil,
	)
	return f
}

func TestFilterLocal(t *testing.T) {
	window := models.Window{Start: date("2024-06-03"), End: date("2024-06-04")}
	cars := []*models.Car{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}, {ID: 6}}

	bookings := []*models.Booking{
		{CarID: 1, StartDate: date("2024-06-01"), EndDate: date("2024-06-05"), Status: models.BookingConfirmed},
		{CarID: 2, StartDate: date("2024-06-01"), EndDate: date("2024-06-05"), Status: models.BookingCancelled},
		{CarID: 3, StartDate: date("2024-06-04"), EndDate: date("2024-06-06"), Status: models.BookingPending},
	}
	windows := availableAllJune(1, 2, 3, 4)
	windows = append(windows,
		&models.AvailabilityWindow{CarID: 4, StartDate: date("2024-06-03"), EndDate: date("2024-06-10"), Status: models.AvailabilityMaintenance},
		// 6 的可用记录没有覆盖整个窗口
		&models.AvailabilityWindow{CarID: 6, StartDate: date("2024-06-03").Add(2 * time.Hour), EndDate: date("2024-06-10"), Status: models.AvailabilityAvailable},
	)

	got := FilterLocal(window, cars, bookings, windows)
	// 1 有重叠的 CONFIRMED 订单；4 在维护；5 没有可用记录；6 覆盖不完整
	assert.Equal(t, []int64{2, 3}, carIDs(got))
}

func TestFilterLocal_MonotonicUnderNewBookings(t *testing.T) {
	window := models.Window{Start: date("2024-06-10"), End: date("2024-06-13")}
	cars := []*models.Car{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	windows := availableAllJune(1, 2, 3, 4)

	var bookings []*models.Booking
	previous := FilterLocal(window, cars, bookings, windows)
	for _, id := range []int64{3, 1, 3, 4} {
		bookings = append(bookings, &models.Booking{CarID: id, StartDate: date("2024-06-12"), EndDate: date("2024-06-20"), Status: models.BookingConfirmed})
		current := FilterLocal(window, cars, bookings, windows)

		prev := make(map[int64]bool)
		for _, c := range previous {
			prev[c.ID] = true
		}
		for _, c := range current {
			assert.True(t, prev[c.ID], "car %d appeared after adding a booking", c.ID)
		}
		assert.LessOrEqual(t, len(current), len(previous))
		previous = current
	}
	assert.Equal(t, []int64{2}, carIDs(previous))
}

func TestReconcile_OverlaysRemotePrice(t *testing.T) {
	cars := []*models.Car{
		{ID: 1, RenteonID: int64Ptr(4201), PricePerDay: 80, Deposit: 200},
		{ID: 2, RenteonID: int64Ptr(4301), PricePerDay: 50, Deposit: 100},
	}
	f := newReconcilerFixture(config.AvailabilityModeBatch, cars, nil, availableAllJune(1, 2))
	f.remote.available = []renteon.AvailableCategory{{CategoryID: 42, Amount: 300, Deposit: 500}}

	window := models.Window{Start: date("2024-06-10"), End: date("2024-06-13")}
	result, err := f.reconcile.Reconcile(context.Background(), window, cars)
	require.NoError(t, err)

	assert.True(t, result.RemoteChecked)
	require.Len(t, result.Cars, 1)
	assert.Equal(t, int64(1), result.Cars[0].ID)
	assert.Equal(t, 100.0, result.Cars[0].PricePerDay)
	assert.Equal(t, 500.0, result.Cars[0].Deposit)
	assert.Equal(t, PriceOverlay{CategoryID: 42, PricePerDay: 100, Deposit: 500}, result.Overlay[1])

	// 输入不被修改
	assert.Equal(t, 80.0, cars[0].PricePerDay)

	require.Len(t, f.remote.availReqs, 1)
	req := f.remote.availReqs[0]
	assert.Equal(t, "2024-06-10T00:00:00", req.DateOut)
	assert.Equal(t, int64(54), req.OfficeOutID)
	assert.True(t, req.BookAsCommissioner)
}

func TestReconcile_KeepsLocalPriceWhenRemoteHasNone(t *testing.T) {
	cars := []*models.Car{{ID: 1, RenteonID: int64Ptr(4201), PricePerDay: 80, Deposit: 200}}
	f := newReconcilerFixture(config.AvailabilityModeBatch, cars, nil, availableAllJune(1))
	f.remote.available = []renteon.AvailableCategory{{CategoryID: 42}}

	result, err := f.reconcile.Reconcile(context.Background(), models.Window{Start: date("2024-06-10"), End: date("2024-06-13")}, cars)
	require.NoError(t, err)
	require.Len(t, result.Cars, 1)
	assert.Equal(t, 80.0, result.Cars[0].PricePerDay)
	assert.Equal(t, 200.0, result.Cars[0].Deposit)
}

func TestReconcile_NetworkErrorFallsBackToLocal(t *testing.T) {
	cars := []*models.Car{
		{ID: 1, RenteonID: int64Ptr(4201), PricePerDay: 80},
		{ID: 2, RenteonID: int64Ptr(4301), PricePerDay: 50},
		{ID: 3, PricePerDay: 30},
	}
	f := newReconcilerFixture(config.AvailabilityModeBatch, cars, nil, availableAllJune(1, 2, 3))
	f.remote.availableErr = &renteon.RemoteError{Endpoint: "POST /bookings/availability", Err: errors.New("connection refused")}

	window := models.Window{Start: date("2024-06-10"), End: date("2024-06-13")}
	result, err := f.reconcile.Reconcile(context.Background(), window, cars)
	require.NoError(t, err)

	local := FilterLocal(window, cars, nil, f.windows.windows)
	assert.False(t, result.RemoteChecked)
	assert.Equal(t, local, result.Cars)
	assert.Empty(t, result.Overlay)
}

func TestReconcile_CategoriesUnavailableFallsBackToLocal(t *testing.T) {
	cars := []*models.Car{{ID: 1, RenteonID: int64Ptr(4201)}}
	f := newReconcilerFixture(config.AvailabilityModeBatch, cars, nil, availableAllJune(1))
	f.remote.categoriesErr = &renteon.AuthError{StatusCode: 400}

	result, err := f.reconcile.Reconcile(context.Background(), models.Window{Start: date("2024-06-10"), End: date("2024-06-13")}, cars)
	require.NoError(t, err)
	assert.False(t, result.RemoteChecked)
	assert.Len(t, result.Cars, 1)
}

func TestReconcile_EmptyRemoteSuccessIsAuthoritative(t *testing.T) {
	cars := []*models.Car{{ID: 1, RenteonID: int64Ptr(4201)}, {ID: 2, RenteonID: int64Ptr(4301)}}
	f := newReconcilerFixture(config.AvailabilityModeBatch, cars, nil, availableAllJune(1, 2))
	f.remote.available = []renteon.AvailableCategory{}

	result, err := f.reconcile.Reconcile(context.Background(), models.Window{Start: date("2024-06-10"), End: date("2024-06-13")}, cars)
	require.NoError(t, err)
	assert.True(t, result.RemoteChecked)
	assert.Empty(t, result.Cars)
}

func TestReconcile_ConfirmedBookingExcludesRegardlessOfRemote(t *testing.T) {
	cars := []*models.Car{{ID: 1, RenteonID: int64Ptr(4201)}}
	bookings := []*models.Booking{{CarID: 1, StartDate: date("2024-06-01"), EndDate: date("2024-06-05"), Status: models.BookingConfirmed}}
	window := models.Window{Start: date("2024-06-03"), End: date("2024-06-04")}

	for _, remoteErr := range []error{nil, &renteon.RemoteError{Err: errors.New("timeout")}} {
		f := newReconcilerFixture(config.AvailabilityModeBatch, cars, bookings, availableAllJune(1))
		f.remote.available = []renteon.AvailableCategory{{CategoryID: 42, Amount: 300}}
		f.remote.availableErr = remoteErr

		result, err := f.reconcile.Reconcile(context.Background(), window, cars)
		require.NoError(t, err)
		assert.Empty(t, result.Cars)
	}
}

func TestReconcile_InvalidWindow(t *testing.T) {
	f := newReconcilerFixture(config.AvailabilityModeBatch, nil, nil, nil)
	_, err := f.reconcile.Reconcile(context.Background(), models.Window{Start: date("2024-06-10"), End: date("2024-06-10")}, nil)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestReconcile_ProbeModeIsBounded(t *testing.T) {
	var cars []*models.Car
	var categories []renteon.CarCategory
	calc := map[int64]*renteon.Calculation{}
	for i := int64(1); i <= 12; i++ {
		cars = append(cars, &models.Car{ID: i, RenteonID: int64Ptr(100 + i)})
		categories = append(categories, renteon.CarCategory{ID: i, CarModels: []renteon.CarModel{{ID: 100 + i}}})
		if i%2 == 0 {
			calc[i] = &renteon.Calculation{Total: 90, Services: []renteon.Service{{InsuranceDepositAmount: 400}}}
		}
	}

	f := newReconcilerFixture(config.AvailabilityModeProbe, cars, nil, availableAllJune(carIDs(cars)...))
	f.remote.categories = categories
	f.remote.calcResults = calc
	f.remote.calcDelay = 5 * time.Millisecond

	result, err := f.reconcile.Reconcile(context.Background(), models.Window{Start: date("2024-06-10"), End: date("2024-06-13")}, cars)
	require.NoError(t, err)

	assert.True(t, result.RemoteChecked)
	assert.Len(t, f.remote.calcCalls, 12)
	assert.LessOrEqual(t, f.remote.maxInFlight, 2)
	require.Len(t, result.Cars, 6)
	for _, c := range result.Cars {
		assert.Equal(t, int64(0), c.ID%2)
		assert.Equal(t, 30.0, c.PricePerDay)
		assert.Equal(t, 400.0, c.Deposit)
	}
}

func TestReconcile_ProbeNetworkErrorFallsBack(t *testing.T) {
	cars := []*models.Car{{ID: 1, RenteonID: int64Ptr(4201)}, {ID: 2, RenteonID: int64Ptr(4301)}}
	f := newReconcilerFixture(config.AvailabilityModeProbe, cars, nil, availableAllJune(1, 2))
	f.remote.calcDefaultErr = &renteon.RemoteError{Err: errors.New("connection reset")}

	result, err := f.reconcile.Reconcile(context.Background(), models.Window{Start: date("2024-06-10"), End: date("2024-06-13")}, cars)
	require.NoError(t, err)
	assert.False(t, result.RemoteChecked)
	assert.Len(t, result.Cars, 2)
}

func TestCheck(t *testing.T) {
	cars := []*models.Car{
		{ID: 1, RenteonID: int64Ptr(4201), PricePerDay: 80},
		{ID: 2, RenteonID: int64Ptr(4301), Status: models.CarStatusInactive},
	}
	f := newReconcilerFixture(config.AvailabilityModeBatch, cars, nil, availableAllJune(1, 2))
	f.remote.available = []renteon.AvailableCategory{{CategoryID: 42, Amount: 300}, {CategoryID: 43, Amount: 300}}

	res := f.reconcile.Check(context.Background(), "2024-06-10T10:00:00", "2024-06-13T10:00:00", 0, 77)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Data.Cars, 1)
	assert.Equal(t, int64(1), res.Data.Cars[0].ID)
	assert.Equal(t, int64(54), f.remote.availReqs[0].OfficeOutID)
	assert.Equal(t, int64(77), f.remote.availReqs[0].OfficeInID)

	res = f.reconcile.Check(context.Background(), "yesterday", "2024-06-13", 0, 0)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "date_out")
	assert.Nil(t, res.Data)

	res = f.reconcile.Check(context.Background(), "2024-06-13", "2024-06-10", 0, 0)
	assert.False(t, res.Success)
	assert.Equal(t, ErrInvalidWindow.Error(), res.Error)
}
