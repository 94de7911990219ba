package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/models"
)

var testLogger = zap.NewNop()

func int64Ptr(v int64) *int64 { return &v }

// fakeRemote 可编程的远端会话
type fakeRemote struct {
	mu sync.Mutex

	categories    []renteon.CarCategory
	categoriesErr error

	available    []renteon.AvailableCategory
	availableErr error
	availReqs    []renteon.AvailabilityRequest

	// calculate 按分类返回结果；未配置的分类返回 calcDefaultErr
	calcResults    map[int64]*renteon.Calculation
	calcErrs       map[int64]error
	calcDefaultErr error
	calcCalls      []int64
	inFlight       int
	maxInFlight    int
	calcDelay      time.Duration

	createResult *renteon.BookingResult
	createErr    error
	createReqs   []renteon.BookingRequest
	cancelErr    error
	cancelled    []string
}

func (f *fakeRemote) ListCategories(ctx context.Context) ([]renteon.CarCategory, error) {
	return f.categories, f.categoriesErr
}

func (f *fakeRemote) CheckAvailability(ctx context.Context, req renteon.AvailabilityRequest) ([]renteon.AvailableCategory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availReqs = append(f.availReqs, req)
	return f.available, f.availableErr
}

func (f *fakeRemote) Calculate(ctx context.Context, req renteon.CalculateRequest) (*renteon.Calculation, error) {
	f.mu.Lock()
	f.calcCalls = append(f.calcCalls, req.CarCategoryID)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.calcDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err, ok := f.calcErrs[req.CarCategoryID]; ok {
		return nil, err
	}
	if calc, ok := f.calcResults[req.CarCategoryID]; ok {
		return calc, nil
	}
	if f.calcDefaultErr != nil {
		return nil, f.calcDefaultErr
	}
	return nil, &renteon.RemoteError{Endpoint: "POST /bookings/calculate", StatusCode: 422}
}

func (f *fakeRemote) CreateBooking(ctx context.Context, req renteon.BookingRequest) (*renteon.BookingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReqs = append(f.createReqs, req)
	return f.createResult, f.createErr
}

func (f *fakeRemote) CancelBooking(ctx context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, remoteID)
	return f.cancelErr
}

func (f *fakeRemote) ListOffices(ctx context.Context) ([]renteon.Office, error) { return nil, nil }

func (f *fakeRemote) ListEquipments(ctx context.Context) ([]renteon.Equipment, error) {
	return nil, nil
}

func (f *fakeRemote) ListServices(ctx context.Context) ([]renteon.AdditionalService, error) {
	return nil, nil
}

func (f *fakeRemote) factory() RemoteFactory {
	return func() Remote { return f }
}

// memCars 内存车辆存储
type memCars struct {
	mu     sync.Mutex
	nextID int64
	cars   map[int64]*models.Car
}

func newMemCars(cars ...*models.Car) *memCars {
	m := &memCars{cars: make(map[int64]*models.Car)}
	for _, c := range cars {
		if c.ID == 0 {
			m.nextID++
			c.ID = m.nextID
		} else if c.ID > m.nextID {
			m.nextID = c.ID
		}
		if c.Status == "" {
			c.Status = models.CarStatusActive
		}
		m.cars[c.ID] = c
	}
	return m
}

func (m *memCars) sorted(filter func(*models.Car) bool) []*models.Car {
	var out []*models.Car
	for _, c := range m.cars {
		if filter(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memCars) Create(ctx context.Context, car *models.Car) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	car.ID = m.nextID
	cp := *car
	m.cars[car.ID] = &cp
	return nil
}

func (m *memCars) GetByID(ctx context.Context, id int64) (*models.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cars[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCars) GetByRenteonID(ctx context.Context, renteonID int64) (*models.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := m.sorted(func(c *models.Car) bool { return c.RenteonID != nil && *c.RenteonID == renteonID })
	if len(found) == 0 {
		return nil, models.ErrNotFound
	}
	return found[0], nil
}

func (m *memCars) ListActive(ctx context.Context) ([]*models.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c *models.Car) bool { return c.Status == models.CarStatusActive }), nil
}

func (m *memCars) ListWithRenteonID(ctx context.Context) ([]*models.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c *models.Car) bool { return c.RenteonID != nil }), nil
}

func (m *memCars) UpdateDescriptive(ctx context.Context, car *models.Car) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cars[car.ID]
	if !ok {
		return models.ErrNotFound
	}
	c.Make, c.Model, c.Year = car.Make, car.Model, car.Year
	c.Transmission, c.Seats, c.Doors = car.Transmission, car.Seats, car.Doors
	return nil
}

func (m *memCars) UpdatePricing(ctx context.Context, id int64, pricePerDay, deposit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cars[id]
	if !ok {
		return models.ErrNotFound
	}
	c.PricePerDay, c.Deposit = pricePerDay, deposit
	return nil
}

func (m *memCars) get(id int64) *models.Car {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.cars[id]
	return &cp
}

// memWindows 内存可用性存储
type memWindows struct {
	windows []*models.AvailabilityWindow
}

func (m *memWindows) ListOverlapping(ctx context.Context, carIDs []int64, window models.Window) ([]*models.AvailabilityWindow, error) {
	ids := make(map[int64]bool)
	for _, id := range carIDs {
		ids[id] = true
	}
	var out []*models.AvailabilityWindow
	for _, w := range m.windows {
		if ids[w.CarID] && window.Overlaps(w.StartDate, w.EndDate) {
			out = append(out, w)
		}
	}
	return out, nil
}

// memBookings 内存订单存储，带 outbox 记录
type memBookings struct {
	mu       sync.Mutex
	nextID   int64
	bookings map[int64]*models.Booking
	ops      []*models.RemoteOperation

	setRemoteErr error
}

func newMemBookings(bookings ...*models.Booking) *memBookings {
	m := &memBookings{bookings: make(map[int64]*models.Booking)}
	for _, b := range bookings {
		m.nextID++
		if b.ID == 0 {
			b.ID = m.nextID
		}
		m.bookings[b.ID] = b
	}
	return m
}

func (m *memBookings) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBookings) ListBlockingOverlapping(ctx context.Context, carIDs []int64, window models.Window) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[int64]bool)
	for _, id := range carIDs {
		ids[id] = true
	}
	var out []*models.Booking
	for _, b := range m.bookings {
		if ids[b.CarID] && b.BlocksInventory() && window.Overlaps(b.StartDate, b.EndDate) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBookings) CreateWithOperation(ctx context.Context, b *models.Booking, op *models.RemoteOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bookings {
		if existing.CarID == b.CarID && existing.BlocksInventory() && existing.StartDate.Before(b.EndDate) && existing.EndDate.After(b.StartDate) {
			return models.ErrBookingConflict
		}
	}
	m.nextID++
	b.ID = m.nextID
	cp := *b
	m.bookings[b.ID] = &cp
	if op != nil {
		op.BookingID = b.ID
		op.ID = fmt.Sprintf("op-%d", len(m.ops)+1)
		op.Status = models.OpStatusPending
		m.ops = append(m.ops, op)
	}
	return nil
}

func (m *memBookings) Transition(ctx context.Context, id int64, fn func(b *models.Booking) (*models.RemoteOperation, error)) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *b
	op, err := fn(&cp)
	if err != nil {
		return nil, err
	}
	m.bookings[id] = &cp
	if op != nil {
		op.BookingID = id
		op.ID = fmt.Sprintf("op-%d", len(m.ops)+1)
		op.Status = models.OpStatusPending
		m.ops = append(m.ops, op)
	}
	out := cp
	return &out, nil
}

func (m *memBookings) SetRemoteBookingID(ctx context.Context, id int64, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setRemoteErr != nil {
		return m.setRemoteErr
	}
	b, ok := m.bookings[id]
	if !ok {
		return models.ErrNotFound
	}
	b.RemoteBookingID = &remoteID
	return nil
}

// memOverrides 内存映射存储
type memOverrides struct {
	overrides []*models.CategoryOverride
}

func (m *memOverrides) List(ctx context.Context) ([]*models.CategoryOverride, error) {
	return m.overrides, nil
}

// memProposals 内存停用提议存储
type memProposals struct {
	runAt   time.Time
	pending []*models.DeactivationProposal
	calls   int
}

func (m *memProposals) ReplacePending(ctx context.Context, runAt time.Time, proposals []*models.DeactivationProposal) error {
	m.calls++
	m.runAt = runAt
	m.pending = proposals
	return nil
}

// memOutbox 内存 outbox 存储
type memOutbox struct {
	mu  sync.Mutex
	ops []*models.RemoteOperation
}

func (m *memOutbox) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.RemoteOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RemoteOperation
	for _, op := range m.ops {
		if op.Status == models.OpStatusPending && !op.NextAttemptAt.After(now) && len(out) < limit {
			cp := *op
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memOutbox) find(id string) *models.RemoteOperation {
	for _, op := range m.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

func (m *memOutbox) MarkDone(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := m.find(id)
	op.Status = models.OpStatusDone
	op.Attempts++
	op.LastError = ""
	return nil
}

func (m *memOutbox) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := m.find(id)
	op.Attempts = attempts
	op.NextAttemptAt = next
	op.LastError = lastErr
	return nil
}

func (m *memOutbox) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := m.find(id)
	op.Status = models.OpStatusFailed
	op.Attempts = attempts
	op.LastError = lastErr
	return nil
}

// recordingHub 记录广播消息
type recordingHub struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHub) BroadcastMessage(msgType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgType)
}

// countingNotifier 记录唤醒次数
type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify() {
	n.calls++
}
