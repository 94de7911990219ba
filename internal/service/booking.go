package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/models"
	"github.com/langchou/rentsync/internal/state"
)

// CreateBookingInput 下单参数
type CreateBookingInput struct {
	CarID           int64     `json:"car_id"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	PickupOfficeID  int64     `json:"pickup_office_id"`
	DropoffOfficeID int64     `json:"dropoff_office_id"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
}

// Notifier 提交后唤醒 outbox worker
type Notifier interface {
	Notify()
}

// BookingService 本地订单服务。
// 订单写入与 outbox 记录在同一事务内提交，远端推送由 OutboxWorker 完成。
type BookingService struct {
	logger   *zap.Logger
	cars     CarStore
	bookings BookingStore
	officeID int64
	notifier Notifier
}

// NewBookingService 创建订单服务
func NewBookingService(logger *zap.Logger, cars CarStore, bookings BookingStore, defaultOfficeID int64, notifier Notifier) *BookingService {
	return &BookingService{
		logger:   logger,
		cars:     cars,
		bookings: bookings,
		officeID: defaultOfficeID,
		notifier: notifier,
	}
}

// Get 获取订单
func (s *BookingService) Get(ctx context.Context, id int64) (*models.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// Create 创建 PENDING 订单并写入 create_booking outbox 记录
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	window := models.Window{Start: in.StartDate, End: in.EndDate}
	if !window.Valid() {
		return nil, ErrInvalidWindow
	}

	car, err := s.cars.GetByID(ctx, in.CarID)
	if err != nil {
		return nil, fmt.Errorf("get car: %w", err)
	}
	if car.Status != models.CarStatusActive {
		return nil, ErrCarInactive
	}

	pickup, dropoff := in.PickupOfficeID, in.DropoffOfficeID
	if pickup <= 0 {
		pickup = s.officeID
	}
	if dropoff <= 0 {
		dropoff = s.officeID
	}

	booking := &models.Booking{
		CarID:           car.ID,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		Status:          models.BookingPending,
		PickupOfficeID:  pickup,
		DropoffOfficeID: dropoff,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		TotalPrice:      car.PricePerDay * float64(window.Days()),
	}
	op := &models.RemoteOperation{Kind: models.OpCreateBooking}

	if err := s.bookings.CreateWithOperation(ctx, booking, op); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("car_id", booking.CarID),
		zap.String("operation_id", op.ID),
	)
	s.notify()
	return booking, nil
}

// Confirm PENDING -> CONFIRMED
func (s *BookingService) Confirm(ctx context.Context, id int64) (*models.Booking, error) {
	return s.transition(ctx, id, state.EventConfirm)
}

// Cancel PENDING/CONFIRMED -> CANCELLED，写入 cancel_booking outbox 记录
func (s *BookingService) Cancel(ctx context.Context, id int64) (*models.Booking, error) {
	return s.transition(ctx, id, state.EventCancel)
}

// Complete CONFIRMED -> COMPLETED
func (s *BookingService) Complete(ctx context.Context, id int64) (*models.Booking, error) {
	return s.transition(ctx, id, state.EventComplete)
}

// Actions 订单当前状态下允许的操作
func (s *BookingService) Actions(b *models.Booking) []string {
	return state.NewBookingMachine(b.Status, nil).AvailableEvents()
}

func (s *BookingService) transition(ctx context.Context, id int64, event string) (*models.Booking, error) {
	var enqueued *models.RemoteOperation

	booking, err := s.bookings.Transition(ctx, id, func(b *models.Booking) (*models.RemoteOperation, error) {
		var op *models.RemoteOperation
		machine := state.NewBookingMachine(b.Status, func(from, to string) {
			if to == models.BookingCancelled {
				op = &models.RemoteOperation{Kind: models.OpCancelBooking}
			}
		})
		if err := machine.Trigger(ctx, event); err != nil {
			return nil, err
		}
		b.Status = machine.Current()
		enqueued = op
		return op, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s booking %d: %w", event, id, err)
	}

	s.logger.Info("Booking status changed", zap.Int64("booking_id", id), zap.String("event", event), zap.String("status", booking.Status))
	if enqueued != nil {
		s.notify()
	}
	return booking, nil
}

func (s *BookingService) notify() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}
