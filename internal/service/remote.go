package service

import (
	"context"
	"errors"
	"time"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/models"
	"github.com/langchou/rentsync/internal/state"
)

// 服务层错误
var (
	ErrMapping           = errors.New("no remote category for car")
	ErrBookingConflict   = models.ErrBookingConflict
	ErrInvalidTransition = state.ErrInvalidTransition
	ErrInvalidWindow     = errors.New("end date must be after start date")
	ErrCarInactive       = errors.New("car is not available for booking")
	ErrSyncInProgress    = errors.New("sync already running")
)

// Remote 远端系统会话，renteon.Session 实现该接口
type Remote interface {
	ListCategories(ctx context.Context) ([]renteon.CarCategory, error)
	CheckAvailability(ctx context.Context, req renteon.AvailabilityRequest) ([]renteon.AvailableCategory, error)
	Calculate(ctx context.Context, req renteon.CalculateRequest) (*renteon.Calculation, error)
	CreateBooking(ctx context.Context, req renteon.BookingRequest) (*renteon.BookingResult, error)
	CancelBooking(ctx context.Context, remoteID string) error
	ListOffices(ctx context.Context) ([]renteon.Office, error)
	ListEquipments(ctx context.Context) ([]renteon.Equipment, error)
	ListServices(ctx context.Context) ([]renteon.AdditionalService, error)
}

// RemoteFactory 每个任务或请求创建一个新会话，令牌随会话结束
type RemoteFactory func() Remote

// SessionFactory 基于 renteon.Client 的会话工厂
func SessionFactory(client *renteon.Client) RemoteFactory {
	return func() Remote {
		return client.NewSession()
	}
}

// Broadcaster 事件推送，ws.Hub 实现该接口
type Broadcaster interface {
	BroadcastMessage(msgType string, data interface{})
}

// CarStore 车辆存储
type CarStore interface {
	Create(ctx context.Context, car *models.Car) error
	GetByID(ctx context.Context, id int64) (*models.Car, error)
	GetByRenteonID(ctx context.Context, renteonID int64) (*models.Car, error)
	ListActive(ctx context.Context) ([]*models.Car, error)
	ListWithRenteonID(ctx context.Context) ([]*models.Car, error)
	UpdateDescriptive(ctx context.Context, car *models.Car) error
	UpdatePricing(ctx context.Context, id int64, pricePerDay, deposit float64) error
}

// AvailabilityStore 可用性窗口存储
type AvailabilityStore interface {
	ListOverlapping(ctx context.Context, carIDs []int64, window models.Window) ([]*models.AvailabilityWindow, error)
}

// BookingStore 订单存储
type BookingStore interface {
	GetByID(ctx context.Context, id int64) (*models.Booking, error)
	ListBlockingOverlapping(ctx context.Context, carIDs []int64, window models.Window) ([]*models.Booking, error)
	CreateWithOperation(ctx context.Context, b *models.Booking, op *models.RemoteOperation) error
	Transition(ctx context.Context, id int64, fn func(b *models.Booking) (*models.RemoteOperation, error)) (*models.Booking, error)
	SetRemoteBookingID(ctx context.Context, id int64, remoteID string) error
}

// OverrideStore 分类映射存储
type OverrideStore interface {
	List(ctx context.Context) ([]*models.CategoryOverride, error)
}

// ProposalStore 停用提议存储
type ProposalStore interface {
	ReplacePending(ctx context.Context, runAt time.Time, proposals []*models.DeactivationProposal) error
}

// OutboxStore outbox 存储
type OutboxStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.RemoteOperation, error)
	MarkDone(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error
}

// RemoteSettings 调用远端时的固定参数
type RemoteSettings struct {
	OfficeID    int64
	PricelistID int64
	Currency    string
}

func (s RemoteSettings) availabilityRequest(w models.Window, officeOut, officeIn int64) renteon.AvailabilityRequest {
	if officeOut <= 0 {
		officeOut = s.OfficeID
	}
	if officeIn <= 0 {
		officeIn = s.OfficeID
	}
	return renteon.AvailabilityRequest{
		DateOut:            renteon.FormatTime(w.Start),
		DateIn:             renteon.FormatTime(w.End),
		OfficeOutID:        officeOut,
		OfficeInID:         officeIn,
		BookAsCommissioner: true,
		PricelistID:        s.PricelistID,
		Currency:           s.Currency,
	}
}
