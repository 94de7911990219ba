package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/metrics"
	"github.com/langchou/rentsync/internal/models"
	"github.com/langchou/rentsync/pkg/ws"
)

// OutboxConfig outbox worker 配置
type OutboxConfig struct {
	RemoteSettings
	PollInterval time.Duration
	MaxAttempts  int
	BatchSize    int
}

// OutboxEvent 推送给 WebSocket 的 outbox 处理结果
type OutboxEvent struct {
	OperationID string `json:"operation_id"`
	BookingID   int64  `json:"booking_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

// OutboxWorker 将订单变更推送到远端。
// 失败按指数退避重试，超过 MaxAttempts 标记为 failed；本地订单状态不受远端结果影响。
type OutboxWorker struct {
	cfg       OutboxConfig
	logger    *zap.Logger
	ops       OutboxStore
	bookings  BookingStore
	cars      CarStore
	overrides OverrideStore
	cache     *CategoryCache
	newRemote RemoteFactory
	hub       Broadcaster
	metrics   *metrics.Metrics

	newBackOff func() *backoff.ExponentialBackOff
	now        func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wakeCh  chan struct{}
	wg      sync.WaitGroup
}

// NewOutboxWorker 创建 outbox worker
func NewOutboxWorker(
	cfg OutboxConfig,
	logger *zap.Logger,
	ops OutboxStore,
	bookings BookingStore,
	cars CarStore,
	overrides OverrideStore,
	cache *CategoryCache,
	newRemote RemoteFactory,
	hub Broadcaster,
	m *metrics.Metrics,
) *OutboxWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &OutboxWorker{
		cfg:        cfg,
		logger:     logger,
		ops:        ops,
		bookings:   bookings,
		cars:       cars,
		overrides:  overrides,
		cache:      cache,
		newRemote:  newRemote,
		hub:        hub,
		metrics:    m,
		newBackOff: defaultBackOff,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		wakeCh:     make(chan struct{}, 1),
	}
}

func defaultBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.MaxInterval = 30 * time.Minute
	return b
}

// Start 启动轮询
func (w *OutboxWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Info("Outbox worker already running, skipping start")
		return
	}
	w.stopCh = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.pollLoop(ctx)
	w.logger.Info("Outbox worker started", zap.Duration("poll_interval", w.cfg.PollInterval))
}

// Stop 停止轮询并等待当前批次完成
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("Outbox worker stopped")
}

// Notify 订单事务提交后立即唤醒 worker
func (w *OutboxWorker) Notify() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *OutboxWorker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		case <-w.wakeCh:
			w.drain(ctx)
		}
	}
}

// drain 持续处理直到没有到期记录
func (w *OutboxWorker) drain(ctx context.Context) {
	for {
		n, err := w.ProcessDue(ctx)
		if err != nil {
			w.logger.Error("Failed to process outbox", zap.Error(err))
			return
		}
		if n < w.cfg.BatchSize {
			return
		}
		select {
		case <-w.stopCh:
			return
		default:
		}
	}
}

// ProcessDue 领取并处理一批到期记录，返回领取数量
func (w *OutboxWorker) ProcessDue(ctx context.Context) (int, error) {
	ops, err := w.ops.ClaimDue(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due operations: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}

	remote := w.newRemote()
	for _, op := range ops {
		if ctx.Err() != nil {
			// 未处理的记录租约到期后会被重新领取
			return len(ops), nil
		}
		w.handle(ctx, remote, op)
	}
	return len(ops), nil
}

func (w *OutboxWorker) handle(ctx context.Context, remote Remote, op *models.RemoteOperation) {
	attempts := op.Attempts + 1
	err := w.push(ctx, remote, op)

	event := OutboxEvent{OperationID: op.ID, BookingID: op.BookingID, Kind: op.Kind, Attempts: attempts}
	switch {
	case err == nil:
		if markErr := w.ops.MarkDone(ctx, op.ID); markErr != nil {
			w.logger.Error("Failed to mark operation done", zap.String("operation_id", op.ID), zap.Error(markErr))
			return
		}
		event.Status = models.OpStatusDone
		w.metrics.ObserveOutbox(op.Kind, "done")
		w.logger.Info("Remote operation pushed",
			zap.String("operation_id", op.ID),
			zap.String("kind", op.Kind),
			zap.Int64("booking_id", op.BookingID),
		)

	case isPermanent(err) || attempts >= w.cfg.MaxAttempts:
		if markErr := w.ops.MarkFailed(ctx, op.ID, attempts, err.Error()); markErr != nil {
			w.logger.Error("Failed to mark operation failed", zap.String("operation_id", op.ID), zap.Error(markErr))
			return
		}
		event.Status = models.OpStatusFailed
		event.Error = err.Error()
		w.metrics.ObserveOutbox(op.Kind, "failed")
		w.logger.Error("Remote operation abandoned",
			zap.String("operation_id", op.ID),
			zap.String("kind", op.Kind),
			zap.Int64("booking_id", op.BookingID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)

	default:
		next := w.now().Add(w.retryDelay(attempts))
		if markErr := w.ops.MarkRetry(ctx, op.ID, attempts, next, err.Error()); markErr != nil {
			w.logger.Error("Failed to reschedule operation", zap.String("operation_id", op.ID), zap.Error(markErr))
			return
		}
		event.Status = models.OpStatusPending
		event.Error = err.Error()
		w.metrics.ObserveOutbox(op.Kind, "retry")
		w.logger.Warn("Remote operation failed, will retry",
			zap.String("operation_id", op.ID),
			zap.String("kind", op.Kind),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(err),
		)
	}

	if w.hub != nil {
		w.hub.BroadcastMessage(ws.MsgTypeOutbox, event)
	}
}

// retryDelay 第 attempts 次失败后的等待时间
func (w *OutboxWorker) retryDelay(attempts int) time.Duration {
	b := w.newBackOff()
	b.Reset()
	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (w *OutboxWorker) push(ctx context.Context, remote Remote, op *models.RemoteOperation) error {
	booking, err := w.bookings.GetByID(ctx, op.BookingID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	switch op.Kind {
	case models.OpCreateBooking:
		return w.pushCreate(ctx, remote, booking)
	case models.OpCancelBooking:
		return w.pushCancel(ctx, remote, booking)
	default:
		return backoff.Permanent(fmt.Errorf("unknown operation kind %q", op.Kind))
	}
}

func (w *OutboxWorker) pushCreate(ctx context.Context, remote Remote, booking *models.Booking) error {
	if booking.RemoteBookingID != nil {
		return nil
	}

	car, err := w.cars.GetByID(ctx, booking.CarID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	mapper, err := loadMapper(ctx, remote, w.cache, w.overrides)
	if err != nil {
		return err
	}
	categoryID, err := mapper.MustResolve(car)
	if err != nil {
		return backoff.Permanent(err)
	}

	window := models.Window{Start: booking.StartDate, End: booking.EndDate}
	req := renteon.BookingRequest{
		CalculateRequest: renteon.CalculateRequest{
			AvailabilityRequest: w.cfg.availabilityRequest(window, booking.PickupOfficeID, booking.DropoffOfficeID),
			CarCategoryID:       categoryID,
		},
		ClientName:        booking.CustomerName,
		ClientEmail:       booking.CustomerEmail,
		ExternalReference: "booking-" + strconv.FormatInt(booking.ID, 10),
	}

	result, err := remote.CreateBooking(ctx, req)
	if err != nil {
		return classify(err)
	}
	// 远端订单已创建，重试只会重复下单，失败时保留远端 ID 供人工处理
	if err := w.bookings.SetRemoteBookingID(ctx, booking.ID, result.ID); err != nil {
		w.logger.Error("Remote booking created but its id could not be stored",
			zap.Int64("booking_id", booking.ID),
			zap.String("remote_booking_id", result.ID),
			zap.Error(err),
		)
		return backoff.Permanent(fmt.Errorf("store remote booking id %s: %w", result.ID, err))
	}
	return nil
}

func (w *OutboxWorker) pushCancel(ctx context.Context, remote Remote, booking *models.Booking) error {
	if booking.RemoteBookingID == nil {
		// 远端从未创建成功，无需取消
		w.logger.Info("Booking has no remote id, cancel is a no-op", zap.Int64("booking_id", booking.ID))
		return nil
	}
	if err := remote.CancelBooking(ctx, *booking.RemoteBookingID); err != nil {
		return classify(err)
	}
	return nil
}

// classify 远端明确拒绝（4xx，除超时、限流与认证）不再重试
func classify(err error) error {
	code := renteon.StatusCode(err)
	if renteon.IsAuthError(err) || code == 0 || code >= 500 {
		return err
	}
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return err
	}
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}
