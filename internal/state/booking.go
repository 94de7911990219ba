package state

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/looplab/fsm"

	"github.com/langchou/rentsync/internal/models"
)

// 订单事件
const (
	EventConfirm  = "confirm"
	EventCancel   = "cancel"
	EventComplete = "complete"
)

// ErrInvalidTransition 当前状态不允许该事件
var ErrInvalidTransition = errors.New("invalid booking transition")

// BookingMachine 订单状态机。
// 每次状态变更都会回调 onTransition，调用方据此写入 outbox。
type BookingMachine struct {
	fsm          *fsm.FSM
	onTransition func(from, to string)
}

// NewBookingMachine 以订单当前状态创建状态机
func NewBookingMachine(status string, onTransition func(from, to string)) *BookingMachine {
	if status == "" {
		status = models.BookingPending
	}

	m := &BookingMachine{onTransition: onTransition}
	m.fsm = fsm.NewFSM(
		status,
		fsm.Events{
			{Name: EventConfirm, Src: []string{models.BookingPending}, Dst: models.BookingConfirmed},
			{Name: EventCancel, Src: []string{models.BookingPending, models.BookingConfirmed}, Dst: models.BookingCancelled},
			{Name: EventComplete, Src: []string{models.BookingConfirmed}, Dst: models.BookingCompleted},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if m.onTransition != nil && e.Src != e.Dst {
					m.onTransition(e.Src, e.Dst)
				}
			},
		},
	)
	return m
}

// Current 当前状态
func (m *BookingMachine) Current() string {
	return m.fsm.Current()
}

// Can 是否允许触发事件
func (m *BookingMachine) Can(event string) bool {
	return m.fsm.Can(event)
}

// Trigger 触发事件
func (m *BookingMachine) Trigger(ctx context.Context, event string) error {
	if !m.fsm.Can(event) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, m.fsm.Current())
	}
	if err := m.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}

// AvailableEvents 当前状态下可触发的事件，按名称排序
func (m *BookingMachine) AvailableEvents() []string {
	events := m.fsm.AvailableTransitions()
	sort.Strings(events)
	return events
}
