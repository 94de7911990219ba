package models

import "time"

// 远端操作类型
const (
	OpCreateBooking = "create_booking"
	OpCancelBooking = "cancel_booking"
)

// 远端操作状态
const (
	OpStatusPending = "pending"
	OpStatusDone    = "done"
	OpStatusFailed  = "failed"
)

// RemoteOperation 待推送到远端的操作（outbox 记录）
type RemoteOperation struct {
	ID            string    `json:"id" db:"id"`
	BookingID     int64     `json:"booking_id" db:"booking_id"`
	Kind          string    `json:"kind" db:"kind"`
	Status        string    `json:"status" db:"status"`
	Attempts      int       `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
