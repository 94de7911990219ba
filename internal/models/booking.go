package models

import "time"

// 订单状态
const (
	BookingPending   = "PENDING"
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
	BookingCompleted = "COMPLETED"
)

// Booking 本地订单
type Booking struct {
	ID              int64     `json:"id" db:"id"`
	CarID           int64     `json:"car_id" db:"car_id"`
	StartDate       time.Time `json:"start_date" db:"start_date"`
	EndDate         time.Time `json:"end_date" db:"end_date"`
	Status          string    `json:"status" db:"status"`
	PickupOfficeID  int64     `json:"pickup_office_id" db:"pickup_office_id"`
	DropoffOfficeID int64     `json:"dropoff_office_id" db:"dropoff_office_id"`
	CustomerName    string    `json:"customer_name" db:"customer_name"`
	CustomerEmail   string    `json:"customer_email" db:"customer_email"`
	TotalPrice      float64   `json:"total_price" db:"total_price"`
	RemoteBookingID *string   `json:"remote_booking_id,omitempty" db:"remote_booking_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// BlocksInventory 该订单是否占用车辆
func (b *Booking) BlocksInventory() bool {
	return b.Status == BookingPending || b.Status == BookingConfirmed
}
