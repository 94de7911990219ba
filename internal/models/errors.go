package models

import "errors"

// 仓库层通用错误
var (
	ErrNotFound        = errors.New("not found")
	ErrBookingConflict = errors.New("car already booked for the requested window")
)
