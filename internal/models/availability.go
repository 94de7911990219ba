package models

import (
	"math"
	"time"
)

// 可用性窗口状态
const (
	AvailabilityAvailable    = "AVAILABLE"
	AvailabilityMaintenance  = "MAINTENANCE"
	AvailabilityRented       = "RENTED"
	AvailabilityOutOfService = "OUT_OF_SERVICE"
)

// AvailabilityWindow 车辆可用性记录，由后台维护
type AvailabilityWindow struct {
	ID        int64     `json:"id" db:"id"`
	CarID     int64     `json:"car_id" db:"car_id"`
	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`
	Status    string    `json:"status" db:"status"`
}

// Window 查询时间窗口 [Start, End)
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid 结束时间必须晚于开始时间
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Overlaps 判断 [start, end) 与窗口是否相交
func (w Window) Overlaps(start, end time.Time) bool {
	return start.Before(w.End) && end.After(w.Start)
}

// CoveredBy 判断 [start, end] 是否完整覆盖窗口
func (w Window) CoveredBy(start, end time.Time) bool {
	return !start.After(w.Start) && !end.Before(w.End)
}

// Days 窗口天数，向上取整，至少 1 天
func (w Window) Days() int {
	days := int(math.Ceil(w.End.Sub(w.Start).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
