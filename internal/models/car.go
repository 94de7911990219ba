package models

import "time"

// 车辆状态
const (
	CarStatusActive   = "ACTIVE"
	CarStatusInactive = "INACTIVE"
)

// 变速箱类型
const (
	TransmissionManual    = "MANUAL"
	TransmissionAutomatic = "AUTOMATIC"
	TransmissionUnknown   = "UNKNOWN"
)

// Car 本地车辆
type Car struct {
	ID           int64     `json:"id" db:"id"`
	RenteonID    *int64    `json:"renteon_id,omitempty" db:"renteon_id"` // 远端车型 ID（少数情况下是分类 ID）
	Make         string    `json:"make" db:"make"`
	Model        string    `json:"model" db:"model"`
	Year         int       `json:"year" db:"year"`
	CategoryIDs  []int64   `json:"category_ids" db:"category_ids"` // 本地分类
	Transmission string    `json:"transmission" db:"transmission"`
	Seats        int       `json:"seats" db:"seats"`
	Doors        int       `json:"doors" db:"doors"`
	LicensePlate string    `json:"license_plate" db:"license_plate"`
	Mileage      int       `json:"mileage" db:"mileage"`
	PricePerDay  float64   `json:"price_per_day" db:"price_per_day"`
	Deposit      float64   `json:"deposit" db:"deposit"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// HasRenteonID 是否关联了远端车型
func (c *Car) HasRenteonID() bool {
	return c.RenteonID != nil && *c.RenteonID > 0
}

// CategoryOverride 远端 ID 到分类 ID 的人工映射
type CategoryOverride struct {
	RenteonID  int64     `json:"renteon_id" db:"renteon_id"`
	CategoryID int64     `json:"category_id" db:"category_id"`
	Note       string    `json:"note" db:"note"`
	Version    int       `json:"version" db:"version"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
