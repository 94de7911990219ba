package models

import "time"

// SyncStats 单次同步统计，不落库
type SyncStats struct {
	Created      int  `json:"created"`
	Updated      int  `json:"updated"`
	Deactivated  int  `json:"deactivated"`
	TotalScanned int  `json:"totalScanned"`
	Skipped      int  `json:"skipped"`
	Failed       int  `json:"failed"`
	Partial      bool `json:"partial,omitempty"` // 超出执行时限，剩余工作被放弃
}

// 停用提议状态
const (
	ProposalPending   = "PENDING"
	ProposalApplied   = "APPLIED"
	ProposalDismissed = "DISMISSED"
)

// ActionDeactivate 停用动作
const ActionDeactivate = "Deactivate"

// DeactivationProposal 远端已消失的车辆，等待人工确认是否停用
type DeactivationProposal struct {
	ID         int64      `json:"id" db:"id"`
	CarID      int64      `json:"car_id" db:"car_id"`
	RenteonID  int64      `json:"renteon_id" db:"renteon_id"`
	Action     string     `json:"action" db:"action"`
	Status     string     `json:"status" db:"status"`
	SyncRunAt  time.Time  `json:"sync_run_at" db:"sync_run_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
}
