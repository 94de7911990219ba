package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/rentsync/internal/models"
)

// ProposalRepository 停用提议仓库
type ProposalRepository struct {
	db *DB
}

// NewProposalRepository 创建停用提议仓库
func NewProposalRepository(db *DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// ReplacePending 用本次同步的结果替换所有未审核的提议
func (r *ProposalRepository) ReplacePending(ctx context.Context, runAt time.Time, proposals []*models.DeactivationProposal) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM deactivation_proposals WHERE status = 'PENDING'`); err != nil {
			return fmt.Errorf("clear pending proposals: %w", err)
		}
		for _, p := range proposals {
			p.Action = models.ActionDeactivate
			p.Status = models.ProposalPending
			p.SyncRunAt = runAt
			err := tx.QueryRow(ctx, `
				INSERT INTO deactivation_proposals (car_id, renteon_id, action, status, sync_run_at)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id
			`, p.CarID, p.RenteonID, p.Action, p.Status, p.SyncRunAt).Scan(&p.ID)
			if err != nil {
				return fmt.Errorf("insert proposal: %w", err)
			}
		}
		return nil
	})
}

// ListByStatus 按状态列出提议
func (r *ProposalRepository) ListByStatus(ctx context.Context, status string) ([]*models.DeactivationProposal, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, car_id, renteon_id, action, status, sync_run_at, reviewed_at
		FROM deactivation_proposals
		WHERE ($1 = '' OR status = $1)
		ORDER BY id
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.DeactivationProposal
	for rows.Next() {
		p := &models.DeactivationProposal{}
		if err := rows.Scan(&p.ID, &p.CarID, &p.RenteonID, &p.Action, &p.Status, &p.SyncRunAt, &p.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// Apply 执行停用：提议标记为 APPLIED，车辆下架
func (r *ProposalRepository) Apply(ctx context.Context, id int64) (*models.DeactivationProposal, error) {
	return r.review(ctx, id, models.ProposalApplied, true)
}

// Dismiss 驳回提议，车辆保持上架
func (r *ProposalRepository) Dismiss(ctx context.Context, id int64) (*models.DeactivationProposal, error) {
	return r.review(ctx, id, models.ProposalDismissed, false)
}

func (r *ProposalRepository) review(ctx context.Context, id int64, status string, deactivate bool) (*models.DeactivationProposal, error) {
	p := &models.DeactivationProposal{}
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id, car_id, renteon_id, action, status, sync_run_at, reviewed_at
			FROM deactivation_proposals WHERE id = $1 AND status = 'PENDING' FOR UPDATE
		`, id).Scan(&p.ID, &p.CarID, &p.RenteonID, &p.Action, &p.Status, &p.SyncRunAt, &p.ReviewedAt)
		if err != nil {
			return fmt.Errorf("lock proposal: %w", notFound(err))
		}

		now := time.Now()
		if _, err := tx.Exec(ctx, `UPDATE deactivation_proposals SET status = $1, reviewed_at = $2 WHERE id = $3`, status, now, id); err != nil {
			return fmt.Errorf("update proposal: %w", err)
		}
		if deactivate {
			if _, err := tx.Exec(ctx, `UPDATE cars SET status = $1, updated_at = $2 WHERE id = $3`, models.CarStatusInactive, now, p.CarID); err != nil {
				return fmt.Errorf("deactivate car: %w", err)
			}
		}
		p.Status = status
		p.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
