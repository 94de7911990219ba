package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/langchou/rentsync/internal/models"
)

const operationColumns = `id, booking_id, kind, status, attempts, next_attempt_at, last_error, created_at, updated_at`

// claimLease 领取后推迟的时间，防止多个 worker 同时处理同一记录
const claimLease = 2 * time.Minute

// OutboxRepository 远端操作 outbox 仓库
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository 创建 outbox 仓库
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// insertOperation 在给定事务内写入 outbox 记录
func insertOperation(ctx context.Context, tx pgx.Tx, op *models.RemoteOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	now := time.Now()
	if op.Status == "" {
		op.Status = models.OpStatusPending
	}
	if op.NextAttemptAt.IsZero() {
		op.NextAttemptAt = now
	}
	op.CreatedAt = now
	op.UpdatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO remote_operations (id, booking_id, kind, status, attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, op.ID, op.BookingID, op.Kind, op.Status, op.Attempts, op.NextAttemptAt, op.LastError, op.CreatedAt, op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert remote operation: %w", err)
	}
	return nil
}

func scanOperation(row pgx.Row) (*models.RemoteOperation, error) {
	op := &models.RemoteOperation{}
	err := row.Scan(
		&op.ID,
		&op.BookingID,
		&op.Kind,
		&op.Status,
		&op.Attempts,
		&op.NextAttemptAt,
		&op.LastError,
		&op.CreatedAt,
		&op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// ClaimDue 领取到期的 pending 记录，同一订单按创建顺序处理
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.RemoteOperation, error) {
	var ops []*models.RemoteOperation
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+operationColumns+`
			FROM remote_operations o
			WHERE status = 'pending' AND next_attempt_at <= $1
			  AND NOT EXISTS (
			    SELECT 1 FROM remote_operations e
			    WHERE e.booking_id = o.booking_id AND e.status = 'pending' AND e.created_at < o.created_at
			  )
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now, limit)
		if err != nil {
			return fmt.Errorf("select due operations: %w", err)
		}
		for rows.Next() {
			op, err := scanOperation(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan remote operation: %w", err)
			}
			ops = append(ops, op)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, op := range ops {
			if _, err := tx.Exec(ctx, `UPDATE remote_operations SET next_attempt_at = $1 WHERE id = $2`, now.Add(claimLease), op.ID); err != nil {
				return fmt.Errorf("lease remote operation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// MarkDone 标记完成
func (r *OutboxRepository) MarkDone(ctx context.Context, id string) error {
	query := `UPDATE remote_operations SET status = 'done', attempts = attempts + 1, last_error = '', updated_at = $1 WHERE id = $2`
	if _, err := r.db.Pool.Exec(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("mark operation done: %w", err)
	}
	return nil
}

// MarkRetry 记录失败并安排下一次尝试
func (r *OutboxRepository) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	query := `UPDATE remote_operations SET attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = $4 WHERE id = $5`
	if _, err := r.db.Pool.Exec(ctx, query, attempts, next, lastErr, time.Now(), id); err != nil {
		return fmt.Errorf("mark operation retry: %w", err)
	}
	return nil
}

// MarkFailed 超出重试次数，不再处理
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	query := `UPDATE remote_operations SET status = 'failed', attempts = $1, last_error = $2, updated_at = $3 WHERE id = $4`
	if _, err := r.db.Pool.Exec(ctx, query, attempts, lastErr, time.Now(), id); err != nil {
		return fmt.Errorf("mark operation failed: %w", err)
	}
	return nil
}

// ListByStatus 按状态列出记录，status 为空时列出全部
func (r *OutboxRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.RemoteOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM remote_operations WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list remote operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.RemoteOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan remote operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
