package repository

import (
	"context"
	"fmt"

	"github.com/langchou/rentsync/internal/models"
)

// AvailabilityRepository 车辆可用性窗口仓库
type AvailabilityRepository struct {
	db *DB
}

// NewAvailabilityRepository 创建可用性仓库
func NewAvailabilityRepository(db *DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// Create 创建可用性窗口
func (r *AvailabilityRepository) Create(ctx context.Context, w *models.AvailabilityWindow) error {
	query := `
		INSERT INTO availability_windows (car_id, start_date, end_date, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := r.db.Pool.QueryRow(ctx, query, w.CarID, w.StartDate, w.EndDate, w.Status).Scan(&w.ID); err != nil {
		return fmt.Errorf("insert availability window: %w", err)
	}
	return nil
}

// Delete 删除可用性窗口
func (r *AvailabilityRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete availability window: %w", models.ErrNotFound)
	}
	return nil
}

// ListOverlapping 获取与窗口相交的可用性记录
func (r *AvailabilityRepository) ListOverlapping(ctx context.Context, carIDs []int64, window models.Window) ([]*models.AvailabilityWindow, error) {
	query := `
		SELECT id, car_id, start_date, end_date, status
		FROM availability_windows
		WHERE car_id = ANY($1) AND start_date < $3 AND end_date > $2
		ORDER BY car_id, start_date
	`
	rows, err := r.db.Pool.Query(ctx, query, carIDs, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	defer rows.Close()

	var windows []*models.AvailabilityWindow
	for rows.Next() {
		w := &models.AvailabilityWindow{}
		if err := rows.Scan(&w.ID, &w.CarID, &w.StartDate, &w.EndDate, &w.Status); err != nil {
			return nil, fmt.Errorf("scan availability window: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}
