package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/rentsync/internal/models"
)

// OverrideRepository 分类人工映射仓库
type OverrideRepository struct {
	db *DB
}

// NewOverrideRepository 创建映射仓库
func NewOverrideRepository(db *DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// List 获取全部映射
func (r *OverrideRepository) List(ctx context.Context) ([]*models.CategoryOverride, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT renteon_id, category_id, note, version, updated_at FROM category_overrides ORDER BY renteon_id`)
	if err != nil {
		return nil, fmt.Errorf("list category overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*models.CategoryOverride
	for rows.Next() {
		o := &models.CategoryOverride{}
		if err := rows.Scan(&o.RenteonID, &o.CategoryID, &o.Note, &o.Version, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan category override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// Upsert 创建或更新映射，每次更新 version 加一
func (r *OverrideRepository) Upsert(ctx context.Context, o *models.CategoryOverride) error {
	query := `
		INSERT INTO category_overrides (renteon_id, category_id, note, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (renteon_id) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			note = EXCLUDED.note,
			version = category_overrides.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query, o.RenteonID, o.CategoryID, o.Note, time.Now()).Scan(&o.Version, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert category override: %w", err)
	}
	return nil
}

// Delete 删除映射
func (r *OverrideRepository) Delete(ctx context.Context, renteonID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM category_overrides WHERE renteon_id = $1`, renteonID)
	if err != nil {
		return fmt.Errorf("delete category override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete category override: %w", models.ErrNotFound)
	}
	return nil
}
