package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/rentsync/internal/models"
)

const carColumns = `id, renteon_id, make, model, year, category_ids, transmission, seats, doors,
	license_plate, mileage, price_per_day, deposit, status, created_at, updated_at`

// CarRepository 车辆数据仓库
type CarRepository struct {
	db *DB
}

// NewCarRepository 创建车辆仓库
func NewCarRepository(db *DB) *CarRepository {
	return &CarRepository{db: db}
}

func scanCar(row pgx.Row) (*models.Car, error) {
	car := &models.Car{}
	err := row.Scan(
		&car.ID,
		&car.RenteonID,
		&car.Make,
		&car.Model,
		&car.Year,
		&car.CategoryIDs,
		&car.Transmission,
		&car.Seats,
		&car.Doors,
		&car.LicensePlate,
		&car.Mileage,
		&car.PricePerDay,
		&car.Deposit,
		&car.Status,
		&car.CreatedAt,
		&car.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return car, nil
}

func (r *CarRepository) queryCars(ctx context.Context, query string, args ...interface{}) ([]*models.Car, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}
	defer rows.Close()

	var cars []*models.Car
	for rows.Next() {
		car, err := scanCar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan car: %w", err)
		}
		cars = append(cars, car)
	}

	return cars, rows.Err()
}

// Create 创建车辆
func (r *CarRepository) Create(ctx context.Context, car *models.Car) error {
	query := `
		INSERT INTO cars (renteon_id, make, model, year, category_ids, transmission, seats, doors,
			license_plate, mileage, price_per_day, deposit, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	if car.CategoryIDs == nil {
		car.CategoryIDs = []int64{}
	}
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		car.RenteonID,
		car.Make,
		car.Model,
		car.Year,
		car.CategoryIDs,
		car.Transmission,
		car.Seats,
		car.Doors,
		car.LicensePlate,
		car.Mileage,
		car.PricePerDay,
		car.Deposit,
		car.Status,
		now,
		now,
	).Scan(&car.ID)

	if err != nil {
		return fmt.Errorf("insert car: %w", err)
	}

	car.CreatedAt = now
	car.UpdatedAt = now
	return nil
}

// GetByID 通过 ID 获取车辆
func (r *CarRepository) GetByID(ctx context.Context, id int64) (*models.Car, error) {
	query := `SELECT ` + carColumns + ` FROM cars WHERE id = $1`
	car, err := scanCar(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get car by id: %w", notFound(err))
	}
	return car, nil
}

// GetByRenteonID 通过远端车型 ID 获取车辆
func (r *CarRepository) GetByRenteonID(ctx context.Context, renteonID int64) (*models.Car, error) {
	query := `SELECT ` + carColumns + ` FROM cars WHERE renteon_id = $1 ORDER BY id LIMIT 1`
	car, err := scanCar(r.db.Pool.QueryRow(ctx, query, renteonID))
	if err != nil {
		return nil, fmt.Errorf("get car by renteon_id: %w", notFound(err))
	}
	return car, nil
}

// List 获取所有车辆
func (r *CarRepository) List(ctx context.Context) ([]*models.Car, error) {
	return r.queryCars(ctx, `SELECT `+carColumns+` FROM cars ORDER BY id`)
}

// ListActive 获取上架车辆
func (r *CarRepository) ListActive(ctx context.Context) ([]*models.Car, error) {
	return r.queryCars(ctx, `SELECT `+carColumns+` FROM cars WHERE status = $1 ORDER BY id`, models.CarStatusActive)
}

// ListWithRenteonID 获取关联了远端车型的车辆
func (r *CarRepository) ListWithRenteonID(ctx context.Context) ([]*models.Car, error) {
	return r.queryCars(ctx, `SELECT `+carColumns+` FROM cars WHERE renteon_id IS NOT NULL ORDER BY id`)
}

// UpdateDescriptive 更新描述性字段，不触碰车牌、里程、价格
func (r *CarRepository) UpdateDescriptive(ctx context.Context, car *models.Car) error {
	query := `
		UPDATE cars SET make = $1, model = $2, year = $3, transmission = $4, seats = $5, doors = $6, updated_at = $7
		WHERE id = $8
	`
	car.UpdatedAt = time.Now()
	_, err := r.db.Pool.Exec(ctx, query,
		car.Make,
		car.Model,
		car.Year,
		car.Transmission,
		car.Seats,
		car.Doors,
		car.UpdatedAt,
		car.ID,
	)
	if err != nil {
		return fmt.Errorf("update car: %w", err)
	}
	return nil
}

// UpdatePricing 更新日租价与押金
func (r *CarRepository) UpdatePricing(ctx context.Context, id int64, pricePerDay, deposit float64) error {
	query := `UPDATE cars SET price_per_day = $1, deposit = $2, updated_at = $3 WHERE id = $4`
	if _, err := r.db.Pool.Exec(ctx, query, pricePerDay, deposit, time.Now(), id); err != nil {
		return fmt.Errorf("update car pricing: %w", err)
	}
	return nil
}

// SetStatus 设置车辆状态
func (r *CarRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE cars SET status = $1, updated_at = $2 WHERE id = $3`
	tag, err := r.db.Pool.Exec(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set car status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set car status: %w", models.ErrNotFound)
	}
	return nil
}
