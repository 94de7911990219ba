package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/langchou/rentsync/internal/models"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// WithTx 在事务中执行 fn，fn 返回错误时回滚
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// notFound 把 pgx.ErrNoRows 转换为 models.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateCars,
		migrationCreateAvailabilityWindows,
		migrationCreateBookings,
		migrationCreateCategoryOverrides,
		migrationCreateDeactivationProposals,
		migrationCreateRemoteOperations,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateCars = `
CREATE TABLE IF NOT EXISTS cars (
    id BIGSERIAL PRIMARY KEY,
    renteon_id BIGINT,
    make VARCHAR(100) NOT NULL,
    model VARCHAR(100) NOT NULL,
    year INT NOT NULL DEFAULT 0,
    category_ids BIGINT[] NOT NULL DEFAULT '{}',
    transmission VARCHAR(20) NOT NULL DEFAULT 'UNKNOWN',
    seats INT NOT NULL DEFAULT 0,
    doors INT NOT NULL DEFAULT 0,
    license_plate VARCHAR(50) NOT NULL,
    mileage INT NOT NULL DEFAULT 0,
    price_per_day DOUBLE PRECISION NOT NULL DEFAULT 0,
    deposit DOUBLE PRECISION NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_cars_renteon_id ON cars(renteon_id);
CREATE INDEX IF NOT EXISTS idx_cars_status ON cars(status);
`

const migrationCreateAvailabilityWindows = `
CREATE TABLE IF NOT EXISTS availability_windows (
    id BIGSERIAL PRIMARY KEY,
    car_id BIGINT NOT NULL REFERENCES cars(id) ON DELETE CASCADE,
    start_date TIMESTAMP WITH TIME ZONE NOT NULL,
    end_date TIMESTAMP WITH TIME ZONE NOT NULL,
    status VARCHAR(20) NOT NULL CHECK (status IN ('AVAILABLE', 'MAINTENANCE', 'RENTED', 'OUT_OF_SERVICE'))
);
CREATE INDEX IF NOT EXISTS idx_availability_windows_car_id ON availability_windows(car_id);
CREATE INDEX IF NOT EXISTS idx_availability_windows_range ON availability_windows(start_date, end_date);
`

const migrationCreateBookings = `
CREATE TABLE IF NOT EXISTS bookings (
    id BIGSERIAL PRIMARY KEY,
    car_id BIGINT NOT NULL REFERENCES cars(id),
    start_date TIMESTAMP WITH TIME ZONE NOT NULL,
    end_date TIMESTAMP WITH TIME ZONE NOT NULL,
    status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'CONFIRMED', 'CANCELLED', 'COMPLETED')),
    pickup_office_id BIGINT NOT NULL,
    dropoff_office_id BIGINT NOT NULL,
    customer_name VARCHAR(255) NOT NULL DEFAULT '',
    customer_email VARCHAR(255) NOT NULL DEFAULT '',
    total_price DOUBLE PRECISION NOT NULL DEFAULT 0,
    remote_booking_id VARCHAR(100),
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_bookings_car_id ON bookings(car_id);
CREATE INDEX IF NOT EXISTS idx_bookings_range ON bookings(start_date, end_date);
`

// 人工映射表，version 每次修改递增
const migrationCreateCategoryOverrides = `
CREATE TABLE IF NOT EXISTS category_overrides (
    renteon_id BIGINT PRIMARY KEY,
    category_id BIGINT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    version INT NOT NULL DEFAULT 1,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateDeactivationProposals = `
CREATE TABLE IF NOT EXISTS deactivation_proposals (
    id BIGSERIAL PRIMARY KEY,
    car_id BIGINT NOT NULL REFERENCES cars(id) ON DELETE CASCADE,
    renteon_id BIGINT NOT NULL,
    action VARCHAR(20) NOT NULL DEFAULT 'Deactivate',
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    sync_run_at TIMESTAMP WITH TIME ZONE NOT NULL,
    reviewed_at TIMESTAMP WITH TIME ZONE
);
CREATE INDEX IF NOT EXISTS idx_deactivation_proposals_status ON deactivation_proposals(status);
`

// outbox：与订单写入处于同一事务
const migrationCreateRemoteOperations = `
CREATE TABLE IF NOT EXISTS remote_operations (
    id UUID PRIMARY KEY,
    booking_id BIGINT NOT NULL REFERENCES bookings(id),
    kind VARCHAR(30) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    attempts INT NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_remote_operations_due ON remote_operations(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_remote_operations_booking_id ON remote_operations(booking_id);
`
