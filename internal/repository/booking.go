package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/rentsync/internal/models"
)

const bookingColumns = `id, car_id, start_date, end_date, status, pickup_office_id, dropoff_office_id,
	customer_name, customer_email, total_price, remote_booking_id, created_at, updated_at`

// BookingRepository 订单数据仓库
type BookingRepository struct {
	db *DB
}

// NewBookingRepository 创建订单仓库
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	b := &models.Booking{}
	err := row.Scan(
		&b.ID,
		&b.CarID,
		&b.StartDate,
		&b.EndDate,
		&b.Status,
		&b.PickupOfficeID,
		&b.DropoffOfficeID,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.TotalPrice,
		&b.RemoteBookingID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetByID 通过 ID 获取订单
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get booking by id: %w", notFound(err))
	}
	return b, nil
}

// ListBlockingOverlapping 获取与窗口相交且占用车辆（PENDING/CONFIRMED）的订单
func (r *BookingRepository) ListBlockingOverlapping(ctx context.Context, carIDs []int64, window models.Window) ([]*models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE car_id = ANY($1)
		  AND status IN ('PENDING', 'CONFIRMED')
		  AND start_date < $3 AND end_date > $2
		ORDER BY car_id, start_date
	`
	rows, err := r.db.Pool.Query(ctx, query, carIDs, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("list overlapping bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// CreateWithOperation 创建订单并在同一事务内写入 outbox 记录。
// 车辆行加锁后再检查冲突，避免并发下单同一时间段。
func (r *BookingRepository) CreateWithOperation(ctx context.Context, b *models.Booking, op *models.RemoteOperation) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var carID int64
		if err := tx.QueryRow(ctx, `SELECT id FROM cars WHERE id = $1 FOR UPDATE`, b.CarID).Scan(&carID); err != nil {
			return fmt.Errorf("lock car: %w", notFound(err))
		}

		var conflicts int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM bookings
			WHERE car_id = $1 AND status IN ('PENDING', 'CONFIRMED')
			  AND start_date < $3 AND end_date > $2
		`, b.CarID, b.StartDate, b.EndDate).Scan(&conflicts)
		if err != nil {
			return fmt.Errorf("check booking conflicts: %w", err)
		}
		if conflicts > 0 {
			return models.ErrBookingConflict
		}

		now := time.Now()
		err = tx.QueryRow(ctx, `
			INSERT INTO bookings (car_id, start_date, end_date, status, pickup_office_id, dropoff_office_id,
				customer_name, customer_email, total_price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`,
			b.CarID,
			b.StartDate,
			b.EndDate,
			b.Status,
			b.PickupOfficeID,
			b.DropoffOfficeID,
			b.CustomerName,
			b.CustomerEmail,
			b.TotalPrice,
			now,
			now,
		).Scan(&b.ID)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		b.CreatedAt = now
		b.UpdatedAt = now

		if op != nil {
			op.BookingID = b.ID
			if err := insertOperation(ctx, tx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transition 锁定订单后调用 fn 修改状态，fn 可返回需要写入的 outbox 记录
func (r *BookingRepository) Transition(ctx context.Context, id int64, fn func(b *models.Booking) (*models.RemoteOperation, error)) (*models.Booking, error) {
	var booking *models.Booking
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("lock booking: %w", notFound(err))
		}

		op, err := fn(b)
		if err != nil {
			return err
		}

		b.UpdatedAt = time.Now()
		if _, err := tx.Exec(ctx, `UPDATE bookings SET status = $1, updated_at = $2 WHERE id = $3`, b.Status, b.UpdatedAt, b.ID); err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}

		if op != nil {
			op.BookingID = b.ID
			if err := insertOperation(ctx, tx, op); err != nil {
				return err
			}
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// SetRemoteBookingID 记录远端订单号
func (r *BookingRepository) SetRemoteBookingID(ctx context.Context, id int64, remoteID string) error {
	query := `UPDATE bookings SET remote_booking_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.Pool.Exec(ctx, query, remoteID, time.Now(), id); err != nil {
		return fmt.Errorf("set remote booking id: %w", err)
	}
	return nil
}
