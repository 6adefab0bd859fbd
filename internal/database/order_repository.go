package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/transitline/booking-backend/internal/models"
)

// OrderRepository handles order database operations
type OrderRepository struct {
	db DB
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, order_number, user_id, route_id,
	schedule_id, travel_date, departure_name, departure_time, arrival_point,
	status, passengers, passenger_count, total_price, insurance_total,
	payment, review, created_at, updated_at`

// orderRow mirrors the orders table. The JSONB columns land in NullStrings
// so an absent payment or review stays a nil pointer on the model instead of
// a zero-valued struct.
type orderRow struct {
	ID            uuid.UUID `db:"id"`
	OrderNumber   string    `db:"order_number"`
	UserID        uuid.UUID `db:"user_id"`
	RouteID       string    `db:"route_id"`
	ScheduleID    string    `db:"schedule_id"`
	TravelDate    time.Time `db:"travel_date"`
	DepartureName string    `db:"departure_name"`
	DepartureTime string    `db:"departure_time"`
	ArrivalPoint  string    `db:"arrival_point"`

	Status         string         `db:"status"`
	Passengers     sql.NullString `db:"passengers"`
	PassengerCount int            `db:"passenger_count"`
	TotalPrice     float64        `db:"total_price"`
	InsuranceTotal float64        `db:"insurance_total"`
	Payment        sql.NullString `db:"payment"`
	Review         sql.NullString `db:"review"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *orderRow) toOrder() (*models.Order, error) {
	order := &models.Order{
		ID:             row.ID,
		OrderNumber:    row.OrderNumber,
		UserID:         row.UserID,
		RouteID:        row.RouteID,
		ScheduleID:     row.ScheduleID,
		TravelDate:     row.TravelDate,
		DepartureName:  row.DepartureName,
		DepartureTime:  row.DepartureTime,
		ArrivalPoint:   row.ArrivalPoint,
		Status:         models.OrderStatus(row.Status),
		PassengerCount: row.PassengerCount,
		TotalPrice:     row.TotalPrice,
		InsuranceTotal: row.InsuranceTotal,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}

	if row.Passengers.Valid && row.Passengers.String != "" {
		if err := json.Unmarshal([]byte(row.Passengers.String), &order.Passengers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal passengers: %w", err)
		}
	}
	if row.Payment.Valid && row.Payment.String != "" {
		order.Payment = &models.PaymentRecord{}
		if err := json.Unmarshal([]byte(row.Payment.String), order.Payment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
		}
	}
	if row.Review.Valid && row.Review.String != "" {
		order.Review = &models.Review{}
		if err := json.Unmarshal([]byte(row.Review.String), order.Review); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review: %w", err)
		}
	}
	return order, nil
}

// Create persists a new order. The caller supplies the order number and the
// already-priced totals; ID and timestamps are assigned here.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	passengersJSON, err := json.Marshal(order.Passengers)
	if err != nil {
		return fmt.Errorf("failed to marshal passengers: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, order_number, user_id, route_id,
			schedule_id, travel_date, departure_name, departure_time, arrival_point,
			status, passengers, passenger_count, total_price, insurance_total,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`

	_, err = r.db.ExecContext(ctx, query,
		order.ID, order.OrderNumber, order.UserID, order.RouteID,
		order.ScheduleID, order.TravelDate.Format("2006-01-02"), order.DepartureName, order.DepartureTime, order.ArrivalPoint,
		order.Status, passengersJSON, order.PassengerCount, order.TotalPrice, order.InsuranceTotal,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`

	var row orderRow
	err := r.db.GetContext(ctx, &row, query, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return row.toOrder()
}

// GetForUser retrieves an order only if it belongs to the given user. An
// order owned by someone else is indistinguishable from a missing one.
func (r *OrderRepository) GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	var row orderRow
	err := r.db.GetContext(ctx, &row, query, orderID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return row.toOrder()
}

// ListByUser returns a user's orders, newest first, optionally filtered by
// status.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID, status *models.OrderStatus, limit, offset int) ([]*models.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE user_id = $1`
	args := []interface{}{userID}

	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]*models.Order, 0, len(rows))
	for i := range rows {
		order, err := rows[i].toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// MarkPaid flips a pending order to paid and attaches the payment record.
// Returns false when the order was not pending anymore, which backstops the
// expiry sweep and double-payment races at the database.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID uuid.UUID, payment *models.PaymentRecord) (bool, error) {
	query := `
		UPDATE orders
		SET status = 'paid', payment = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, orderID, payment)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkCancelled flips an order to cancelled only if it is still in the state
// the caller observed. A paid cancellation carries the updated payment record
// with the refund fields filled in; a pending one passes payment as nil.
func (r *OrderRepository) MarkCancelled(ctx context.Context, orderID uuid.UUID, from models.OrderStatus, payment *models.PaymentRecord) (bool, error) {
	query := `
		UPDATE orders
		SET status = 'cancelled', payment = COALESCE($3, payment), updated_at = NOW()
		WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, orderID, from, payment)
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkCompleted flips a paid order to completed.
func (r *OrderRepository) MarkCompleted(ctx context.Context, orderID uuid.UUID) (bool, error) {
	query := `
		UPDATE orders
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'paid'`

	result, err := r.db.ExecContext(ctx, query, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to complete order: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// AttachReview stores the one-and-only review on a completed order. Returns
// false when the order is not completed or already carries a review.
func (r *OrderRepository) AttachReview(ctx context.Context, orderID uuid.UUID, review *models.Review) (bool, error) {
	query := `
		UPDATE orders
		SET review = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'completed' AND review IS NULL`

	result, err := r.db.ExecContext(ctx, query, orderID, review)
	if err != nil {
		return false, fmt.Errorf("failed to attach review: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ListPendingExpired returns pending orders created before the cutoff, for
// the expiry sweep.
func (r *OrderRepository) ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*models.Order, error) {
	query := `SELECT` + orderColumns + `
		FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}

	orders := make([]*models.Order, 0, len(rows))
	for i := range rows {
		order, err := rows[i].toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
