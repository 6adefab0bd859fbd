package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitline/booking-backend/internal/models"
)

// newMockDB wires sqlmock through the real PostgresDB wrapper so struct
// scanning behaves exactly as it does against Postgres.
func newMockDB(t *testing.T) (DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresDB{DB: sqlx.NewDb(db, "sqlmock")}, mock
}

var orderColumnNames = []string{
	"id", "order_number", "user_id", "route_id",
	"schedule_id", "travel_date", "departure_name", "departure_time", "arrival_point",
	"status", "passengers", "passenger_count", "total_price", "insurance_total",
	"payment", "review", "created_at", "updated_at",
}

func addSampleOrder(rows *sqlmock.Rows, orderID, userID uuid.UUID, status string, payment, review interface{}) *sqlmock.Rows {
	now := time.Now()
	travelDate := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	return rows.AddRow(
		orderID, "ON2026083012ab34cd56ef78901a", userID, "route-colombo-kandy",
		"inst-0700", travelDate, "Central Station", "07:00", "Kandy Terminal",
		status, []byte(`[{"name":"John Doe","id_type":"id_card","id_number":"991234567V","insurance":{"purchased":false}}]`),
		1, 120.0, 0.0,
		payment, review, now, now,
	)
}

func TestCreateOrder(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	order := &models.Order{
		OrderNumber:   "ON2026083012ab34cd56ef78901a",
		UserID:        uuid.New(),
		RouteID:       "route-colombo-kandy",
		ScheduleID:    "inst-0700",
		TravelDate:    time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		DepartureName: "Central Station",
		DepartureTime: "07:00",
		ArrivalPoint:  "Kandy Terminal",
		Status:        models.OrderStatusPending,
		Passengers: models.PassengerList{
			{Name: "John Doe", IDType: "id_card", IDNumber: "991234567V"},
		},
		PassengerCount: 1,
		TotalPrice:     120,
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO orders`).
			WithArgs(
				sqlmock.AnyArg(), order.OrderNumber, order.UserID, order.RouteID,
				order.ScheduleID, "2026-09-15", order.DepartureName, order.DepartureTime, order.ArrivalPoint,
				order.Status, sqlmock.AnyArg(), order.PassengerCount, order.TotalPrice, order.InsuranceTotal,
				sqlmock.AnyArg(), sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.Create(ctx, order)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, order.ID)
		assert.False(t, order.CreatedAt.IsZero())

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO orders`).
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Create(ctx, order)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create order")

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetOrderByID(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	t.Run("Success Without Payment", func(t *testing.T) {
		orderID := uuid.New()
		userID := uuid.New()

		rows := addSampleOrder(sqlmock.NewRows(orderColumnNames), orderID, userID, "pending", nil, nil)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id`).
			WithArgs(orderID).
			WillReturnRows(rows)

		order, err := repo.GetByID(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, orderID, order.ID)
		assert.Equal(t, models.OrderStatusPending, order.Status)
		assert.Len(t, order.Passengers, 1)
		assert.Nil(t, order.Payment)
		assert.Nil(t, order.Review)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success With Payment", func(t *testing.T) {
		orderID := uuid.New()
		userID := uuid.New()
		paymentJSON := []byte(`{"method":"alipay","transaction_id":"tx-123","paid_at":"2026-08-30T10:00:00Z","amount":120}`)

		rows := addSampleOrder(sqlmock.NewRows(orderColumnNames), orderID, userID, "paid", paymentJSON, nil)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id`).
			WithArgs(orderID).
			WillReturnRows(rows)

		order, err := repo.GetByID(ctx, orderID)
		require.NoError(t, err)
		require.NotNil(t, order.Payment)
		assert.Equal(t, models.PaymentMethodAlipay, order.Payment.Method)
		assert.Equal(t, "tx-123", order.Payment.TransactionID)
		assert.Equal(t, 120.0, order.Payment.Amount)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id`).
			WithArgs(orderID).
			WillReturnRows(sqlmock.NewRows(orderColumnNames))

		order, err := repo.GetByID(ctx, orderID)
		assert.Nil(t, order)
		assert.True(t, errors.Is(err, models.ErrNotFound))

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetOrderForUser(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		orderID := uuid.New()
		userID := uuid.New()

		rows := addSampleOrder(sqlmock.NewRows(orderColumnNames), orderID, userID, "pending", nil, nil)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \$1 AND user_id = \$2`).
			WithArgs(orderID, userID).
			WillReturnRows(rows)

		order, err := repo.GetForUser(ctx, orderID, userID)
		require.NoError(t, err)
		assert.Equal(t, userID, order.UserID)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Owned By Someone Else", func(t *testing.T) {
		orderID := uuid.New()
		otherUser := uuid.New()

		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \$1 AND user_id = \$2`).
			WithArgs(orderID, otherUser).
			WillReturnRows(sqlmock.NewRows(orderColumnNames))

		order, err := repo.GetForUser(ctx, orderID, otherUser)
		assert.Nil(t, order)
		assert.True(t, errors.Is(err, models.ErrNotFound))

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListOrdersByUser(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	t.Run("All Statuses", func(t *testing.T) {
		userID := uuid.New()

		rows := sqlmock.NewRows(orderColumnNames)
		addSampleOrder(rows, uuid.New(), userID, "paid", nil, nil)
		addSampleOrder(rows, uuid.New(), userID, "pending", nil, nil)

		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE user_id = \$1 ORDER BY created_at DESC`).
			WithArgs(userID, 20, 0).
			WillReturnRows(rows)

		orders, err := repo.ListByUser(ctx, userID, nil, 20, 0)
		require.NoError(t, err)
		assert.Len(t, orders, 2)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Filtered By Status", func(t *testing.T) {
		userID := uuid.New()
		status := models.OrderStatusPending

		rows := addSampleOrder(sqlmock.NewRows(orderColumnNames), uuid.New(), userID, "pending", nil, nil)

		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE user_id = \$1 AND status = \$2 ORDER BY created_at DESC`).
			WithArgs(userID, status, 20, 0).
			WillReturnRows(rows)

		orders, err := repo.ListByUser(ctx, userID, &status, 20, 0)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, models.OrderStatusPending, orders[0].Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Empty Result", func(t *testing.T) {
		userID := uuid.New()

		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE user_id = \$1 ORDER BY created_at DESC`).
			WithArgs(userID, 20, 0).
			WillReturnRows(sqlmock.NewRows(orderColumnNames))

		orders, err := repo.ListByUser(ctx, userID, nil, 20, 0)
		require.NoError(t, err)
		assert.Len(t, orders, 0)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkOrderPaid(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	payment := &models.PaymentRecord{
		Method:        models.PaymentMethodWechat,
		TransactionID: "tx-456",
		PaidAt:        time.Now(),
		Amount:        340,
	}

	t.Run("Success", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET status = 'paid'`).
			WithArgs(orderID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkPaid(ctx, orderID, payment)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Pending Anymore", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET status = 'paid'`).
			WithArgs(orderID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkPaid(ctx, orderID, payment)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET status = 'paid'`).
			WithArgs(orderID, sqlmock.AnyArg()).
			WillReturnError(fmt.Errorf("database error"))

		ok, err := repo.MarkPaid(ctx, orderID, payment)
		assert.Error(t, err)
		assert.False(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkOrderCancelled(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	t.Run("From Pending Without Payment", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET status = 'cancelled'`).
			WithArgs(orderID, models.OrderStatusPending, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkCancelled(ctx, orderID, models.OrderStatusPending, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("From Paid With Refund Record", func(t *testing.T) {
		orderID := uuid.New()
		refundAmount := 340.0
		reason := "user_cancelled"
		refundedAt := time.Now()
		payment := &models.PaymentRecord{
			Method:        models.PaymentMethodAlipay,
			TransactionID: "tx-789",
			PaidAt:        time.Now(),
			Amount:        340,
			RefundAmount:  &refundAmount,
			RefundReason:  &reason,
			RefundedAt:    &refundedAt,
		}

		mock.ExpectExec(`UPDATE orders SET status = 'cancelled'`).
			WithArgs(orderID, models.OrderStatusPaid, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkCancelled(ctx, orderID, models.OrderStatusPaid, payment)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("State Moved Underneath", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET status = 'cancelled'`).
			WithArgs(orderID, models.OrderStatusPending, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkCancelled(ctx, orderID, models.OrderStatusPending, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkOrderCompleted(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET status = 'completed'`).
			WithArgs(orderID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkCompleted(ctx, orderID)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Paid", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET status = 'completed'`).
			WithArgs(orderID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkCompleted(ctx, orderID)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAttachOrderReview(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	review := &models.Review{Rating: 5, Comment: "smooth ride", CreatedAt: time.Now()}

	t.Run("Success", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET review`).
			WithArgs(orderID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.AttachReview(ctx, orderID, review)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already Reviewed Or Not Completed", func(t *testing.T) {
		orderID := uuid.New()

		mock.ExpectExec(`UPDATE orders SET review`).
			WithArgs(orderID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.AttachReview(ctx, orderID, review)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListPendingExpired(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewOrderRepository(mockDB)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		cutoff := time.Now().Add(-15 * time.Minute)

		rows := addSampleOrder(sqlmock.NewRows(orderColumnNames), uuid.New(), uuid.New(), "pending", nil, nil)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE status = 'pending' AND created_at < \$1`).
			WithArgs(cutoff, 100).
			WillReturnRows(rows)

		orders, err := repo.ListPendingExpired(ctx, cutoff, 100)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, models.OrderStatusPending, orders[0].Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nothing Expired", func(t *testing.T) {
		cutoff := time.Now().Add(-15 * time.Minute)

		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE status = 'pending' AND created_at < \$1`).
			WithArgs(cutoff, 100).
			WillReturnRows(sqlmock.NewRows(orderColumnNames))

		orders, err := repo.ListPendingExpired(ctx, cutoff, 100)
		require.NoError(t, err)
		assert.Len(t, orders, 0)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
