package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/transitline/booking-backend/internal/ledger"
	"github.com/transitline/booking-backend/internal/metrics"
	"github.com/transitline/booking-backend/internal/models"
)

// ScheduleSeatRepository is the Postgres-backed seat ledger. Each departure
// owns a row in schedule_seats; reserve and release are single conditional
// UPDATEs so concurrent bookings serialize on the row lock and the remaining
// count can never go negative.
type ScheduleSeatRepository struct {
	db     DB
	logger *logrus.Logger
}

func NewScheduleSeatRepository(db DB, logger *logrus.Logger) *ScheduleSeatRepository {
	return &ScheduleSeatRepository{db: db, logger: logger}
}

// ensureRow seeds the departure's row at full capacity if it does not exist
// yet. ON CONFLICT DO NOTHING keeps the seed race-free: the first writer
// wins and everyone else proceeds against the existing row.
func (r *ScheduleSeatRepository) ensureRow(ctx context.Context, dep ledger.Departure) error {
	query := `
		INSERT INTO schedule_seats (instance_id, travel_date, remaining, capacity, updated_at)
		VALUES ($1, $2, $3, $3, NOW())
		ON CONFLICT (instance_id, travel_date) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, dep.InstanceID, dep.TravelDate.Format(ledger.DateLayout), dep.Capacity)
	if err != nil {
		return fmt.Errorf("failed to seed seat row: %w", err)
	}
	return nil
}

// Reserve atomically takes count seats from the departure. The WHERE clause
// carries the capacity check, so an oversubscribed request simply matches no
// row and surfaces as ErrInsufficientCapacity.
func (r *ScheduleSeatRepository) Reserve(ctx context.Context, dep ledger.Departure, count int) (*ledger.Reservation, error) {
	if count <= 0 {
		return nil, models.NewValidationError("count", "seat count must be positive")
	}

	if err := r.ensureRow(ctx, dep); err != nil {
		return nil, err
	}

	query := `
		UPDATE schedule_seats
		SET remaining = remaining - $3, updated_at = NOW()
		WHERE instance_id = $1 AND travel_date = $2 AND remaining >= $3
		RETURNING remaining
	`

	var remaining int
	err := r.db.GetContext(ctx, &remaining, query, dep.InstanceID, dep.TravelDate.Format(ledger.DateLayout), count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.SeatReserveConflictsTotal.Inc()
			return nil, fmt.Errorf("reserve %d seats for %s: %w", count, dep.Key(), models.ErrInsufficientCapacity)
		}
		return nil, fmt.Errorf("failed to reserve seats: %w", err)
	}

	if remaining < 0 || remaining > dep.Capacity {
		metrics.SeatLedgerCorruptionsTotal.Inc()
		return nil, fmt.Errorf("departure %s remaining %d out of bounds: %w", dep.Key(), remaining, models.ErrLedgerCorrupted)
	}

	return &ledger.Reservation{Departure: dep, Count: count, Remaining: remaining}, nil
}

// Release returns count seats to the departure, clamping at capacity so a
// stray double release cannot push the count past the bus size.
func (r *ScheduleSeatRepository) Release(ctx context.Context, dep ledger.Departure, count int) error {
	if count <= 0 {
		return models.NewValidationError("count", "seat count must be positive")
	}

	if err := r.ensureRow(ctx, dep); err != nil {
		return err
	}

	query := `
		UPDATE schedule_seats
		SET remaining = LEAST(capacity, remaining + $3), updated_at = NOW()
		WHERE instance_id = $1 AND travel_date = $2
		RETURNING remaining
	`

	var remaining int
	err := r.db.GetContext(ctx, &remaining, query, dep.InstanceID, dep.TravelDate.Format(ledger.DateLayout), count)
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}

	if remaining == dep.Capacity {
		r.logger.WithFields(logrus.Fields{
			"departure": dep.Key(),
			"count":     count,
		}).Debug("Seat release reached full capacity")
	}
	return nil
}

// Remaining reports the current free seat count. A departure nobody has
// booked yet has no row and is reported at full capacity.
func (r *ScheduleSeatRepository) Remaining(ctx context.Context, dep ledger.Departure) (int, error) {
	query := `
		SELECT remaining FROM schedule_seats
		WHERE instance_id = $1 AND travel_date = $2
	`

	var remaining int
	err := r.db.GetContext(ctx, &remaining, query, dep.InstanceID, dep.TravelDate.Format(ledger.DateLayout))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dep.Capacity, nil
		}
		return 0, fmt.Errorf("failed to read remaining seats: %w", err)
	}
	return remaining, nil
}

var _ ledger.SeatLedger = (*ScheduleSeatRepository)(nil)
