package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/transitline/booking-backend/internal/models"
)

// RouteRepository is the booking engine's client onto the catalog
// collaborator: read-only route resolution plus the two narrow write
// hooks the engine is allowed (seat-count durability and rating fold).
type RouteRepository struct {
	db DB
}

// NewRouteRepository creates a new RouteRepository
func NewRouteRepository(db DB) *RouteRepository {
	return &RouteRepository{db: db}
}

// routeRow maps the routes table including the flattened stats columns.
type routeRow struct {
	RouteID        string                `db:"route_id"`
	Start          string                `db:"start_city"`
	End            string                `db:"end_city"`
	Active         bool                  `db:"active"`
	WeeklySchedule models.WeeklySchedule `db:"weekly_schedule"`
	DistanceKM     float64               `db:"distance_km"`
	DurationMin    int                   `db:"duration_min"`
	Rating         float64               `db:"rating"`
	RatingCount    int                   `db:"rating_count"`
	BookingCount   int                   `db:"booking_count"`
	ViewCount      int                   `db:"view_count"`
	CompletionRate float64               `db:"completion_rate"`
	CreatedAt      time.Time             `db:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at"`
}

// ResolveRoute loads the read-only snapshot of a route, including its
// weekly schedule. Returns models.ErrNotFound when the route is absent.
func (r *RouteRepository) ResolveRoute(routeID string) (*models.RouteSnapshot, error) {
	query := `
		SELECT route_id, start_city, end_city, active, weekly_schedule,
		       distance_km, duration_min, rating, rating_count,
		       booking_count, view_count, completion_rate,
		       created_at, updated_at
		FROM routes
		WHERE route_id = $1
	`

	var row routeRow
	err := r.db.Get(&row, query, routeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("route %s: %w", routeID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve route: %w", err)
	}

	return &models.RouteSnapshot{
		RouteID:        row.RouteID,
		Start:          row.Start,
		End:            row.End,
		Active:         row.Active,
		WeeklySchedule: row.WeeklySchedule,
		DistanceKM:     row.DistanceKM,
		DurationMin:    row.DurationMin,
		Rating:         row.Rating,
		RatingCount:    row.RatingCount,
		Stats: models.RouteStats{
			BookingCount:   row.BookingCount,
			ViewCount:      row.ViewCount,
			CompletionRate: row.CompletionRate,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// ApplyRating folds one review rating into the route's running average
// in a single statement, so concurrent folds cannot lose updates.
func (r *RouteRepository) ApplyRating(routeID string, rating int) error {
	query := `
		UPDATE routes
		SET rating = (rating * rating_count + $2) / (rating_count + 1),
		    rating_count = rating_count + 1,
		    updated_at = NOW()
		WHERE route_id = $1
	`

	result, err := r.db.Exec(query, routeID, float64(rating))
	if err != nil {
		return fmt.Errorf("failed to apply rating: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("route %s: %w", routeID, models.ErrNotFound)
	}
	return nil
}

// IncrementBookingCount bumps the route's booking statistic.
func (r *RouteRepository) IncrementBookingCount(routeID string) error {
	query := `
		UPDATE routes
		SET booking_count = booking_count + 1, updated_at = NOW()
		WHERE route_id = $1
	`

	_, err := r.db.Exec(query, routeID)
	if err != nil {
		return fmt.Errorf("failed to increment booking count: %w", err)
	}
	return nil
}

// PersistScheduleSeatCount is the seat ledger's durability hook: it
// upserts the remaining count for one departure. The catalog never edits
// this value itself; only the ledger writes here.
func (r *RouteRepository) PersistScheduleSeatCount(ctx context.Context, instanceID string, date time.Time, remaining, capacity int) error {
	query := `
		INSERT INTO schedule_seats (instance_id, travel_date, remaining, capacity, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (instance_id, travel_date)
		DO UPDATE SET remaining = $3, updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query, instanceID, date.Format("2006-01-02"), remaining, capacity)
	if err != nil {
		return fmt.Errorf("failed to persist seat count: %w", err)
	}
	return nil
}
