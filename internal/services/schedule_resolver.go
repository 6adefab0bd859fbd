package services

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transitline/booking-backend/internal/models"
)

// RouteCatalog is the narrow view of the route catalog the booking engine
// consumes. Routes are read-only to the engine except for the rating fold
// and the booking counter.
type RouteCatalog interface {
	ResolveRoute(routeID string) (*models.RouteSnapshot, error)
	ApplyRating(routeID string, rating int) error
	IncrementBookingCount(routeID string) error
}

// ResolvedDeparture is a schedule instance bound to one calendar date, the
// unit seats are reserved against.
type ResolvedDeparture struct {
	Route          *models.RouteSnapshot
	Instance       models.ScheduleInstance
	DeparturePoint models.DeparturePoint
	TravelDate     time.Time
}

// ScheduleResolver maps (route, calendar date, origin stop, destination
// stop) to exactly one schedule instance.
type ScheduleResolver struct {
	catalog RouteCatalog
	logger  *logrus.Logger
}

// NewScheduleResolver creates a new schedule resolver.
func NewScheduleResolver(catalog RouteCatalog, logger *logrus.Logger) *ScheduleResolver {
	return &ScheduleResolver{catalog: catalog, logger: logger}
}

// Resolve finds the unique instance on the date's weekday that boards at
// origin and, when given, serves destination. departureTime ("HH:MM")
// disambiguates stops that are boarded by more than one instance; if more
// than one instance still matches after applying it, the request is
// rejected as ambiguous rather than booked onto an arbitrary bus.
func (r *ScheduleResolver) Resolve(routeID string, date time.Time, origin, destination, departureTime string) (*ResolvedDeparture, error) {
	route, err := r.catalog.ResolveRoute(routeID)
	if err != nil {
		return nil, err
	}
	if !route.Active {
		return nil, fmt.Errorf("route %s is inactive: %w", routeID, models.ErrNotFound)
	}

	var matches []models.ScheduleInstance
	var points []models.DeparturePoint

	for _, inst := range route.InstancesOn(date) {
		point, ok := inst.DeparturePointAt(origin, departureTime)
		if !ok {
			continue
		}
		if destination != "" && !inst.HasArrivalPoint(destination) {
			continue
		}
		matches = append(matches, inst)
		points = append(points, point)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no departure from %q on %s for route %s: %w",
			origin, date.Format("2006-01-02"), routeID, models.ErrNotFound)
	case 1:
		return &ResolvedDeparture{
			Route:          route,
			Instance:       matches[0],
			DeparturePoint: points[0],
			TravelDate:     date,
		}, nil
	default:
		r.logger.WithFields(logrus.Fields{
			"route_id":   routeID,
			"origin":     origin,
			"candidates": len(matches),
		}).Warn("Departure request matched multiple schedule instances")
		return nil, fmt.Errorf("%d instances match departure from %q: %w",
			len(matches), origin, models.ErrAmbiguousMatch)
	}
}
