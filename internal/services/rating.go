package services

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// FoldRating folds one review into a running average:
// (oldAverage*oldCount + rating) / (oldCount + 1). Returns the new average
// and count. Pure arithmetic; at-most-once application per order is the
// lifecycle manager's guard, not this function's.
func FoldRating(oldAverage float64, oldCount, rating int) (float64, int) {
	newCount := oldCount + 1
	return (oldAverage*float64(oldCount) + float64(rating)) / float64(newCount), newCount
}

// RatingAggregator folds completed-order reviews into the owning route's
// aggregate rating in the catalog.
type RatingAggregator struct {
	catalog RouteCatalog
	logger  *logrus.Logger
}

// NewRatingAggregator creates a new rating aggregator.
func NewRatingAggregator(catalog RouteCatalog, logger *logrus.Logger) *RatingAggregator {
	return &RatingAggregator{catalog: catalog, logger: logger}
}

// ApplyReview folds one rating into the route's running average. The fold
// runs inside the catalog in a single statement so concurrent reviews on the
// same route never lose an update.
func (a *RatingAggregator) ApplyReview(routeID string, rating int) error {
	if err := a.catalog.ApplyRating(routeID, rating); err != nil {
		return fmt.Errorf("failed to apply rating to route %s: %w", routeID, err)
	}

	a.logger.WithFields(logrus.Fields{
		"route_id": routeID,
		"rating":   rating,
	}).Info("Review folded into route rating")
	return nil
}
