package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recoverable, caller-visible failure modes.
// Handlers map these onto HTTP status codes; services wrap them with
// context via fmt.Errorf("...: %w", err).
var (
	// ErrNotFound signals an absent or inactive route, schedule, or order.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCapacity signals seat exhaustion on a departure.
	// Callers distinguish this from ErrNotFound so they can render
	// "sold out" rather than "not found".
	ErrInsufficientCapacity = errors.New("insufficient seat capacity")

	// ErrAmbiguousMatch signals that more than one schedule instance still
	// matches after the departure-time discriminator has been applied.
	ErrAmbiguousMatch = errors.New("ambiguous schedule match")

	// ErrAlreadyReviewed signals a second review attempt on an order.
	ErrAlreadyReviewed = errors.New("order already reviewed")

	// ErrLedgerCorrupted signals a broken seat-accounting invariant
	// (e.g. a negative remaining count observed by a consistency check).
	// This is a programming error, not a business error: it is logged
	// distinctly and never shown to callers as a recoverable condition.
	ErrLedgerCorrupted = errors.New("seat ledger invariant violated")
)

// InvalidTransitionError reports an illegal order state-machine move.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition from %s to %s", e.From, e.To)
}

// NewInvalidTransition builds an InvalidTransitionError.
func NewInvalidTransition(from, to OrderStatus) error {
	return &InvalidTransitionError{From: from, To: to}
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// ValidationError reports malformed caller input (bad rating, empty
// passenger list and the like).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
