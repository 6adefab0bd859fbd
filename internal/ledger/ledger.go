// Package ledger owns the remaining-seats counter for departures.
//
// A departure is a schedule instance bound to one calendar date, and its
// counter is the only mutable shared state in the booking engine that
// needs synchronization. All three backends honor the same contract:
// reserve and release are linearizable per (instance, date) key, reserve
// never overcommits capacity, and release saturates at capacity so a
// double release can never mint seats.
package ledger

import (
	"context"
	"time"
)

// DateLayout is the canonical calendar-date form used in ledger keys.
const DateLayout = "2006-01-02"

// Departure identifies one (schedule instance, calendar date) pair plus
// the instance's configured capacity, which backends use to seed and to
// cap the counter.
type Departure struct {
	InstanceID string
	TravelDate time.Time
	Capacity   int
}

// Key returns the serialization key for the departure's counter.
func (d Departure) Key() string {
	return d.InstanceID + "@" + d.TravelDate.Format(DateLayout)
}

// Reservation is the handle returned by a successful reserve. Releasing
// the same departure and count undoes it.
type Reservation struct {
	Departure Departure
	Count     int
	Remaining int // remaining seats immediately after the reserve
}

// SeatLedger is the atomic seat accounting contract.
//
// Reserve decrements the departure's remaining counter by count, or fails
// with models.ErrInsufficientCapacity leaving the counter untouched.
// Release increments it by count, saturating at capacity. Remaining reads
// the current counter, seeding it at capacity if the departure has never
// been touched. The ledger decides nothing about business legality; the
// order lifecycle manager does that before calling in.
type SeatLedger interface {
	Reserve(ctx context.Context, dep Departure, count int) (*Reservation, error)
	Release(ctx context.Context, dep Departure, count int) error
	Remaining(ctx context.Context, dep Departure) (int, error)
}

// SeatSink is the durability hook the in-memory ledger writes through
// after every successful mutation. The catalog collaborator implements
// it; capacity rides along so the sink can seed a departure row it has
// never seen.
type SeatSink interface {
	PersistScheduleSeatCount(ctx context.Context, instanceID string, date time.Time, remaining, capacity int) error
}
