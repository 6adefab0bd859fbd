package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/transitline/booking-backend/internal/metrics"
	"github.com/transitline/booking-backend/internal/models"
)

// counter is the per-departure seat state. Its mutex serializes all
// mutations for one (instance, date) key; counters for different keys
// never contend with each other.
type counter struct {
	mu        sync.Mutex
	remaining int
	capacity  int
}

// MemoryLedger keeps departure counters in process memory, guarded by a
// per-key mutex. Counters seed lazily at the instance capacity on first
// touch. When a SeatSink is configured, every successful mutation is
// written through before the key lock is dropped, and a failed write
// rolls the mutation back so memory and durable state cannot diverge.
type MemoryLedger struct {
	mu       sync.RWMutex // guards the map only, never held across an operation
	counters map[string]*counter

	sink   SeatSink
	logger *logrus.Logger
}

// NewMemoryLedger creates an in-memory seat ledger. sink may be nil for
// tests and single-node deployments without a durability hook.
func NewMemoryLedger(sink SeatSink, logger *logrus.Logger) *MemoryLedger {
	return &MemoryLedger{
		counters: make(map[string]*counter),
		sink:     sink,
		logger:   logger,
	}
}

// counterFor returns the counter for the departure, seeding it at
// capacity on first touch.
func (l *MemoryLedger) counterFor(dep Departure) *counter {
	key := dep.Key()

	l.mu.RLock()
	c, ok := l.counters[key]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok = l.counters[key]; ok {
		return c
	}
	c = &counter{remaining: dep.Capacity, capacity: dep.Capacity}
	l.counters[key] = c
	return c
}

// Reserve atomically decrements the departure's counter by count.
func (l *MemoryLedger) Reserve(ctx context.Context, dep Departure, count int) (*Reservation, error) {
	if count <= 0 {
		return nil, models.NewValidationError("count", "must be positive")
	}

	c := l.counterFor(dep)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remaining < 0 || c.remaining > c.capacity {
		metrics.SeatLedgerCorruptionsTotal.Inc()
		l.logger.WithFields(logrus.Fields{
			"departure": dep.Key(),
			"remaining": c.remaining,
			"capacity":  c.capacity,
			"fatal":     true,
		}).Error("Seat counter out of bounds")
		return nil, fmt.Errorf("%w: remaining=%d capacity=%d", models.ErrLedgerCorrupted, c.remaining, c.capacity)
	}

	if c.remaining < count {
		return nil, fmt.Errorf("%w: requested %d, remaining %d", models.ErrInsufficientCapacity, count, c.remaining)
	}

	c.remaining -= count
	if err := l.persist(ctx, dep, c.remaining); err != nil {
		c.remaining += count
		return nil, fmt.Errorf("failed to persist seat count: %w", err)
	}

	return &Reservation{Departure: dep, Count: count, Remaining: c.remaining}, nil
}

// Release atomically increments the departure's counter by count,
// saturating at the instance capacity.
func (l *MemoryLedger) Release(ctx context.Context, dep Departure, count int) error {
	if count <= 0 {
		return models.NewValidationError("count", "must be positive")
	}

	c := l.counterFor(dep)
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.remaining
	c.remaining += count
	if c.remaining > c.capacity {
		l.logger.WithFields(logrus.Fields{
			"departure": dep.Key(),
			"remaining": before,
			"count":     count,
			"capacity":  c.capacity,
		}).Warn("Seat release clamped at capacity")
		c.remaining = c.capacity
	}

	if err := l.persist(ctx, dep, c.remaining); err != nil {
		c.remaining = before
		return fmt.Errorf("failed to persist seat count: %w", err)
	}
	return nil
}

// Remaining reads the current counter for the departure.
func (l *MemoryLedger) Remaining(ctx context.Context, dep Departure) (int, error) {
	c := l.counterFor(dep)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining, nil
}

func (l *MemoryLedger) persist(ctx context.Context, dep Departure, remaining int) error {
	if l.sink == nil {
		return nil
	}
	return l.sink.PersistScheduleSeatCount(ctx, dep.InstanceID, dep.TravelDate, remaining, dep.Capacity)
}
