package ledger

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/transitline/booking-backend/internal/metrics"
	"github.com/transitline/booking-backend/internal/models"
)

//go:embed scripts/reserve_seats.lua
var reserveSeatsScript string

//go:embed scripts/release_seats.lua
var releaseSeatsScript string

// RedisLedger keeps departure counters in Redis. The check-and-decrement
// runs server-side in a Lua script, so concurrent reserves against the
// same key serialize inside Redis with no read-modify-write window.
type RedisLedger struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script

	sink   SeatSink
	logger *logrus.Logger
}

// NewRedisLedger connects to Redis and loads the seat scripts. sink may
// be nil when the catalog durability hook is not wanted.
func NewRedisLedger(addr, password string, db int, sink SeatSink, logger *logrus.Logger) (*RedisLedger, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisLedger{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveSeatsScript),
		releaseScript: redis.NewScript(releaseSeatsScript),
		sink:          sink,
		logger:        logger,
	}, nil
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	return l.rdb.Close()
}

func seatKey(dep Departure) string {
	return "seats:" + dep.Key()
}

// Reserve atomically decrements the departure's counter by count.
func (l *RedisLedger) Reserve(ctx context.Context, dep Departure, count int) (*Reservation, error) {
	if count <= 0 {
		return nil, models.NewValidationError("count", "must be positive")
	}

	result, err := l.reserveScript.Run(ctx, l.rdb, []string{seatKey(dep)}, count, dep.Capacity).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve seats script failed: %w", err)
	}

	remaining, ok := result.(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected reserve script result type %T", result)
	}
	if remaining < 0 {
		return nil, fmt.Errorf("%w: requested %d", models.ErrInsufficientCapacity, count)
	}
	if int(remaining) > dep.Capacity {
		metrics.SeatLedgerCorruptionsTotal.Inc()
		l.logger.WithFields(logrus.Fields{
			"departure": dep.Key(),
			"remaining": remaining,
			"capacity":  dep.Capacity,
			"fatal":     true,
		}).Error("Seat counter above capacity")
		return nil, fmt.Errorf("%w: remaining=%d capacity=%d", models.ErrLedgerCorrupted, remaining, dep.Capacity)
	}

	l.persist(ctx, dep, int(remaining))
	return &Reservation{Departure: dep, Count: count, Remaining: int(remaining)}, nil
}

// Release atomically increments the departure's counter by count,
// saturating at capacity.
func (l *RedisLedger) Release(ctx context.Context, dep Departure, count int) error {
	if count <= 0 {
		return models.NewValidationError("count", "must be positive")
	}

	result, err := l.releaseScript.Run(ctx, l.rdb, []string{seatKey(dep)}, count, dep.Capacity).Result()
	if err != nil {
		return fmt.Errorf("release seats script failed: %w", err)
	}

	remaining, ok := result.(int64)
	if !ok {
		return fmt.Errorf("unexpected release script result type %T", result)
	}

	l.persist(ctx, dep, int(remaining))
	return nil
}

// Remaining reads the current counter. A missing key means the departure
// has never been touched, so the full capacity is still available.
func (l *RedisLedger) Remaining(ctx context.Context, dep Departure) (int, error) {
	val, err := l.rdb.Get(ctx, seatKey(dep)).Int()
	if err == redis.Nil {
		return dep.Capacity, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read seat counter: %w", err)
	}
	return val, nil
}

// persist writes the counter through the durability hook. Redis is
// already the authoritative store for this backend, so a sink failure is
// logged but does not fail the operation.
func (l *RedisLedger) persist(ctx context.Context, dep Departure, remaining int) {
	if l.sink == nil {
		return
	}
	if err := l.sink.PersistScheduleSeatCount(ctx, dep.InstanceID, dep.TravelDate, remaining, dep.Capacity); err != nil {
		l.logger.WithError(err).WithField("departure", dep.Key()).Warn("Failed to persist seat count to catalog")
	}
}
