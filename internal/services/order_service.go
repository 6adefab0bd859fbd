package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/transitline/booking-backend/internal/broker"
	"github.com/transitline/booking-backend/internal/ledger"
	"github.com/transitline/booking-backend/internal/metrics"
	"github.com/transitline/booking-backend/internal/models"
	"github.com/transitline/booking-backend/pkg/ordernum"
)

// OrderStore is the persistence surface the lifecycle manager drives. The
// Mark* operations are conditional on the state the caller observed and
// report false when the row had already moved, so illegal transitions are
// rejected even if another process races past the in-process lock.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status *models.OrderStatus, limit, offset int) ([]*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, payment *models.PaymentRecord) (bool, error)
	MarkCancelled(ctx context.Context, orderID uuid.UUID, from models.OrderStatus, payment *models.PaymentRecord) (bool, error)
	MarkCompleted(ctx context.Context, orderID uuid.UUID) (bool, error)
	AttachReview(ctx context.Context, orderID uuid.UUID, review *models.Review) (bool, error)
	ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*models.Order, error)
}

// orderLocks serializes transition attempts per order id. Entries are
// refcounted and removed once the last holder releases, so the map does not
// grow with order history.
type orderLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[uuid.UUID]*orderLock)}
}

// lock acquires the per-order mutex and returns its release func.
func (l *orderLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &orderLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// OrderService is the order lifecycle manager: it owns the pending → paid →
// completed/cancelled state machine, orchestrates the seat ledger on create
// and cancel, and folds reviews into route ratings. Seat counters are only
// ever touched through the ledger.
type OrderService struct {
	resolver *ScheduleResolver
	catalog  RouteCatalog
	orders   OrderStore
	seats    ledger.SeatLedger
	ratings  *RatingAggregator
	events   *broker.EventPublisher
	logger   *logrus.Logger

	pendingGrace time.Duration
	locks        *orderLocks
	now          func() time.Time
}

// NewOrderService creates a new order lifecycle manager. pendingGrace is
// the window an unpaid pending order survives before it is eligible for
// automatic expiry.
func NewOrderService(
	resolver *ScheduleResolver,
	catalog RouteCatalog,
	orders OrderStore,
	seats ledger.SeatLedger,
	ratings *RatingAggregator,
	events *broker.EventPublisher,
	pendingGrace time.Duration,
	logger *logrus.Logger,
) *OrderService {
	return &OrderService{
		resolver:     resolver,
		catalog:      catalog,
		orders:       orders,
		seats:        seats,
		ratings:      ratings,
		events:       events,
		logger:       logger,
		pendingGrace: pendingGrace,
		locks:        newOrderLocks(),
		now:          time.Now,
	}
}

// CreateBooking resolves the departure, prices the request, reserves seats
// and persists a pending order. Reservation and persistence are
// all-or-nothing: if the order record cannot be written the reservation is
// rolled back, so a failed booking never leaks held seats.
func (s *OrderService) CreateBooking(ctx context.Context, userID uuid.UUID, req *models.CreateBookingRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		metrics.BookingsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	travelDate := req.ParsedTravelDate()
	today := s.now().Truncate(24 * time.Hour)
	if travelDate.Before(today) {
		metrics.BookingsFailedTotal.WithLabelValues("validation").Inc()
		return nil, models.NewValidationError("travel_date", "must not be in the past")
	}

	resolved, err := s.resolver.Resolve(req.RouteID, travelDate, req.DeparturePoint, req.ArrivalPoint, req.DepartureTime)
	if err != nil {
		metrics.BookingsFailedTotal.WithLabelValues("resolve").Inc()
		return nil, err
	}

	quote, err := PriceBooking(resolved.Instance.BasePrice, req.Passengers, req.Insurance)
	if err != nil {
		metrics.BookingsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	orderNumber, err := ordernum.New()
	if err != nil {
		metrics.BookingsFailedTotal.WithLabelValues("persist").Inc()
		return nil, fmt.Errorf("failed to generate order number: %w", err)
	}

	dep := ledger.Departure{
		InstanceID: resolved.Instance.ID,
		TravelDate: travelDate,
		Capacity:   resolved.Instance.Capacity,
	}

	reserveStart := s.now()
	reservation, err := s.seats.Reserve(ctx, dep, quote.PassengerCount)
	metrics.SeatReserveLatency.Observe(s.now().Sub(reserveStart).Seconds())
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCapacity) {
			metrics.BookingsFailedTotal.WithLabelValues("sold_out").Inc()
		} else {
			metrics.BookingsFailedTotal.WithLabelValues("reserve").Inc()
		}
		return nil, err
	}

	order := &models.Order{
		OrderNumber:    orderNumber,
		UserID:         userID,
		RouteID:        req.RouteID,
		ScheduleID:     resolved.Instance.ID,
		TravelDate:     travelDate,
		DepartureName:  resolved.DeparturePoint.Name,
		DepartureTime:  resolved.DeparturePoint.DepartureTime,
		ArrivalPoint:   req.ArrivalPoint,
		Status:         models.OrderStatusPending,
		Passengers:     quote.Passengers,
		PassengerCount: quote.PassengerCount,
		TotalPrice:     quote.Total,
		InsuranceTotal: quote.InsuranceTotal,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if relErr := s.seats.Release(ctx, dep, quote.PassengerCount); relErr != nil {
			s.logger.WithError(relErr).WithFields(logrus.Fields{
				"departure": dep.Key(),
				"count":     quote.PassengerCount,
			}).Error("Failed to roll back reservation after order persistence failure")
		}
		metrics.BookingsFailedTotal.WithLabelValues("persist").Inc()
		return nil, err
	}

	if err := s.catalog.IncrementBookingCount(req.RouteID); err != nil {
		s.logger.WithError(err).WithField("route_id", req.RouteID).Warn("Failed to increment route booking count")
	}

	s.events.PublishOrderCreated(ctx, &models.OrderCreatedEvent{
		BaseEvent:      models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         userID,
		RouteID:        order.RouteID,
		ScheduleID:     order.ScheduleID,
		TravelDate:     travelDate.Format(ledger.DateLayout),
		PassengerCount: order.PassengerCount,
		TotalPrice:     order.TotalPrice,
	})
	metrics.BookingsCreatedTotal.Inc()

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"departure":    dep.Key(),
		"passengers":   order.PassengerCount,
		"remaining":    reservation.Remaining,
		"total_price":  order.TotalPrice,
	}).Info("Booking created")

	return order, nil
}

// GetOrder returns the user's order or NotFound. An order owned by another
// user is reported as missing, not forbidden.
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.orders.GetForUser(ctx, orderID, userID)
}

// ListOrders returns the user's orders newest first, optionally filtered by
// status.
func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID, status *models.OrderStatus, limit, offset int) ([]*models.Order, error) {
	if status != nil && !status.Valid() {
		return nil, models.NewValidationError("status", "unknown order status")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.orders.ListByUser(ctx, userID, status, limit, offset)
}

// MarkPaid records payment on a pending order. An order whose grace window
// already lapsed is expired here on access, so a stale pending order can
// never be paid even if the background sweep has not reached it yet.
func (s *OrderService) MarkPaid(ctx context.Context, orderID, userID uuid.UUID, req *models.MarkPaidRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if order.Status == models.OrderStatusPending && s.pendingGrace > 0 &&
		s.now().Sub(order.CreatedAt) > s.pendingGrace {
		if err := s.expireLocked(ctx, order); err != nil {
			return nil, err
		}
		return nil, models.NewInvalidTransition(models.OrderStatusCancelled, models.OrderStatusPaid)
	}

	if !order.Status.CanTransitionTo(models.OrderStatusPaid) {
		return nil, models.NewInvalidTransition(order.Status, models.OrderStatusPaid)
	}

	payment := &models.PaymentRecord{
		Method:        req.Method,
		TransactionID: req.TransactionID,
		PaidAt:        s.now(),
		Amount:        order.TotalPrice,
	}

	ok, err := s.orders.MarkPaid(ctx, orderID, payment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewInvalidTransition(order.Status, models.OrderStatusPaid)
	}

	order.Status = models.OrderStatusPaid
	order.Payment = payment

	s.events.PublishOrderPaid(ctx, &models.OrderPaidEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Method:        payment.Method,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
	})
	metrics.BookingsPaidTotal.Inc()

	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"method":   payment.Method,
		"amount":   payment.Amount,
	}).Info("Order paid")

	return order, nil
}

// CancelOrder cancels a pending or paid order, releasing its held seats.
// The status flips first via a conditional update and seats are released
// only when this call won the flip, so a double cancel can never release
// twice. A paid cancellation records the full refund intent on the payment
// record; settlement against the gateway is an external concern.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID, reason string) (*models.Order, error) {
	if reason == "" {
		reason = models.DefaultCancelReason
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if !order.Status.CanTransitionTo(models.OrderStatusCancelled) {
		return nil, models.NewInvalidTransition(order.Status, models.OrderStatusCancelled)
	}

	var payment *models.PaymentRecord
	refunded := false
	refundAmount := 0.0
	if order.Status == models.OrderStatusPaid && order.Payment != nil {
		record := *order.Payment
		refundAmount = record.Amount
		refundedAt := s.now()
		record.RefundAmount = &refundAmount
		record.RefundReason = &reason
		record.RefundedAt = &refundedAt
		payment = &record
		refunded = true
	}

	ok, err := s.orders.MarkCancelled(ctx, orderID, order.Status, payment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewInvalidTransition(order.Status, models.OrderStatusCancelled)
	}

	s.releaseSeats(ctx, order)

	order.Status = models.OrderStatusCancelled
	if payment != nil {
		order.Payment = payment
	}

	s.events.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{
		BaseEvent:    models.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Reason:       reason,
		Refunded:     refunded,
		RefundAmount: refundAmount,
	})
	metrics.BookingsCancelledTotal.WithLabelValues(cancelMetricReason(reason)).Inc()

	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"reason":   reason,
		"refunded": refunded,
	}).Info("Order cancelled")

	return order, nil
}

// CompleteOrder marks a paid order completed after the trip ran. Seats stay
// consumed.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.Status.CanTransitionTo(models.OrderStatusCompleted) {
		return nil, models.NewInvalidTransition(order.Status, models.OrderStatusCompleted)
	}

	ok, err := s.orders.MarkCompleted(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewInvalidTransition(order.Status, models.OrderStatusCompleted)
	}

	order.Status = models.OrderStatusCompleted

	s.events.PublishOrderCompleted(ctx, &models.OrderCompletedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCompleted),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	})
	metrics.BookingsCompletedTotal.Inc()

	return order, nil
}

// SubmitReview attaches the one-and-only review to a completed order and
// folds it into the route's aggregate rating. The conditional store write
// is the idempotence guard; the aggregator only does arithmetic.
func (s *OrderService) SubmitReview(ctx context.Context, orderID, userID uuid.UUID, req *models.SubmitReviewRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if order.HasReview() {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrAlreadyReviewed)
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, models.NewInvalidTransition(order.Status, models.OrderStatusCompleted)
	}

	review := &models.Review{
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: s.now(),
	}

	ok, err := s.orders.AttachReview(ctx, orderID, review)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrAlreadyReviewed)
	}

	if err := s.ratings.ApplyReview(order.RouteID, req.Rating); err != nil {
		return nil, err
	}

	order.Review = review

	s.events.PublishOrderReviewed(ctx, &models.OrderReviewedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderReviewed),
		OrderID:   order.ID,
		RouteID:   order.RouteID,
		Rating:    req.Rating,
	})
	metrics.ReviewsSubmittedTotal.Inc()

	return order, nil
}

// ExpirePending cancels pending orders older than the grace window,
// releasing their seats. Returns how many orders were expired. Safe to run
// concurrently with payments: each order is re-checked under its lock and
// the state flip is conditional.
func (s *OrderService) ExpirePending(ctx context.Context, batchLimit int) (int, error) {
	if s.pendingGrace <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.pendingGrace)
	stale, err := s.orders.ListPendingExpired(ctx, cutoff, batchLimit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range stale {
		unlock := s.locks.lock(order.ID)
		err := s.expireLocked(ctx, order)
		unlock()
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to expire order")
			continue
		}
		expired++
	}
	return expired, nil
}

// expireLocked flips one pending order to cancelled with reason "expired"
// and releases its seats. Caller holds the order lock.
func (s *OrderService) expireLocked(ctx context.Context, order *models.Order) error {
	ok, err := s.orders.MarkCancelled(ctx, order.ID, models.OrderStatusPending, nil)
	if err != nil {
		return err
	}
	if !ok {
		// paid or cancelled in the meantime, nothing to do
		return nil
	}

	s.releaseSeats(ctx, order)
	order.Status = models.OrderStatusCancelled

	s.events.PublishOrderExpired(ctx, &models.OrderExpiredEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderExpired),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		PendingFor:  s.now().Sub(order.CreatedAt).Round(time.Second).String(),
	})
	metrics.ExpiredOrdersSweptTotal.Inc()
	metrics.BookingsCancelledTotal.WithLabelValues("expired").Inc()

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	}).Info("Pending order expired")
	return nil
}

// releaseSeats returns the order's held seats to its departure. A failure
// here leaks seats until the counter is reconciled, so it is logged loudly,
// but it never rolls back an already-committed cancellation.
func (s *OrderService) releaseSeats(ctx context.Context, order *models.Order) {
	dep, err := s.departureFor(order)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":    order.ID,
			"schedule_id": order.ScheduleID,
		}).Error("Cannot resolve departure for seat release")
		return
	}

	if err := s.seats.Release(ctx, dep, order.PassengerCount); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":  order.ID,
			"departure": dep.Key(),
			"count":     order.PassengerCount,
		}).Error("Failed to release seats")
	}
}

// departureFor rebuilds the ledger key for the order's departure from the
// catalog, which knows the instance's capacity.
func (s *OrderService) departureFor(order *models.Order) (ledger.Departure, error) {
	route, err := s.catalog.ResolveRoute(order.RouteID)
	if err != nil {
		return ledger.Departure{}, err
	}
	for _, inst := range route.InstancesOn(order.TravelDate) {
		if inst.ID == order.ScheduleID {
			return ledger.Departure{
				InstanceID: inst.ID,
				TravelDate: order.TravelDate,
				Capacity:   inst.Capacity,
			}, nil
		}
	}
	return ledger.Departure{}, fmt.Errorf("schedule instance %s on route %s: %w",
		order.ScheduleID, order.RouteID, models.ErrNotFound)
}

func cancelMetricReason(reason string) string {
	if reason == "expired" {
		return "expired"
	}
	return "user"
}
