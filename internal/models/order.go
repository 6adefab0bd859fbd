package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ORDER STATUS STATE MACHINE
// ============================================================================

// OrderStatus represents the lifecycle state of an order.
// Matches PostgreSQL ENUM: order_status
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// orderTransitions is the single authority over legal state-machine moves.
// Anything not listed here is an InvalidTransition, which keeps illegal
// moves structurally unreachable rather than guarded per call site.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending: {
		OrderStatusPaid:      true,
		OrderStatusCancelled: true,
	},
	OrderStatusPaid: {
		OrderStatusCompleted: true,
		OrderStatusCancelled: true,
	},
	// completed, cancelled and refunded are terminal.
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	return orderTransitions[s][target]
}

// IsTerminal reports whether no further transition is defined from s.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// Valid reports whether s is a known status value.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// ============================================================================
// INSURANCE
// ============================================================================

// InsuranceType enumerates the purchasable policy types. Prices live in a
// fixed server-side table (see services.InsurancePrice) so the client can
// never supply its own premium.
type InsuranceType string

const (
	InsuranceBasic         InsuranceType = "basic"
	InsuranceDelay         InsuranceType = "delay"
	InsuranceComprehensive InsuranceType = "comprehensive"
)

// Valid reports whether t is a known policy type.
func (t InsuranceType) Valid() bool {
	switch t {
	case InsuranceBasic, InsuranceDelay, InsuranceComprehensive:
		return true
	}
	return false
}

// Insurance is a passenger's purchased policy snapshot. Price is the
// server-side constant at purchase time, frozen onto the order.
type Insurance struct {
	Purchased bool          `json:"purchased"`
	Type      InsuranceType `json:"type,omitempty"`
	Price     float64       `json:"price,omitempty"`
}

// ============================================================================
// PASSENGERS
// ============================================================================

// Passenger is one traveller on an order.
type Passenger struct {
	Name      string    `json:"name"`
	IDType    string    `json:"id_type"`
	IDNumber  string    `json:"id_number"`
	Phone     string    `json:"phone,omitempty"`
	Insurance Insurance `json:"insurance"`
}

// DefaultIDType is used when a passenger omits the document type.
const DefaultIDType = "id_card"

// PassengerList is stored as a JSONB column on the orders table.
type PassengerList []Passenger

// Value implements the driver.Valuer interface.
func (p PassengerList) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface.
func (p *PassengerList) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for PassengerList")
	}
	return json.Unmarshal(bytes, p)
}

// ============================================================================
// PAYMENT
// ============================================================================

// PaymentMethod enumerates accepted settlement channels.
type PaymentMethod string

const (
	PaymentMethodAlipay     PaymentMethod = "alipay"
	PaymentMethodWechat     PaymentMethod = "wechat"
	PaymentMethodCreditCard PaymentMethod = "credit_card"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodAlipay, PaymentMethodWechat, PaymentMethodCreditCard:
		return true
	}
	return false
}

// PaymentRecord captures the payment bookkeeping on an order. Refund
// fields are set only when a paid order is cancelled; actual settlement
// against the gateway is an external collaborator concern, the engine only
// records the intent.
type PaymentRecord struct {
	Method        PaymentMethod `json:"method"`
	TransactionID string        `json:"transaction_id"`
	PaidAt        time.Time     `json:"paid_at"`
	Amount        float64       `json:"amount"`
	RefundAmount  *float64      `json:"refund_amount,omitempty"`
	RefundReason  *string       `json:"refund_reason,omitempty"`
	RefundedAt    *time.Time    `json:"refunded_at,omitempty"`
}

// Value implements the driver.Valuer interface.
func (p PaymentRecord) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface.
func (p *PaymentRecord) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for PaymentRecord")
	}
	return json.Unmarshal(bytes, p)
}

// ============================================================================
// REVIEW
// ============================================================================

// Review is the single post-trip review attachable to a completed order.
type Review struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Value implements the driver.Valuer interface.
func (r Review) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface.
func (r *Review) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for Review")
	}
	return json.Unmarshal(bytes, r)
}

// ============================================================================
// ORDER MODEL (orders table)
// ============================================================================

// Order is one booking transaction: a seat reservation for exactly one
// departure (schedule instance + calendar date), owned by one user, driven
// through the pending → paid → completed/cancelled lifecycle. Orders are
// never deleted; terminal orders are retained for audit and history.
type Order struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OrderNumber string    `json:"order_number" db:"order_number"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	RouteID     string    `json:"route_id" db:"route_id"`

	// Departure the held seats belong to.
	ScheduleID    string    `json:"schedule_id" db:"schedule_id"`
	TravelDate    time.Time `json:"travel_date" db:"travel_date"`
	DepartureName string    `json:"departure_name" db:"departure_name"`
	DepartureTime string    `json:"departure_time" db:"departure_time"`
	ArrivalPoint  string    `json:"arrival_point" db:"arrival_point"`

	Status OrderStatus `json:"status" db:"status"`

	Passengers     PassengerList `json:"passengers" db:"passengers"`
	PassengerCount int           `json:"passenger_count" db:"passenger_count"`
	TotalPrice     float64       `json:"total_price" db:"total_price"`
	InsuranceTotal float64       `json:"insurance_total" db:"insurance_total"`

	Payment *PaymentRecord `json:"payment,omitempty" db:"payment"`
	Review  *Review        `json:"review,omitempty" db:"review"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasReview reports whether a review is already attached.
func (o *Order) HasReview() bool {
	return o.Review != nil
}

// ============================================================================
// REQUESTS
// ============================================================================

// PassengerRequest is a traveller as submitted by the caller. Insurance
// selection is a per-passenger policy type; the premium is never accepted
// from the wire.
type PassengerRequest struct {
	Name      string        `json:"name"`
	IDType    string        `json:"id_type"`
	IDNumber  string        `json:"id_number"`
	Phone     string        `json:"phone"`
	Insurance InsuranceType `json:"insurance,omitempty"`
}

// CreateBookingRequest carries everything needed to resolve a departure
// and reserve seats on it.
type CreateBookingRequest struct {
	RouteID        string             `json:"route_id"`
	TravelDate     string             `json:"travel_date"` // "2006-01-02"
	DeparturePoint string             `json:"departure_point"`
	DepartureTime  string             `json:"departure_time"` // "HH:MM", disambiguates instances
	ArrivalPoint   string             `json:"arrival_point"`
	Passengers     []PassengerRequest `json:"passengers"`
	Insurance      bool               `json:"insurance"` // apply basic insurance to every passenger
}

// Validate checks the request shape. Business legality (active route,
// future date, capacity) is the lifecycle manager's concern.
func (r *CreateBookingRequest) Validate() error {
	if r.RouteID == "" {
		return NewValidationError("route_id", "is required")
	}
	if r.DeparturePoint == "" {
		return NewValidationError("departure_point", "is required")
	}
	if _, err := time.Parse("2006-01-02", r.TravelDate); err != nil {
		return NewValidationError("travel_date", "must be a date in YYYY-MM-DD form")
	}
	if len(r.Passengers) == 0 {
		return NewValidationError("passengers", "at least one passenger is required")
	}
	for _, p := range r.Passengers {
		if p.Name == "" {
			return NewValidationError("passengers", "passenger name is required")
		}
		if p.IDNumber == "" {
			return NewValidationError("passengers", "passenger id number is required")
		}
		if p.Insurance != "" && !p.Insurance.Valid() {
			return NewValidationError("passengers", "unknown insurance type")
		}
	}
	return nil
}

// ParsedTravelDate returns the calendar date the request targets.
// Validate must have succeeded first.
func (r *CreateBookingRequest) ParsedTravelDate() time.Time {
	d, _ := time.Parse("2006-01-02", r.TravelDate)
	return d
}

// MarkPaidRequest records a payment against a pending order.
type MarkPaidRequest struct {
	Method        PaymentMethod `json:"method"`
	TransactionID string        `json:"transaction_id"`
}

// Validate checks the payment fields.
func (r *MarkPaidRequest) Validate() error {
	if !r.Method.Valid() {
		return NewValidationError("method", "must be one of alipay, wechat, credit_card")
	}
	if r.TransactionID == "" {
		return NewValidationError("transaction_id", "is required")
	}
	return nil
}

// CancelOrderRequest carries the optional cancellation reason.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// DefaultCancelReason is recorded when the caller gives none.
const DefaultCancelReason = "user_cancelled"

// SubmitReviewRequest attaches a post-trip review to a completed order.
type SubmitReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Validate checks the rating scale.
func (r *SubmitReviewRequest) Validate() error {
	if r.Rating < 1 || r.Rating > 5 {
		return NewValidationError("rating", "must be an integer between 1 and 5")
	}
	return nil
}
