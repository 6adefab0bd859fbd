package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/transitline/booking-backend/internal/middleware"
	"github.com/transitline/booking-backend/internal/models"
	"github.com/transitline/booking-backend/internal/services"
)

// BookingHandler exposes the order lifecycle over HTTP.
type BookingHandler struct {
	orders *services.OrderService
	logger *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(orders *services.OrderService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		orders: orders,
		logger: logger,
	}
}

// CreateBooking creates a new bus booking
// @Summary Create a new bus booking
// @Description Resolve a departure, price the passengers and reserve seats atomically
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} models.Order "Booking created successfully"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Failure 404 {object} map[string]interface{} "Route or departure not found"
// @Failure 409 {object} map[string]interface{} "Sold out or ambiguous departure"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.CreateBooking(c.Request.Context(), userCtx.UserID, &req)
	if err != nil {
		h.respondError(c, err, "Failed to create booking")
		return
	}

	c.JSON(http.StatusCreated, order)
}

// ListBookings retrieves bookings for the authenticated user
// @Summary List my bookings
// @Description List the authenticated user's bookings, newest first
// @Tags Bookings
// @Produce json
// @Param status query string false "Filter by order status"
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{} "List of bookings"
// @Failure 400 {object} map[string]interface{} "Invalid status filter"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings [get]
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var status *models.OrderStatus
	if raw := c.Query("status"); raw != "" {
		s := models.OrderStatus(raw)
		status = &s
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), userCtx.UserID, status, limit, offset)
	if err != nil {
		h.respondError(c, err, "Failed to list bookings")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"limit":  limit,
		"offset": offset,
	})
}

// GetBooking retrieves a specific booking
// @Summary Get booking by ID
// @Description Get booking details by order ID
// @Tags Bookings
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.Order "Booking details"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings/{orderId} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID, userCtx.UserID)
	if err != nil {
		h.respondError(c, err, "Failed to get booking")
		return
	}

	c.JSON(http.StatusOK, order)
}

// PayBooking records a payment against a pending booking
// @Summary Pay for a booking
// @Description Record a successful payment and move the order to paid
// @Tags Bookings
// @Accept json
// @Produce json
// @Param orderId path string true "Order ID"
// @Param request body models.MarkPaidRequest true "Payment details"
// @Success 200 {object} models.Order "Updated booking"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Failure 409 {object} map[string]interface{} "Order is not payable"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings/{orderId}/pay [post]
func (h *BookingHandler) PayBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	var req models.MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.MarkPaid(c.Request.Context(), orderID, userCtx.UserID, &req)
	if err != nil {
		h.respondError(c, err, "Failed to record payment")
		return
	}

	c.JSON(http.StatusOK, order)
}

// CancelBooking cancels a pending or paid booking
// @Summary Cancel a booking
// @Description Cancel the order and release its seats; paid orders are refunded in full
// @Tags Bookings
// @Accept json
// @Produce json
// @Param orderId path string true "Order ID"
// @Param request body models.CancelOrderRequest false "Cancellation reason"
// @Success 200 {object} models.Order "Updated booking"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Failure 409 {object} map[string]interface{} "Order is not cancellable"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings/{orderId}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	// Body is optional; an empty reason falls back to the default.
	var req models.CancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), orderID, userCtx.UserID, req.Reason)
	if err != nil {
		h.respondError(c, err, "Failed to cancel booking")
		return
	}

	c.JSON(http.StatusOK, order)
}

// CompleteBooking marks a paid booking as completed
// @Summary Complete a booking
// @Description Mark a paid order as completed after the trip has run
// @Tags Bookings
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.Order "Updated booking"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Failure 403 {object} map[string]interface{} "Forbidden"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Failure 409 {object} map[string]interface{} "Order is not completable"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings/{orderId}/complete [post]
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.orders.CompleteOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err, "Failed to complete booking")
		return
	}

	c.JSON(http.StatusOK, order)
}

// ReviewBooking attaches a review to a completed booking
// @Summary Review a booking
// @Description Submit a one-time rating and comment for a completed trip
// @Tags Bookings
// @Accept json
// @Produce json
// @Param orderId path string true "Order ID"
// @Param request body models.SubmitReviewRequest true "Review"
// @Success 200 {object} models.Order "Updated booking"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Failure 409 {object} map[string]interface{} "Already reviewed or not completed"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Security BearerAuth
// @Router /api/v1/bookings/{orderId}/review [post]
func (h *BookingHandler) ReviewBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	var req models.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.SubmitReview(c.Request.Context(), orderID, userCtx.UserID, &req)
	if err != nil {
		h.respondError(c, err, "Failed to submit review")
		return
	}

	c.JSON(http.StatusOK, order)
}

// orderID parses the orderId path parameter, writing the error response itself.
func (h *BookingHandler) orderID(c *gin.Context) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return uuid.Nil, false
	}
	return orderID, true
}

// respondError maps service errors onto HTTP status codes.
func (h *BookingHandler) respondError(c *gin.Context, err error, fallback string) {
	var ve *models.ValidationError
	var ite *models.InvalidTransitionError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "code": "VALIDATION_ERROR"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "code": "NOT_FOUND"})
	case errors.Is(err, models.ErrInsufficientCapacity):
		c.JSON(http.StatusConflict, gin.H{"error": "Not enough seats left on this departure", "code": "SOLD_OUT"})
	case errors.Is(err, models.ErrAmbiguousMatch):
		c.JSON(http.StatusConflict, gin.H{"error": "Multiple departures match; specify a departure time", "code": "AMBIGUOUS_DEPARTURE"})
	case errors.Is(err, models.ErrAlreadyReviewed):
		c.JSON(http.StatusConflict, gin.H{"error": "This booking has already been reviewed", "code": "ALREADY_REVIEWED"})
	case errors.As(err, &ite):
		c.JSON(http.StatusConflict, gin.H{"error": ite.Error(), "code": "INVALID_TRANSITION"})
	default:
		h.logger.WithError(err).WithField("path", c.Request.URL.Path).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
