// Package metrics exposes the booking engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of orders created",
	})

	BookingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_failed_total",
		Help: "Total number of failed booking attempts",
	}, []string{"reason"})

	BookingsPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_paid_total",
		Help: "Total number of orders marked paid",
	})

	BookingsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_cancelled_total",
		Help: "Total number of cancelled orders",
	}, []string{"reason"})

	BookingsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_completed_total",
		Help: "Total number of completed orders",
	})

	ReviewsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reviews_submitted_total",
		Help: "Total number of reviews folded into route ratings",
	})

	SeatReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seat_reserve_latency_seconds",
		Help:    "Latency of seat ledger reserve operations",
		Buckets: prometheus.DefBuckets,
	})

	SeatReserveConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_reserve_conflicts_total",
		Help: "Total number of reservations rejected for insufficient capacity",
	})

	SeatLedgerCorruptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_ledger_corruptions_total",
		Help: "Broken seat-accounting invariants detected (should stay zero)",
	})

	ExpiredOrdersSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expired_orders_swept_total",
		Help: "Pending orders auto-cancelled after the payment grace window",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
