package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// OrderExpiryService handles background expiration of unpaid pending orders
type OrderExpiryService struct {
	orders     *OrderService
	logger     *logrus.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchLimit int
}

// NewOrderExpiryService creates a new order expiry service
func NewOrderExpiryService(orders *OrderService, interval time.Duration, batchLimit int, logger *logrus.Logger) *OrderExpiryService {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &OrderExpiryService{
		orders:     orders,
		logger:     logger,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchLimit: batchLimit,
	}
}

// Start begins the background expiry job
func (s *OrderExpiryService) Start() {
	s.logger.WithField("interval", s.interval.String()).Info("Starting Order Expiry Service")
	go s.run()
}

// Stop stops the background expiry job
func (s *OrderExpiryService) Stop() {
	s.logger.Info("Stopping Order Expiry Service")
	close(s.stopCh)
}

func (s *OrderExpiryService) run() {
	// Run immediately on start
	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			s.logger.Info("Order Expiry Service stopped")
			return
		}
	}
}

func (s *OrderExpiryService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.orders.ExpirePending(ctx, s.batchLimit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sweep expired orders")
		return
	}
	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired unpaid pending orders")
	}
}

// RunOnce runs a single expiry cycle (useful for testing or manual trigger)
func (s *OrderExpiryService) RunOnce() {
	s.sweep()
}
