package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/transitline/booking-backend/internal/broker"
	"github.com/transitline/booking-backend/internal/config"
	"github.com/transitline/booking-backend/internal/database"
	"github.com/transitline/booking-backend/internal/handlers"
	"github.com/transitline/booking-backend/internal/ledger"
	"github.com/transitline/booking-backend/internal/metrics"
	"github.com/transitline/booking-backend/internal/middleware"
	"github.com/transitline/booking-backend/internal/services"
	"github.com/transitline/booking-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting TransitLine Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	// Initialize repositories
	routeRepo := database.NewRouteRepository(db)
	orderRepo := database.NewOrderRepository(db)

	// Select the seat ledger substrate. The route repository doubles as the
	// durability sink for the in-memory and Redis substrates.
	var seats ledger.SeatLedger
	switch cfg.Booking.LedgerBackend {
	case "memory":
		logger.Warn("Using in-memory seat ledger; counters reset on restart")
		seats = ledger.NewMemoryLedger(routeRepo, logger)
	case "redis":
		redisLedger, err := ledger.NewRedisLedger(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, routeRepo, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis seat ledger: %v", err)
		}
		defer redisLedger.Close()
		seats = redisLedger
	default:
		seats = database.NewScheduleSeatRepository(db, logger)
	}
	logger.Infof("Seat ledger backend: %s", cfg.Booking.LedgerBackend)

	// Initialize the order event stream. With no brokers configured the
	// publisher is a no-op and order state lives in Postgres alone.
	var producer *broker.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer producer.Close()
		logger.Infof("Kafka producer initialized, topic %s", cfg.Kafka.Topic)
	} else {
		logger.Info("No Kafka brokers configured, order events disabled")
	}
	events := broker.NewEventPublisher(producer, logger)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	resolver := services.NewScheduleResolver(routeRepo, logger)
	ratings := services.NewRatingAggregator(routeRepo, logger)
	orderService := services.NewOrderService(
		resolver,
		routeRepo,
		orderRepo,
		seats,
		ratings,
		events,
		cfg.Booking.PendingGraceWindow,
		logger,
	)

	// Start the pending-order expiry sweeper
	expiryService := services.NewOrderExpiryService(
		orderService,
		cfg.Booking.SweepInterval,
		cfg.Booking.SweepBatchLimit,
		logger,
	)
	expiryService.Start()
	logger.Infof("Order expiry sweeper started, grace window %s", cfg.Booking.PendingGraceWindow)

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(orderService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(requestLogger(logger))
	}
	router.Use(requestMetrics())

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Operational endpoints
	router.GET("/health", healthCheckHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("", bookingHandler.ListBookings)
			bookings.GET("/:orderId", bookingHandler.GetBooking)
			bookings.POST("/:orderId/pay", bookingHandler.PayBooking)
			bookings.POST("/:orderId/cancel", bookingHandler.CancelBooking)
			bookings.POST("/:orderId/review", bookingHandler.ReviewBooking)

			// Completion is driven by operations tooling, not passengers.
			bookings.POST("/:orderId/complete", middleware.RequireRole("admin", "operator"), bookingHandler.CompleteBooking)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	logger.Info("Stopping order expiry sweeper...")
	expiryService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		if userCtx, exists := middleware.GetUserContext(c); exists {
			fields["user_id"] = userCtx.UserID
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

// requestMetrics counts requests by method, route template and status.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "healthy"
		if err := db.Ping(); err != nil {
			dbStatus = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbStatus,
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  dbStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
