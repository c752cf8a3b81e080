package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NotifyRequest mirrors the payload the processor sends after a booking
// is paid.
type NotifyRequest struct {
	EventID   string `json:"event_id" binding:"required"`
	BookingID int64  `json:"booking_id" binding:"required"`
	UserID    int64  `json:"user_id"`
	Phone     string `json:"phone" binding:"required"`
	Amount    int64  `json:"amount"`
	PaidAt    int64  `json:"paid_at"`
}

type NotifyResponse struct {
	EventID    string    `json:"event_id"`
	Status     string    `json:"status"`
	AcceptedAt time.Time `json:"accepted_at"`
	ProviderID string    `json:"provider_id"`
	ErrorCode  string    `json:"error_code,omitempty"`
	ErrorMsg   string    `json:"error_message,omitempty"`
}

type HealthResponse struct {
	Status     string    `json:"status"`
	ProviderID string    `json:"provider_id"`
	Timestamp  time.Time `json:"timestamp"`
	AcceptRate float64   `json:"accept_rate"`
}

// MockNotifier simulates the guest notification service the processor
// talks to in production.
type MockNotifier struct {
	acceptRate float64
	minDelay   time.Duration
	maxDelay   time.Duration
	providerID string
	rng        *rand.Rand
}

func NewMockNotifier(acceptRate float64, minDelay, maxDelay time.Duration) *MockNotifier {
	return &MockNotifier{
		acceptRate: acceptRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		providerID: "MOCK_NOTIFIER_" + uuid.New().String()[:8],
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockNotifier) simulateAccept(req *NotifyRequest) *NotifyResponse {
	time.Sleep(m.randomDelay())

	response := &NotifyResponse{
		EventID:    req.EventID,
		ProviderID: m.providerID,
		AcceptedAt: time.Now(),
	}

	if m.shouldSucceed() {
		response.Status = "accepted"

		log.Info().
			Str("event_id", req.EventID).
			Int64("booking_id", req.BookingID).
			Str("phone", req.Phone).
			Msg("Notification accepted")
	} else {
		response.Status = "rejected"
		response.ErrorCode = "TEMPORARY_FAILURE"
		response.ErrorMsg = "Notification service temporarily unavailable"

		log.Warn().
			Str("event_id", req.EventID).
			Int64("booking_id", req.BookingID).
			Msg("Notification rejected")
	}

	return response
}

func (m *MockNotifier) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockNotifier) shouldSucceed() bool {
	return m.rng.Float64() < m.acceptRate
}

type Handler struct {
	notifier *MockNotifier
}

func NewHandler(notifier *MockNotifier) *Handler {
	return &Handler{notifier: notifier}
}

func (h *Handler) Notify(c *gin.Context) {
	var req NotifyRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("event_id", req.EventID).
		Int64("booking_id", req.BookingID).
		Msg("Received notification request")

	response := h.notifier.simulateAccept(&req)

	statusCode := http.StatusOK
	if response.Status != "accepted" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	// simulate 5% downtime
	if h.notifier.rng.Float64() < 0.05 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  "Notifier temporarily unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		ProviderID: h.notifier.providerID,
		Timestamp:  time.Now(),
		AcceptRate: h.notifier.acceptRate,
	})
}

// UpdateConfig allows changing the accept rate at runtime, handy for
// failover experiments.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		AcceptRate *float64 `json:"accept_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.AcceptRate != nil {
		if *config.AcceptRate >= 0 && *config.AcceptRate <= 1.0 {
			h.notifier.acceptRate = *config.AcceptRate
			log.Info().Float64("rate", *config.AcceptRate).Msg("Updated accept rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Configuration updated",
		"accept_rate": h.notifier.acceptRate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/notifications", handler.Notify)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	acceptRate := getEnvFloat("ACCEPT_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("accept_rate", acceptRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock Notification Service")

	notifier := NewMockNotifier(acceptRate, minDelay, maxDelay)
	handler := NewHandler(notifier)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
