// Package httpapi exposes the booking service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yonotravel/bookingd/pkg/booking"
	"go.uber.org/zap"
)

const (
	healthPath             = "/healthz"
	metricsPath            = "/metrics"
	webhookPath            = "/webhooks/payments"
	defaultShutdownTimeout = 5 * time.Second
	defaultRequestTimeout  = 5 * time.Second
)

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the router.
type Dependencies struct {
	Service        *booking.Service
	Checkout       *booking.Checkout
	Webhook        gin.HandlerFunc
	Authenticator  *Authenticator
	Health         Pinger
	Gatherer       prometheus.Gatherer
	Notifiers      []booking.Notifier
	Logger         *zap.Logger
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func (deps *Dependencies) validate() error {
	if deps.Service == nil {
		return errors.New("httpapi: service is nil")
	}
	if deps.Checkout == nil {
		return errors.New("httpapi: checkout is nil")
	}
	if deps.Webhook == nil {
		return errors.New("httpapi: webhook handler is nil")
	}
	if deps.Authenticator == nil {
		return errors.New("httpapi: authenticator is nil")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// NewRouter builds the gin engine serving the booking API.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	handler := &httpHandler{
		service:        deps.Service,
		checkout:       deps.Checkout,
		notifiers:      deps.Notifiers,
		logger:         deps.Logger,
		requestTimeout: deps.RequestTimeout,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET(healthPath, healthHandler(deps.Health))
	router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	router.POST(webhookPath, deps.Webhook)

	api := router.Group("/api")
	api.Use(deps.Authenticator.Middleware())
	api.POST("/bookings", handler.handleCreateBooking)
	api.GET("/bookings/:id", handler.handleGetBooking)
	api.POST("/bookings/:id/payment-intents", handler.handleCreateIntent)
	api.POST("/payments/:id/confirm", handler.handleConfirmPayment)
	api.POST("/bookings/:id/status", RequireRole(RoleAgent, RoleAdmin), handler.handleTransition)

	return router, nil
}

func healthHandler(pinger Pinger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if pinger != nil {
			pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(pingCtx); err != nil {
				ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Run serves router on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, router http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
