// Package config holds the runtime settings of the booking service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDatabaseURL     = "sqlite:///tmp/bookingd.db"
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultJWTIssuer       = "bookingd"
	defaultJWTCookie       = "session"
	defaultWebhookProvider = "razorpay"
	defaultAMQPExchange    = "bookings"
	defaultOmiseSourceType = "promptpay"

	defaultStoreTimeout     = 5 * time.Second
	defaultLockTimeout      = 2 * time.Second
	defaultGatewayTimeout   = 10 * time.Second
	defaultTelemetryTimeout = 2 * time.Second
	defaultLedgerLease      = time.Minute
	defaultLedgerRetention  = 72 * time.Hour
	defaultHealthInterval   = 15 * time.Second
)

// Idempotency ledger backends.
const (
	LedgerDatabase = "database"
	LedgerMemory   = "memory"
	LedgerRedis    = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config aggregates runtime settings for bookingd.
type Config struct {
	ListenAddr     string
	GRPCListenAddr string
	DatabaseURL    string
	AllowedOrigins []string

	StoreTimeout     time.Duration
	LockTimeout      time.Duration
	GatewayTimeout   time.Duration
	TelemetryTimeout time.Duration
	HealthInterval   time.Duration

	LedgerBackend   string
	LedgerLease     time.Duration
	LedgerRetention time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	JWTSigningKey string
	JWTIssuer     string
	JWTCookieName string

	DefaultWebhookProvider string
	RazorpayWebhookSecret  string
	RazorpayAlgorithm      string
	OmiseWebhookSecret     string
	OmiseAlgorithm         string

	OmisePublicKey  string
	OmiseSecretKey  string
	OmiseSourceType string

	AMQPURL      string
	AMQPExchange string
}

// Validate fills defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.StoreTimeout = defaultIfZero(cfg.StoreTimeout, defaultStoreTimeout)
	cfg.LockTimeout = defaultIfZero(cfg.LockTimeout, defaultLockTimeout)
	cfg.GatewayTimeout = defaultIfZero(cfg.GatewayTimeout, defaultGatewayTimeout)
	cfg.TelemetryTimeout = defaultIfZero(cfg.TelemetryTimeout, defaultTelemetryTimeout)
	cfg.HealthInterval = defaultIfZero(cfg.HealthInterval, defaultHealthInterval)
	cfg.LedgerBackend = strings.ToLower(defaultIfEmpty(cfg.LedgerBackend, LedgerDatabase))
	cfg.LedgerLease = defaultIfZero(cfg.LedgerLease, defaultLedgerLease)
	cfg.LedgerRetention = defaultIfZero(cfg.LedgerRetention, defaultLedgerRetention)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.JWTCookieName = defaultIfEmpty(cfg.JWTCookieName, defaultJWTCookie)
	cfg.DefaultWebhookProvider = strings.ToLower(defaultIfEmpty(cfg.DefaultWebhookProvider, defaultWebhookProvider))
	cfg.OmiseSourceType = defaultIfEmpty(cfg.OmiseSourceType, defaultOmiseSourceType)
	cfg.AMQPExchange = defaultIfEmpty(cfg.AMQPExchange, defaultAMQPExchange)

	for name, value := range map[string]time.Duration{
		"store timeout":     cfg.StoreTimeout,
		"lock timeout":      cfg.LockTimeout,
		"gateway timeout":   cfg.GatewayTimeout,
		"telemetry timeout": cfg.TelemetryTimeout,
		"health interval":   cfg.HealthInterval,
		"ledger lease":      cfg.LedgerLease,
		"ledger retention":  cfg.LedgerRetention,
	} {
		if value < 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	switch cfg.LedgerBackend {
	case LedgerDatabase, LedgerMemory:
	case LedgerRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return fmt.Errorf("%w: redis addr is required for the redis ledger", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalidConfig, cfg.LedgerBackend)
	}
	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("%w: jwt signing key is required", ErrInvalidConfig)
	}
	if (cfg.OmisePublicKey == "") != (cfg.OmiseSecretKey == "") {
		return fmt.Errorf("%w: omise public and secret keys must be set together", ErrInvalidConfig)
	}
	return nil
}

// OmiseEnabled reports whether the Omise gateway is configured.
func (cfg Config) OmiseEnabled() bool {
	return cfg.OmisePublicKey != "" && cfg.OmiseSecretKey != ""
}

// NotificationsEnabled reports whether status changes are published.
func (cfg Config) NotificationsEnabled() bool {
	return strings.TrimSpace(cfg.AMQPURL) != ""
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func defaultIfZero(value time.Duration, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
