package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yonotravel/bookingd/internal/config"
)

const (
	flagListenAddr        = "listen-addr"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagDatabaseURL       = "database-url"
	flagAllowedOrigins    = "allowed-origins"
	flagStoreTimeout      = "store-timeout"
	flagLockTimeout       = "lock-timeout"
	flagGatewayTimeout    = "gateway-timeout"
	flagTelemetryTimeout  = "telemetry-timeout"
	flagHealthInterval    = "health-interval"
	flagLedgerBackend     = "ledger-backend"
	flagLedgerLease       = "ledger-lease"
	flagLedgerRetention   = "ledger-retention"
	flagRedisAddr         = "redis-addr"
	flagRedisPassword     = "redis-password"
	flagRedisDB           = "redis-db"
	flagJWTSigningKey     = "jwt-signing-key"
	flagJWTIssuer         = "jwt-issuer"
	flagJWTCookieName     = "jwt-cookie-name"
	flagWebhookProvider   = "webhook-default-provider"
	flagRazorpaySecret    = "razorpay-webhook-secret"
	flagRazorpayAlgorithm = "razorpay-signature-algorithm"
	flagOmiseSecret       = "omise-webhook-secret"
	flagOmiseAlgorithm    = "omise-signature-algorithm"
	flagOmisePublicKey    = "omise-public-key"
	flagOmiseSecretKey    = "omise-secret-key"
	flagOmiseSourceType   = "omise-source-type"
	flagAMQPURL           = "amqp-url"
	flagAMQPExchange      = "amqp-exchange"
	envPrefix             = "BOOKINGD"
)

var boundFlags = []string{
	flagListenAddr, flagGRPCListenAddr, flagDatabaseURL, flagAllowedOrigins,
	flagStoreTimeout, flagLockTimeout, flagGatewayTimeout, flagTelemetryTimeout, flagHealthInterval,
	flagLedgerBackend, flagLedgerLease, flagLedgerRetention, flagRedisAddr, flagRedisPassword, flagRedisDB,
	flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName,
	flagWebhookProvider, flagRazorpaySecret, flagRazorpayAlgorithm, flagOmiseSecret, flagOmiseAlgorithm,
	flagOmisePublicKey, flagOmiseSecretKey, flagOmiseSourceType,
	flagAMQPURL, flagAMQPExchange,
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:           "bookingd",
		Short:         "Booking lifecycle and payment webhook reconciliation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagListenAddr, "", "HTTP listen address (default :8080)")
	flags.String(flagGRPCListenAddr, "", "gRPC health listen address; empty disables it")
	flags.String(flagDatabaseURL, "", "PostgreSQL URL or sqlite path (default sqlite:///tmp/bookingd.db)")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.Duration(flagStoreTimeout, 0, "timeout for store calls (default 5s)")
	flags.Duration(flagLockTimeout, 0, "timeout for webhook lock acquisition (default 2s)")
	flags.Duration(flagGatewayTimeout, 0, "timeout for payment gateway calls (default 10s)")
	flags.Duration(flagTelemetryTimeout, 0, "timeout for telemetry writes (default 2s)")
	flags.Duration(flagHealthInterval, 0, "interval between gRPC health store pings (default 15s)")
	flags.String(flagLedgerBackend, "", "webhook idempotency ledger: database, memory or redis")
	flags.Duration(flagLedgerLease, 0, "how long an in-flight webhook holds its lock (default 1m)")
	flags.Duration(flagLedgerRetention, 0, "how long memory and redis ledgers remember events (default 72h)")
	flags.String(flagRedisAddr, "", "redis address for the redis ledger")
	flags.String(flagRedisPassword, "", "redis password")
	flags.Int(flagRedisDB, 0, "redis database number")
	flags.String(flagJWTSigningKey, "", "HS256 session signing key (required)")
	flags.String(flagJWTIssuer, "", "expected session issuer (default bookingd)")
	flags.String(flagJWTCookieName, "", "session cookie name (default session)")
	flags.String(flagWebhookProvider, "", "provider assumed when a webhook names none (default razorpay)")
	flags.String(flagRazorpaySecret, "", "razorpay webhook signing secret")
	flags.String(flagRazorpayAlgorithm, "", "razorpay HMAC algorithm: sha1, sha256 or sha512")
	flags.String(flagOmiseSecret, "", "omise webhook signing secret, base64 encoded as issued")
	flags.String(flagOmiseAlgorithm, "", "omise HMAC algorithm: sha1, sha256 or sha512")
	flags.String(flagOmisePublicKey, "", "omise public key; enables the omise checkout provider")
	flags.String(flagOmiseSecretKey, "", "omise secret key")
	flags.String(flagOmiseSourceType, "", "omise source type for new intents (default promptpay)")
	flags.String(flagAMQPURL, "", "RabbitMQ URL for status notifications; empty disables them")
	flags.String(flagAMQPExchange, "", "RabbitMQ topic exchange (default bookings)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range boundFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.StoreTimeout = v.GetDuration(flagStoreTimeout)
	cfg.LockTimeout = v.GetDuration(flagLockTimeout)
	cfg.GatewayTimeout = v.GetDuration(flagGatewayTimeout)
	cfg.TelemetryTimeout = v.GetDuration(flagTelemetryTimeout)
	cfg.HealthInterval = v.GetDuration(flagHealthInterval)
	cfg.LedgerBackend = strings.TrimSpace(v.GetString(flagLedgerBackend))
	cfg.LedgerLease = v.GetDuration(flagLedgerLease)
	cfg.LedgerRetention = v.GetDuration(flagLedgerRetention)
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.JWTCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.DefaultWebhookProvider = strings.TrimSpace(v.GetString(flagWebhookProvider))
	cfg.RazorpayWebhookSecret = v.GetString(flagRazorpaySecret)
	cfg.RazorpayAlgorithm = strings.TrimSpace(v.GetString(flagRazorpayAlgorithm))
	cfg.OmiseWebhookSecret = v.GetString(flagOmiseSecret)
	cfg.OmiseAlgorithm = strings.TrimSpace(v.GetString(flagOmiseAlgorithm))
	cfg.OmisePublicKey = strings.TrimSpace(v.GetString(flagOmisePublicKey))
	cfg.OmiseSecretKey = strings.TrimSpace(v.GetString(flagOmiseSecretKey))
	cfg.OmiseSourceType = strings.TrimSpace(v.GetString(flagOmiseSourceType))
	cfg.AMQPURL = strings.TrimSpace(v.GetString(flagAMQPURL))
	cfg.AMQPExchange = strings.TrimSpace(v.GetString(flagAMQPExchange))

	return cfg.Validate()
}
