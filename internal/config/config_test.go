package config

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestValidateFillsDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{JWTSigningKey: "secret"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.LedgerBackend != LedgerDatabase || cfg.DefaultWebhookProvider != "razorpay" {
		test.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.StoreTimeout != 5*time.Second || cfg.LockTimeout != 2*time.Second || cfg.GatewayTimeout != 10*time.Second {
		test.Fatalf("unexpected timeouts %+v", cfg)
	}
	if cfg.OmiseEnabled() || cfg.NotificationsEnabled() {
		test.Fatalf("optional integrations must default to off")
	}
}

func TestValidateRejectsInvalidSettings(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "missing jwt key", cfg: Config{}},
		{name: "unknown ledger", cfg: Config{JWTSigningKey: "k", LedgerBackend: "etcd"}},
		{name: "redis without addr", cfg: Config{JWTSigningKey: "k", LedgerBackend: "Redis"}},
		{name: "half omise keys", cfg: Config{JWTSigningKey: "k", OmisePublicKey: "pkey_test"}},
		{name: "negative timeout", cfg: Config{JWTSigningKey: "k", LockTimeout: -time.Second}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := testCase.cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				test.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	got := ParseAllowedOrigins(" https://a.example , ,https://b.example")
	if !reflect.DeepEqual(got, []string{"https://a.example", "https://b.example"}) {
		test.Fatalf("unexpected origins %v", got)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		test.Fatalf("expected no origins")
	}
}
