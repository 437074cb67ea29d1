// Package webhook ingests signed payment provider webhooks and reconciles
// them into bookings exactly once per (provider, event id).
package webhook

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// ProviderRazorpay is the provider assumed when a request names none.
	ProviderRazorpay = "razorpay"
	// ProviderOmise signs "timestamp.body" with a base64-encoded secret.
	ProviderOmise = "omise"

	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"

	EncodingHex    = "hex"
	EncodingBase64 = "base64"

	// SecretRaw uses the configured secret bytes as the HMAC key.
	SecretRaw = "raw"
	// SecretBase64 decodes the configured secret before keying the HMAC.
	SecretBase64 = "base64"
)

var (
	ErrUnknownProvider        = errors.New("unknown webhook provider")
	ErrProviderNotConfigured  = errors.New("webhook provider not configured")
	ErrInvalidSignature       = errors.New("invalid webhook signature")
	ErrInvalidProviderProfile = errors.New("invalid webhook provider profile")
)

// Provider describes how one payment provider signs and identifies deliveries.
// When TimestampHeader is set the signed message is "timestamp.body" and the
// signature header may carry several comma separated signatures.
type Provider struct {
	Name            string
	Secret          string
	SecretEncoding  string
	SignatureHeader string
	TimestampHeader string
	EventIDHeader   string
	Algorithm       string
	Encoding        string
}

// Configured reports whether the provider has a signing secret.
func (provider Provider) Configured() bool {
	return strings.TrimSpace(provider.Secret) != ""
}

func (provider Provider) validate() error {
	if strings.TrimSpace(provider.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProviderProfile)
	}
	if strings.TrimSpace(provider.SignatureHeader) == "" {
		return fmt.Errorf("%w: %s signature header is required", ErrInvalidProviderProfile, provider.Name)
	}
	switch provider.Algorithm {
	case AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA512:
	default:
		return fmt.Errorf("%w: %s algorithm %q", ErrInvalidProviderProfile, provider.Name, provider.Algorithm)
	}
	switch provider.Encoding {
	case EncodingHex, EncodingBase64:
	default:
		return fmt.Errorf("%w: %s encoding %q", ErrInvalidProviderProfile, provider.Name, provider.Encoding)
	}
	switch provider.SecretEncoding {
	case SecretRaw:
	case SecretBase64:
		if _, err := signingKey(provider); err != nil {
			return fmt.Errorf("%w: %s secret is not base64", ErrInvalidProviderProfile, provider.Name)
		}
	default:
		return fmt.Errorf("%w: %s secret encoding %q", ErrInvalidProviderProfile, provider.Name, provider.SecretEncoding)
	}
	return nil
}

// DefaultProviders returns the built-in profiles without secrets.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:            ProviderRazorpay,
			SignatureHeader: "X-Razorpay-Signature",
			EventIDHeader:   "X-Razorpay-Event-Id",
			Algorithm:       AlgorithmSHA256,
			Encoding:        EncodingHex,
		},
		{
			Name:            ProviderOmise,
			SecretEncoding:  SecretBase64,
			SignatureHeader: "Omise-Signature",
			TimestampHeader: "Omise-Signature-Timestamp",
			Algorithm:       AlgorithmSHA256,
			Encoding:        EncodingHex,
		},
	}
}

// Registry resolves provider names to profiles.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewRegistry builds a Registry. Later profiles replace earlier ones with the
// same name; missing algorithm and encoding default to sha256 and hex, and a
// missing secret encoding to raw.
func NewRegistry(defaultProvider string, providers ...Provider) (*Registry, error) {
	registry := &Registry{
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: normalizeProviderName(defaultProvider),
	}
	if registry.defaultProvider == "" {
		registry.defaultProvider = ProviderRazorpay
	}
	for _, provider := range providers {
		provider.Name = normalizeProviderName(provider.Name)
		provider.Algorithm = strings.ToLower(strings.TrimSpace(provider.Algorithm))
		if provider.Algorithm == "" {
			provider.Algorithm = AlgorithmSHA256
		}
		provider.Encoding = strings.ToLower(strings.TrimSpace(provider.Encoding))
		if provider.Encoding == "" {
			provider.Encoding = EncodingHex
		}
		provider.SecretEncoding = strings.ToLower(strings.TrimSpace(provider.SecretEncoding))
		if provider.SecretEncoding == "" {
			provider.SecretEncoding = SecretRaw
		}
		if err := provider.validate(); err != nil {
			return nil, err
		}
		registry.providers[provider.Name] = provider
	}
	return registry, nil
}

// Resolve returns the profile for name, or for the default provider when name
// is blank. A provider without a secret resolves with ErrProviderNotConfigured.
func (registry *Registry) Resolve(name string) (Provider, error) {
	normalized := normalizeProviderName(name)
	if normalized == "" {
		normalized = registry.defaultProvider
	}
	provider, ok := registry.providers[normalized]
	if !ok {
		return Provider{Name: normalized}, fmt.Errorf("%w: %q", ErrUnknownProvider, normalized)
	}
	if !provider.Configured() {
		return provider, fmt.Errorf("%w: %s", ErrProviderNotConfigured, normalized)
	}
	return provider, nil
}

// Label returns the metrics label for name: the provider name when
// registered, "unknown" otherwise.
func (registry *Registry) Label(name string) string {
	normalized := normalizeProviderName(name)
	if normalized == "" {
		normalized = registry.defaultProvider
	}
	if _, ok := registry.providers[normalized]; !ok {
		return "unknown"
	}
	return normalized
}

// Names lists the registered providers in order.
func (registry *Registry) Names() []string {
	names := make([]string, 0, len(registry.providers))
	for name := range registry.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
