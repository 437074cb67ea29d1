package webhook

import (
	"errors"
	"strings"
	"testing"
)

func mustRegistry(test *testing.T, providers ...Provider) *Registry {
	test.Helper()
	registry, err := NewRegistry(ProviderRazorpay, providers...)
	if err != nil {
		test.Fatalf("registry: %v", err)
	}
	return registry
}

func mustProvider(test *testing.T, registry *Registry, name string) Provider {
	test.Helper()
	provider, err := registry.Resolve(name)
	if err != nil {
		test.Fatalf("resolve %q: %v", name, err)
	}
	return provider
}

func TestVerifyAcceptsSignedBodies(test *testing.T) {
	test.Parallel()
	body := []byte(`{"event":"payment.captured"}`)
	testCases := []struct {
		name      string
		provider  Provider
		transform func(string) string
	}{
		{
			name:      "hex sha256",
			provider:  Provider{Name: "razorpay", Secret: "whsec", SignatureHeader: "X-Sig", Algorithm: AlgorithmSHA256, Encoding: EncodingHex},
			transform: func(signature string) string { return signature },
		},
		{
			name:      "upper-case hex",
			provider:  Provider{Name: "razorpay", Secret: "whsec", SignatureHeader: "X-Sig", Algorithm: AlgorithmSHA256, Encoding: EncodingHex},
			transform: strings.ToUpper,
		},
		{
			name:      "prefixed hex",
			provider:  Provider{Name: "razorpay", Secret: "whsec", SignatureHeader: "X-Sig", Algorithm: AlgorithmSHA256, Encoding: EncodingHex},
			transform: func(signature string) string { return "sha256=" + signature },
		},
		{
			name:      "base64 sha256",
			provider:  Provider{Name: "generic", Secret: "skey", SignatureHeader: "X-Sig", Algorithm: AlgorithmSHA256, Encoding: EncodingBase64},
			transform: func(signature string) string { return signature },
		},
		{
			name:      "hex sha512",
			provider:  Provider{Name: "custom", Secret: "s3", SignatureHeader: "X-Sig", Algorithm: AlgorithmSHA512, Encoding: EncodingHex},
			transform: func(signature string) string { return signature },
		},
		{
			name:      "hex sha1",
			provider:  Provider{Name: "legacy", Secret: "s1", SignatureHeader: "X-Sig", Algorithm: AlgorithmSHA1, Encoding: EncodingHex},
			transform: func(signature string) string { return signature },
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			signature := testCase.transform(Sign(testCase.provider, body))
			if err := Verify(testCase.provider, body, signature); err != nil {
				test.Fatalf("verify: %v", err)
			}
		})
	}
}

func TestVerifyRejectsTampering(test *testing.T) {
	test.Parallel()
	provider := Provider{Name: "razorpay", Secret: "whsec", SignatureHeader: "X-Sig", Algorithm: AlgorithmSHA256, Encoding: EncodingHex}
	body := []byte(`{"amount":15000}`)
	signature := Sign(provider, body)

	testCases := []struct {
		name      string
		provider  Provider
		body      []byte
		signature string
	}{
		{name: "modified body", provider: provider, body: []byte(`{"amount":15001}`), signature: signature},
		{name: "missing signature", provider: provider, body: body, signature: ""},
		{name: "wrong secret", provider: Provider{Name: "razorpay", Secret: "other", Algorithm: AlgorithmSHA256, Encoding: EncodingHex}, body: body, signature: signature},
		{name: "no secret", provider: Provider{Name: "razorpay", Algorithm: AlgorithmSHA256, Encoding: EncodingHex}, body: body, signature: signature},
		{name: "truncated", provider: provider, body: body, signature: signature[:10]},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := Verify(testCase.provider, testCase.body, testCase.signature); !errors.Is(err, ErrInvalidSignature) {
				test.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestRegistryResolve(test *testing.T) {
	test.Parallel()
	providers := DefaultProviders()
	providers[0].Secret = "rzp-secret"
	registry := mustRegistry(test, providers...)

	defaulted := mustProvider(test, registry, "")
	if defaulted.Name != ProviderRazorpay || defaulted.SignatureHeader != "X-Razorpay-Signature" {
		test.Fatalf("unexpected default provider %+v", defaulted)
	}
	if mixedCase := mustProvider(test, registry, " RazorPay "); mixedCase.Name != ProviderRazorpay {
		test.Fatalf("expected case-insensitive lookup, got %+v", mixedCase)
	}
	if _, err := registry.Resolve("stripe"); !errors.Is(err, ErrUnknownProvider) {
		test.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if _, err := registry.Resolve(ProviderOmise); !errors.Is(err, ErrProviderNotConfigured) {
		test.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
	if label := registry.Label("stripe"); label != "unknown" {
		test.Fatalf("expected unknown label, got %q", label)
	}
	if names := registry.Names(); len(names) != 2 || names[0] != ProviderOmise {
		test.Fatalf("unexpected names %v", names)
	}
}

func TestRegistryRejectsInvalidProfiles(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		provider Provider
	}{
		{name: "missing name", provider: Provider{SignatureHeader: "X-Sig"}},
		{name: "missing header", provider: Provider{Name: "p"}},
		{name: "unknown algorithm", provider: Provider{Name: "p", SignatureHeader: "X-Sig", Algorithm: "md5"}},
		{name: "unknown encoding", provider: Provider{Name: "p", SignatureHeader: "X-Sig", Encoding: "base32"}},
		{name: "unknown secret encoding", provider: Provider{Name: "p", SignatureHeader: "X-Sig", SecretEncoding: "hex"}},
		{name: "undecodable secret", provider: Provider{Name: "p", SignatureHeader: "X-Sig", SecretEncoding: SecretBase64, Secret: "not base64!"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := NewRegistry("", testCase.provider); !errors.Is(err, ErrInvalidProviderProfile) {
				test.Fatalf("expected ErrInvalidProviderProfile, got %v", err)
			}
		})
	}
}

const (
	omiseTestSecret    = "c2VjcmV0X2tleQ=="
	omiseTestTimestamp = "1700000000"
	omiseTestBody      = `{"key":"charge.complete","data":{"id":"chrg_test_1"}}`
	omiseTestSignature = "3196fb9f918b38f9f369e0dceec88f29c3834aaf4c0e10f5ba44aff52158fcec"
)

func omiseProvider(test *testing.T) Provider {
	test.Helper()
	providers := DefaultProviders()
	for index := range providers {
		if providers[index].Name == ProviderOmise {
			providers[index].Secret = omiseTestSecret
		}
	}
	return mustProvider(test, mustRegistry(test, providers...), ProviderOmise)
}

func TestOmiseSignsTimestampedBody(test *testing.T) {
	test.Parallel()
	provider := omiseProvider(test)
	if provider.TimestampHeader != "Omise-Signature-Timestamp" || provider.Encoding != EncodingHex {
		test.Fatalf("unexpected omise profile %+v", provider)
	}
	if signature := SignAt(provider, omiseTestTimestamp, []byte(omiseTestBody)); signature != omiseTestSignature {
		test.Fatalf("unexpected signature %s", signature)
	}
	if err := VerifyAt(provider, omiseTestTimestamp, []byte(omiseTestBody), omiseTestSignature); err != nil {
		test.Fatalf("verify: %v", err)
	}
}

func TestOmiseVerifyCases(test *testing.T) {
	test.Parallel()
	provider := omiseProvider(test)
	testCases := []struct {
		name      string
		timestamp string
		body      string
		signature string
		valid     bool
	}{
		{name: "rotated secrets", timestamp: omiseTestTimestamp, body: omiseTestBody, signature: "deadbeef," + omiseTestSignature, valid: true},
		{name: "uppercase hex", timestamp: omiseTestTimestamp, body: omiseTestBody, signature: strings.ToUpper(omiseTestSignature), valid: true},
		{name: "missing timestamp", body: omiseTestBody, signature: omiseTestSignature},
		{name: "other timestamp", timestamp: "1700000001", body: omiseTestBody, signature: omiseTestSignature},
		{name: "tampered body", timestamp: omiseTestTimestamp, body: omiseTestBody + " ", signature: omiseTestSignature},
		{name: "body only signature", timestamp: omiseTestTimestamp, body: omiseTestBody, signature: Sign(Provider{Secret: "secret_key", Algorithm: AlgorithmSHA256, Encoding: EncodingHex}, []byte(omiseTestBody))},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			err := VerifyAt(provider, testCase.timestamp, []byte(testCase.body), testCase.signature)
			if testCase.valid && err != nil {
				test.Fatalf("expected valid signature, got %v", err)
			}
			if !testCase.valid && !errors.Is(err, ErrInvalidSignature) {
				test.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}
