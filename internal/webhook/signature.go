package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"
)

// Sign computes the signature provider expects for body. Providers with a
// TimestampHeader need SignAt.
func Sign(provider Provider, body []byte) string {
	return SignAt(provider, "", body)
}

// SignAt computes the signature over body sent at timestamp. The timestamp is
// only part of the message when provider has a TimestampHeader.
func SignAt(provider Provider, timestamp string, body []byte) string {
	key, err := signingKey(provider)
	if err != nil {
		return ""
	}
	mac := hmac.New(hashFor(provider.Algorithm), key)
	if provider.TimestampHeader != "" {
		mac.Write([]byte(timestamp + "."))
	}
	mac.Write(body)
	digest := mac.Sum(nil)
	if provider.Encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(digest)
	}
	return hex.EncodeToString(digest)
}

// Verify checks signature against body in constant time. Hex signatures are
// compared case-insensitively; an optional "sha256=" style prefix is accepted.
func Verify(provider Provider, body []byte, signature string) error {
	return VerifyAt(provider, "", body, signature)
}

// VerifyAt is Verify for providers that sign the delivery timestamp. Any one
// of several comma separated signatures may match.
func VerifyAt(provider Provider, timestamp string, body []byte, signature string) error {
	if !provider.Configured() {
		return ErrInvalidSignature
	}
	timestamp = strings.TrimSpace(timestamp)
	if provider.TimestampHeader != "" && timestamp == "" {
		return ErrInvalidSignature
	}
	expected := SignAt(provider, timestamp, body)
	if expected == "" {
		return ErrInvalidSignature
	}
	candidates := []string{signature}
	if provider.TimestampHeader != "" {
		candidates = strings.Split(signature, ",")
	}
	for _, candidate := range candidates {
		received := strings.TrimSpace(candidate)
		if prefix := provider.Algorithm + "="; strings.HasPrefix(strings.ToLower(received), prefix) {
			received = received[len(prefix):]
		}
		if received == "" {
			continue
		}
		if provider.Encoding == EncodingHex {
			received = strings.ToLower(received)
		}
		if hmac.Equal([]byte(expected), []byte(received)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func signingKey(provider Provider) ([]byte, error) {
	if provider.SecretEncoding == SecretBase64 {
		return base64.StdEncoding.DecodeString(strings.TrimSpace(provider.Secret))
	}
	return []byte(provider.Secret), nil
}

func hashFor(algorithm string) func() hash.Hash {
	switch algorithm {
	case AlgorithmSHA1:
		return sha1.New
	case AlgorithmSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}
