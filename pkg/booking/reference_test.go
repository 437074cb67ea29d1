package booking

import (
	"errors"
	"regexp"
	"testing"
	"time"
)

var referencePattern = regexp.MustCompile(`^YONO-[0-9]{8}-[0-9A-F]{4}$`)

func TestNewReferenceFormat(test *testing.T) {
	test.Parallel()
	now := time.UnixMilli(1735689600123)
	reference, err := NewReference(now, func(buffer []byte) error {
		buffer[0] = 0xab
		buffer[1] = 0x0c
		return nil
	})
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	if reference != "YONO-89600123-AB0C" {
		test.Fatalf("unexpected reference %q", reference)
	}
}

func TestNewReferencePadsShortTimestamps(test *testing.T) {
	test.Parallel()
	reference, err := NewReference(time.UnixMilli(42), func(buffer []byte) error { return nil })
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	if reference != "YONO-00000042-0000" {
		test.Fatalf("unexpected reference %q", reference)
	}
}

func TestNewReferenceUsesCryptoRandomByDefault(test *testing.T) {
	test.Parallel()
	reference, err := NewReference(time.Now(), nil)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	if !referencePattern.MatchString(reference) {
		test.Fatalf("reference %q does not match format", reference)
	}
}

func TestNewReferenceWrapsRandomFailure(test *testing.T) {
	test.Parallel()
	failure := errors.New("entropy exhausted")
	_, err := NewReference(time.Now(), func([]byte) error { return failure })
	if !errors.Is(err, failure) {
		test.Fatalf("expected wrapped entropy error, got %v", err)
	}
	var operationError OperationError
	if !errors.As(err, &operationError) || operationError.Code() != errorCodeGenerate {
		test.Fatalf("expected generate operation error, got %v", err)
	}
}
