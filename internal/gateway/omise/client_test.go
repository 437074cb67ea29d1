package omise

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const omiseAPIEndpoint = "https://api.omise.co"

func newTestClient(test *testing.T, handler http.Handler) *Client {
	test.Helper()
	server := httptest.NewServer(handler)
	test.Cleanup(server.Close)
	client, err := NewClient("pkey_test_1", "skey_test_1")
	if err != nil {
		test.Fatalf("client: %v", err)
	}
	client.sdk.Endpoints[omiseAPIEndpoint] = server.URL
	return client
}

func TestClientRetrieveCharge(test *testing.T) {
	test.Parallel()
	paths := make(chan string, 1)
	client := newTestClient(test, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		paths <- request.URL.Path
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"object":"charge","id":"chrg_test_1","status":"successful","amount":125000,"currency":"thb"}`))
	}))

	charge, err := client.RetrieveCharge(context.Background(), "chrg_test_1")
	if err != nil {
		test.Fatalf("retrieve charge: %v", err)
	}
	if path := <-paths; path != "/charges/chrg_test_1" {
		test.Fatalf("unexpected path %q", path)
	}
	if charge.ID != "chrg_test_1" || charge.Amount != 125000 {
		test.Fatalf("unexpected charge %+v", charge)
	}
}

func TestClientCancellationReachesRequest(test *testing.T) {
	test.Parallel()
	aborted := make(chan struct{})
	client := newTestClient(test, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-request.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.RetrieveCharge(ctx, "chrg_test_slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		test.Fatalf("expected deadline exceeded, got %v", err)
	}
	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		test.Fatalf("request kept running after the context ended")
	}
}

func TestClientCallsDoNotShareContext(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"object":"charge","id":"chrg_test_2"}`))
	}))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.RetrieveCharge(cancelled, "chrg_test_2"); !errors.Is(err, context.Canceled) {
		test.Fatalf("expected canceled, got %v", err)
	}
	if _, err := client.RetrieveCharge(context.Background(), "chrg_test_2"); err != nil {
		test.Fatalf("later call inherited a cancelled context: %v", err)
	}
}
