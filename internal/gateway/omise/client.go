package omise

import (
	"context"

	omisesdk "github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// Client calls the Omise API through the official SDK.
type Client struct {
	sdk *omisesdk.Client
}

// NewClient builds a Client from the public and secret keys.
func NewClient(publicKey string, secretKey string) (*Client, error) {
	sdk, err := omisesdk.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	return &Client{sdk: sdk}, nil
}

// CreateSource implements API.
func (client *Client) CreateSource(ctx context.Context, request *operations.CreateSource) (*omisesdk.Source, error) {
	source := &omisesdk.Source{}
	if err := client.do(ctx, func(sdk *omisesdk.Client) error { return sdk.Do(source, request) }); err != nil {
		return nil, err
	}
	return source, nil
}

// RetrieveCharge implements API.
func (client *Client) RetrieveCharge(ctx context.Context, chargeID string) (*omisesdk.Charge, error) {
	charge := &omisesdk.Charge{}
	if err := client.do(ctx, func(sdk *omisesdk.Client) error {
		return sdk.Do(charge, &operations.RetrieveCharge{ChargeID: chargeID})
	}); err != nil {
		return nil, err
	}
	return charge, nil
}

// do runs one SDK call bound to ctx. The SDK keeps the context on the client,
// so each call works on its own shallow copy.
func (client *Client) do(ctx context.Context, call func(sdk *omisesdk.Client) error) error {
	scoped := *client.sdk
	scoped.WithContext(ctx)
	return call(&scoped)
}
