package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yonotravel/bookingd/internal/webhook"
)

const defaultSendURL = "http://localhost:8080/webhooks/payments"

var errSecretRequired = errors.New("secret is required")

func newSignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the signature headers for a webhook body",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd, flagProvider, flagSecret, flagAlgorithm, flagFile, flagTimestamp)
			if err != nil {
				return err
			}
			provider, err := signingProvider(v)
			if err != nil {
				return err
			}
			body, err := readBody(cmd.InOrStdin(), v.GetString(flagFile))
			if err != nil {
				return err
			}
			for _, header := range signatureHeaders(provider, deliveryTimestamp(v), body) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", header.name, header.value)
			}
			return nil
		},
	}
	addSigningFlags(cmd)
	return cmd
}

func newSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Sign a webhook body and deliver it to bookingd",
		Long:  "Sign a webhook body and deliver it to bookingd. Sending the same file twice replays the delivery.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd, flagProvider, flagSecret, flagAlgorithm, flagFile, flagTimestamp, flagURL, flagEventID, flagTimeout)
			if err != nil {
				return err
			}
			provider, err := signingProvider(v)
			if err != nil {
				return err
			}
			body, err := readBody(cmd.InOrStdin(), v.GetString(flagFile))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration(flagTimeout))
			defer cancel()
			headers := signatureHeaders(provider, deliveryTimestamp(v), body)
			status, response, err := deliver(ctx, http.DefaultClient, v.GetString(flagURL), provider, headers, strings.TrimSpace(v.GetString(flagEventID)), body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", status, strings.TrimSpace(string(response)))
			if status >= http.StatusBadRequest {
				return fmt.Errorf("delivery rejected with status %d", status)
			}
			return nil
		},
	}
	addSigningFlags(cmd)
	cmd.Flags().String(flagURL, defaultSendURL, "bookingd webhook endpoint")
	cmd.Flags().String(flagEventID, "", "event id header value, when the provider profile has one")
	cmd.Flags().Duration(flagTimeout, 10*time.Second, "request timeout")
	return cmd
}

func signingProvider(v *viper.Viper) (webhook.Provider, error) {
	secret := v.GetString(flagSecret)
	if secret == "" {
		return webhook.Provider{}, errSecretRequired
	}
	name := v.GetString(flagProvider)
	profiles := webhook.DefaultProviders()
	for index := range profiles {
		profiles[index].Secret = secret
		if algorithm := strings.TrimSpace(v.GetString(flagAlgorithm)); algorithm != "" {
			profiles[index].Algorithm = algorithm
		}
	}
	registry, err := webhook.NewRegistry(name, profiles...)
	if err != nil {
		return webhook.Provider{}, err
	}
	return registry.Resolve(name)
}

func readBody(stdin io.Reader, path string) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	if path == "" || path == "-" {
		body, err = io.ReadAll(stdin)
	} else {
		body, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if _, err := webhook.DecodeBody(body); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}
	return body, nil
}

type signedHeader struct {
	name  string
	value string
}

// signatureHeaders returns the signing headers provider expects, timestamp
// first when the provider signs one.
func signatureHeaders(provider webhook.Provider, timestamp string, body []byte) []signedHeader {
	if provider.TimestampHeader == "" {
		return []signedHeader{{name: provider.SignatureHeader, value: webhook.Sign(provider, body)}}
	}
	return []signedHeader{
		{name: provider.TimestampHeader, value: timestamp},
		{name: provider.SignatureHeader, value: webhook.SignAt(provider, timestamp, body)},
	}
}

func deliveryTimestamp(v *viper.Viper) string {
	if timestamp := strings.TrimSpace(v.GetString(flagTimestamp)); timestamp != "" {
		return timestamp
	}
	return strconv.FormatInt(time.Now().Unix(), 10)
}

// deliver posts the raw body with the provider's signature headers.
func deliver(ctx context.Context, client *http.Client, url string, provider webhook.Provider, headers []signedHeader, eventID string, body []byte) (int, []byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(webhook.ProviderHeader, provider.Name)
	for _, header := range headers {
		request.Header.Set(header.name, header.value)
	}
	if eventID != "" && provider.EventIDHeader != "" {
		request.Header.Set(provider.EventIDHeader, eventID)
	}
	response, err := client.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("deliver webhook: %w", err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(response.Body, webhook.MaxBodyBytes))
	if err != nil {
		return response.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return response.StatusCode, payload, nil
}
