package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagProvider   = "provider"
	flagSecret     = "secret"
	flagAlgorithm  = "algorithm"
	flagFile       = "file"
	flagTimestamp  = "timestamp"
	flagURL        = "url"
	flagEventID    = "event-id"
	flagTimeout    = "timeout"
	flagSigningKey = "jwt-signing-key"
	flagIssuer     = "jwt-issuer"
	flagSubject    = "subject"
	flagRole       = "role"
	flagTTL        = "ttl"
	envPrefix      = "WEBHOOKCTL"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "webhookctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "webhookctl",
		Short:         "Sign and replay payment webhooks against bookingd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newSignCommand(), newSendCommand(), newTokenCommand())
	return cmd
}

// newViper binds the command's flags with WEBHOOKCTL_* environment fallbacks.
func newViper(cmd *cobra.Command, flagNames ...string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func addSigningFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagProvider, "razorpay", "webhook provider profile (razorpay or omise)")
	cmd.Flags().String(flagSecret, "", "provider webhook secret (required)")
	cmd.Flags().String(flagAlgorithm, "", "HMAC algorithm override: sha1, sha256 or sha512")
	cmd.Flags().String(flagFile, "-", "JSON body to sign; - reads stdin")
	cmd.Flags().String(flagTimestamp, "", "unix timestamp for providers that sign it; defaults to now")
}
