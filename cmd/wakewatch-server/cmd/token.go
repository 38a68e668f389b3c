package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkravtsov/wakewatch/internal/auth"
	"github.com/mkravtsov/wakewatch/internal/config"
)

var (
	// tokenTTL is how long the minted token stays valid.
	tokenTTL time.Duration

	// tokenCmd mints a bearer token signed with the configured secret.
	tokenCmd = &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token for a browser or agent.",
		Long: `Mints a signed bearer token that clients present during the websocket
handshake. The token is signed with the auth secret from the configuration
file and carries the subject name and an expiry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}

			if settings.AuthSecret == "" {
				return config.ErrAuthSecretRequired
			}

			token, err := auth.Issue(settings.AuthSecret, args[0], tokenTTL, time.Now())
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			cmd.Println(token)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	tokenCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	tokenCmd.Flags().DurationVarP(&tokenTTL, "ttl", "t", auth.DefaultTTL, "token validity duration")
	rootCmd.AddCommand(tokenCmd)
}
