package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quiz-session-service/internal/auth"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/domain"
)

// NewTokenCmd prints a signed bearer token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return auth.ErrMissingSecret
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			ttl := config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour)
			token, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer).Issue(domain.UserID(userID), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token subject")
	return cmd
}
