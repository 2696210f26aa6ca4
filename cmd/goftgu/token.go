package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/4xmen/goftgu/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development identity token",
	Long: `Mint an identity token signed with JWT_SECRET, as the identity provider
would. Intended for local development and testing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, _ := cmd.Flags().GetString("identity")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		token, err := mintToken(auth.NewWithTokenTTL(cfg.JWTSecret, cfg.JWTIssuer, ttl), identity, name, email)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("identity", "", "identity key (token subject)")
	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().String("email", "", "email address")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("identity")
	_ = tokenCmd.MarkFlagRequired("email")
}

func mintToken(svc *auth.Service, identity, name, email string) (string, error) {
	if identity == "" || email == "" {
		return "", fmt.Errorf("identity and email are required")
	}
	return svc.GenerateToken(auth.Identity{Key: identity, Name: name, Email: email})
}
