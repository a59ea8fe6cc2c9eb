package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/lifehub/internal/auth"
)

var tokenTTL time.Duration

// tokenCmd issues a bearer token for local testing; there is no login flow.
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Print a signed JWT for a user id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.JWTTTL
		}
		token, err := auth.SignJWT(args[0], cfg.JWTSecret, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: JWT_TTL)")
}
