package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"persona-eval/internal/service"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the results API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		scope, _ := cmd.Flags().GetString("scope")
		if ttl <= 0 {
			ttl = time.Duration(cfg.JWTAccessTTLHours) * time.Hour
		}

		jwtSvc := service.NewJWTService(cfg.JWTSecret, ttl)
		if !jwtSvc.Enabled() {
			return eris.New("JWT_SECRET is not configured")
		}
		token, exp, err := jwtSvc.IssueWithScope(subject, scope)
		if err != nil {
			return eris.Wrap(err, "issue token")
		}
		fmt.Fprintln(os.Stdout, token)
		fmt.Fprintf(os.Stderr, "expires at %s\n", exp.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("subject", "analyst", "token subject")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default JWT_ACCESS_TTL_HOURS)")
	tokenCmd.Flags().String("scope", service.ScopeResultsRead, "space separated scopes granted to the token")
}
