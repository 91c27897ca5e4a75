package main

import (
	"fmt"
	"time"

	"MinerWs/global/config"
	"MinerWs/tools/errs"
	"MinerWs/tools/security"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		login string
		outer string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an account token a miner can connect with",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if login == "" {
				return errs.ErrArgs.WrapMsg("--login is required")
			}
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Security.TokenTTL
			}
			opts, err := security.NewOptions([]byte(cfg.Security.JWTSecret), cfg.Security.JWTAlg, ttl)
			if err != nil {
				return err
			}
			token, exp, err := security.Generate(opts, login, outer)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "account login name")
	cmd.Flags().StringVar(&outer, "outer-user-id", "", "outer user id, defaults to the login name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to security.tokenTTL")
	return cmd
}
