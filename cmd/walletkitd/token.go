package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/layer-3/walletkit/adapters/tokenizer"
)

func newTokenCmd(load loader) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an approver API access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.TokenKeyFile == "" {
				return errors.New("token_key_file must be set so the server can verify the token")
			}
			key, err := tokenizer.LoadOrCreateKey(cfg.TokenKeyFile)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.TokenTTL
			}
			token, err := tokenizer.NewJWTTokenizer(key).IssueAccessToken(args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to token_ttl")
	return cmd
}
