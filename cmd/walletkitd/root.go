package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/layer-3/walletkit/internal/config"
)

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "walletkitd",
		Short:        "Custodial TON Connect wallet kit daemon",
		Long:         "walletkitd holds wallets for many users, answers dApp requests over the remote bridge and exposes an approver API.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level, overrides log_level")
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	load := func() (config.Config, error) {
		return config.Load(v, configFile)
	}
	rootCmd.AddCommand(
		newServeCmd(v, load),
		newTokenCmd(load),
	)
	return rootCmd
}

type loader func() (config.Config, error)

// bindFlag ties a command flag to a config key without letting the flag's
// zero value shadow the file or environment.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
}
