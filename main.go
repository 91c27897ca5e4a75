package main

import (
	"os"

	"MinerWs/logger"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "minerws",
		Short:         "Websocket gateway for mining clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to the YAML config file")
	root.AddCommand(newServeCmd(), newTokenCmd(), newHealthCmd())
	return root
}

func main() {
	defer logger.Sync()
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("%+v", err)
		logger.Sync()
		os.Exit(1)
	}
}
