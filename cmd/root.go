package cmd

import (
	"github.com/spf13/cobra"

	"nvr-edge/config"
)

func Root(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nvr-edge",
		Short: "edge network video recorder",
	}
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:"+cfg.Server.HttpPort, "control API address")

	rootCmd.AddCommand(server(cfg))
	rootCmd.AddCommand(cameraCommands()...)
	return rootCmd
}
