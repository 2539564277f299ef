package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"nvr-edge/config"
	server2 "nvr-edge/server"
)

func server(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "run the recording orchestrator and control API",
		Run: func(cmd *cobra.Command, args []string) {
			if err := server2.Run(cfg); err != nil {
				log.Fatal().Err(err).Send()
			}
		},
	}
}
