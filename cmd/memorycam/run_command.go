package main

import (
	"github.com/spf13/cobra"

	"memorycam/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture and upload pipeline in the foreground",
		Long: "Run starts the producers for the configured capture mode and the upload worker.\n" +
			"SIGINT or SIGTERM stops the producers, flushes the artifact in progress,\n" +
			"and drains the queue once before exiting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}
