package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/frame-ingest/internal/app"
	"github.com/JakeFAU/frame-ingest/internal/config"
)

// newServeCmd creates the 'serve' subcommand, which runs the ingest server until SIGINT or SIGTERM.
func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the frame ingest server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeCommand(cmd, *cfgFile)
		},
	}
}

func runServeCommand(cmd *cobra.Command, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	application, err := app.Build(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := application.Run(cmd.Context()); err != nil {
		return fmt.Errorf("run application: %w", err)
	}
	return nil
}
