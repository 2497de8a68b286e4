package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frameingest",
		Short: "Ingests rendered frames over HTTP and persists them as image artifacts.",
		Long: `frameingest receives frames from a rendering producer, acknowledges each payload
immediately, and persists the frames in the background through a bounded queue and
a fixed pool of workers. Under sustained overload the oldest queued frames are dropped.`,
		SilenceUsage: true,
	}

	var cfgFile string
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newSendCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
