package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/frame-ingest/internal/client"
	"github.com/JakeFAU/frame-ingest/internal/logging"
)

type sendOptions struct {
	url       string
	apiKey    string
	batchSize int
	timeout   time.Duration
	verbose   bool
}

// newSendCmd creates the 'send' subcommand, which posts files as frames to a running server.
func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send [flags] FILE...",
		Short: "Send files as frames to an ingest server",
		Long: `Reads each file as one frame and posts them in length-prefixed batches.
Useful for smoke-testing a deployment without a rendering producer.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSendCommand(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8443/v1/frames", "ingest endpoint")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "value for the X-API-Key header")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", client.DefaultBatchSize, "frames per request")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "log each batch")
	return cmd
}

func runSendCommand(cmd *cobra.Command, opts *sendOptions, files []string) error {
	level := "info"
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.New(true, level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	c, err := client.New(client.Config{
		URL:       opts.url,
		APIKey:    opts.apiKey,
		BatchSize: opts.batchSize,
		Timeout:   opts.timeout,
	}, nil, logger.Named("client"))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	for _, path := range files {
		data, err := os.ReadFile(path) // #nosec G304 -- paths are operator-supplied CLI arguments
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := c.Add(ctx, data); err != nil {
			return fmt.Errorf("send batch: %w", err)
		}
	}
	if err := c.Flush(ctx); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	logger.Info("frames sent", zap.Int("frames", c.Sent()), zap.String("url", opts.url))
	return nil
}
