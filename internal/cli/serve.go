package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/memcore/internal/daemon"
	"github.com/harun/memcore/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memcore daemon in the foreground",
	Long: `Run the memcore daemon in the foreground.
The daemon runs scheduled governance sweeps, retries queued reconciliation,
serves Prometheus metrics and, when enabled, ingests the watched directory.
It stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.FromConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("metrics", d.Status().MetricsAddr).
		Msg("memcore daemon running")

	d.Wait()
	return nil
}
