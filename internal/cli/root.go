package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harun/memcore/internal/config"
	"github.com/harun/memcore/internal/daemon"
	"github.com/harun/memcore/internal/logger"
	"github.com/harun/memcore/internal/observability"
	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/memory"
)

const version = "0.1.0"

var (
	cfgFile   string
	logLevel  string
	principal string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "memcore",
	Short: "memcore - memory core for AI agents",
	Long: `memcore stores agent memories as memetic units across document, vector
and graph backends, keeps them deduplicated and consistent, and ages them
out through scheduled governance.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.memcore/memcore.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&principal, "as", "", "principal to check unit access control against (default trusted)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads and validates the config, applying --log-level when set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openService opens the memory service for a one-shot command. Logs go to
// the log file only so stdout stays machine-readable.
func openService(cmd *cobra.Command) (*memory.Service, context.Context, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	logCfg := logger.FromConfig(cfg.Logging)
	logCfg.Console = false
	log, err := logger.New(logCfg)
	if err != nil {
		_ = observability.GetAuditLogger().Close()
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	ctx := tracing.NewRequestContext(cmd.Context())
	if principal != "" {
		ctx = tracing.WithPrincipal(ctx, principal)
	}

	svc, err := daemon.OpenService(ctx, cfg, log.GetZerolog())
	if err != nil {
		_ = log.Close()
		_ = observability.GetAuditLogger().Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close memory service")
		}
		_ = log.Close()
		_ = observability.GetAuditLogger().Close()
	}
	return svc, ctx, cleanup, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
