package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/memcore/internal/config"
)

var configureForce bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up memcore.
The wizard asks for the data directory, embedding provider, governance
schedule, metrics endpoint and log level, then writes the config file.
An existing file is only replaced with --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		path := loader.GetConfigPath()
		if _, err := os.Stat(path); err == nil && !configureForce {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}

		cfg, err := config.NewWizardIO(cmd.InOrStdin(), cmd.OutOrStdout()).Run()
		if err != nil {
			return fmt.Errorf("configuration failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := loader.Save(cfg); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\nConfiguration saved to: %s\n", path)
		fmt.Fprintln(out, "Start the daemon with: memcore serve")
		return nil
	},
}

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(configureCmd)
}
