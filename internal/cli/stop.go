package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/memcore/internal/daemon"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the memcore daemon",
	Long: `Stop the memcore daemon gracefully.
Sends SIGTERM and waits for the daemon to drain and exit. If it is still
alive after --timeout it is killed with SIGKILL.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "how long to wait for a graceful shutdown")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pidFile := daemon.PIDFilePath(cfg.DataDir)
	out := cmd.OutOrStdout()

	info, ok := daemon.Running(pidFile)
	if !ok {
		// A leftover file from a crashed daemon is cleaned up here.
		_ = os.Remove(pidFile)
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	fmt.Fprintf(out, "Sent SIGTERM to PID %d\n", info.PID)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(stopTimeout)
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-deadline:
			fmt.Fprintln(out, "Timeout reached, sending SIGKILL")
			if err := proc.Signal(syscall.SIGKILL); err != nil {
				return fmt.Errorf("failed to send SIGKILL: %w", err)
			}
			_ = os.Remove(pidFile)
			fmt.Fprintln(out, "Daemon killed")
			return nil
		case <-ticker.C:
			if !daemon.ProcessAlive(info.PID) {
				_ = os.Remove(pidFile)
				fmt.Fprintln(out, "Daemon stopped")
				return nil
			}
		}
	}
}
