package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("stop command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		stopCmd, _, err := cmd.Find([]string{"stop"})
		require.NoError(t, err)
		assert.Equal(t, "stop", stopCmd.Name())
	})

	t.Run("stop command help", func(t *testing.T) {
		output, err := execute(t, "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "Stop the memcore daemon")
		assert.Contains(t, output, "timeout")
	})

	t.Run("not running", func(t *testing.T) {
		path := writeTestConfig(t)

		output, err := execute(t, "--config", path, "stop")
		require.NoError(t, err)
		assert.Contains(t, output, "Daemon is not running")
	})

	t.Run("stale pid file", func(t *testing.T) {
		path := writeTestConfig(t)
		pidFile := filepath.Join(filepath.Dir(path), "memcore.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("999999999"), 0644))

		output, err := execute(t, "--config", path, "stop")
		require.NoError(t, err)
		assert.Contains(t, output, "Daemon is not running")
		assert.NoFileExists(t, pidFile)
	})
}
