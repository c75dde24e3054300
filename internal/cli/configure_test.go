package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/memcore/internal/config"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		configureCmd := cmd.Commands()

		found := false
		for _, c := range configureCmd {
			if c.Name() == "configure" {
				found = true
				break
			}
		}
		assert.True(t, found, "configure command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		output, err := execute(t, "configure", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "interactive configuration wizard")
	})

	t.Run("saves wizard answers", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "memcore.json")

		cmd := GetRootCmd()
		cmd.SetIn(strings.NewReader(dir + "\nmock\n@daily\noff\ndebug\n"))
		defer cmd.SetIn(nil)

		output, err := execute(t, "--config", path, "configure")
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration saved to: "+path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, dir, cfg.DataDir)
		assert.Equal(t, config.EmbeddingMock, cfg.Embedding.Provider)
		assert.Equal(t, "@daily", cfg.Governance.Schedule)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestConfigureRefusesOverwrite(t *testing.T) {
	path := writeTestConfig(t)
	dir := filepath.Dir(path)

	cmd := GetRootCmd()
	cmd.SetIn(strings.NewReader(dir + "\nmock\n@daily\noff\nwarn\n"))
	defer cmd.SetIn(nil)

	_, err := execute(t, "--config", path, "configure")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	cmd.SetIn(strings.NewReader(dir + "\nmock\n@daily\noff\nwarn\n"))
	_, err = execute(t, "--config", path, "configure", "--force")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestConfigureOutputGoesToCommand(t *testing.T) {
	dir := t.TempDir()
	cmd := GetRootCmd()
	cmd.SetIn(strings.NewReader(dir + "\n\n\n\n\n"))
	defer cmd.SetIn(nil)

	output, err := execute(t, "--config", filepath.Join(dir, "memcore.json"), "configure")
	require.NoError(t, err)
	assert.Contains(t, output, "memcore Configuration Wizard")
}
