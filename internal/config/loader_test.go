package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labelscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	require.NotNil(t, loader)
	assert.Same(t, viper.GetViper(), loader.GetViper())
}

func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, infoLevel, cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Session.CropWorkers)
	assert.Equal(t, time.Second, cfg.Session.Pacing.MinShimmer)
}

func TestLoadWithValidYAMLFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
verbose: true
display:
  width: 400
  height: 800
recognition:
  mode: fast
  languages: [deu]
session:
  paced: true
  crop_workers: 2
  pacing:
    min_shimmer: 250ms
output:
  format: json
server:
  port: 9090
`)

	loader := newTestLoader()
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, debugLevel, cfg.LogLevel)
	assert.True(t, cfg.Verbose)
	assert.InDelta(t, 400.0, cfg.Display.Width, 1e-9)
	assert.Equal(t, "fast", cfg.Recognition.Mode)
	assert.Equal(t, []string{"deu"}, cfg.Recognition.Languages)
	assert.True(t, cfg.Session.Paced)
	assert.Equal(t, 2, cfg.Session.CropWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.Pacing.MinShimmer)
	assert.Equal(t, 200*time.Millisecond, cfg.Session.Pacing.RevealDelay)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, path, loader.GetConfigFileUsed())
}

func TestLoadWithInvalidYAMLFile(t *testing.T) {
	path := writeConfig(t, "log_level: [unclosed")

	_, err := newTestLoader().LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadWithNonExistentFile(t *testing.T) {
	_, err := newTestLoader().LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoadWithValidationFailure(t *testing.T) {
	path := writeConfig(t, "log_level: loud\n")

	_, err := newTestLoader().LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	cfg, err := newTestLoader().LoadWithFileWithoutValidation(path)
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.LogLevel)
}

func TestLoadWithEmptyFilenameUsesSearchPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labelscan.yaml"), []byte("server:\n  port: 7070\n"), 0o600))
	t.Chdir(dir)

	cfg, err := newTestLoader().LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)

	cfg, err = newTestLoader().LoadWithFileWithoutValidation("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestEnvironmentVariableOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LABELSCAN_LOG_LEVEL", "warn")
	t.Setenv("LABELSCAN_SERVER_PORT", "9999")
	t.Setenv("LABELSCAN_SESSION_COLUMN_TIMEOUT", "30s")
	t.Setenv("LABELSCAN_RECOGNITION_MODE", "fast")

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Session.ColumnTimeout)
	assert.Equal(t, "fast", cfg.Recognition.Mode)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 7000\n")
	t.Setenv("LABELSCAN_SERVER_PORT", "7001")

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
}

func TestGetSetConfigValues(t *testing.T) {
	loader := newTestLoader()
	loader.Set("output.crops_dir", "/tmp/crops")

	assert.Equal(t, "/tmp/crops", loader.Get("output.crops_dir"))
	assert.Equal(t, "/tmp/crops", loader.GetString("output.crops_dir"))
}

func TestGetResolvedConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	loader := newTestLoader()
	_, err := loader.Load()
	require.NoError(t, err)

	settings := loader.GetResolvedConfig()
	assert.Contains(t, settings, "server")
	assert.Contains(t, settings, "session")
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Equal(t, infoLevel, raw["log_level"])

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestGenerateDefaultConfigFileWithEmptyFilename(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, GenerateDefaultConfigFile(""))
	assert.FileExists(t, filepath.Join(dir, "labelscan.yaml"))
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	paths := GetConfigSearchPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, filepath.Join("/xdg", "labelscan"))
	assert.Equal(t, "/etc/labelscan", paths[len(paths)-1])
}
