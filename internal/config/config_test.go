package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeYAMLFixture marshals an arbitrary config fragment to YAML and
// drops it in dir/config.yaml, the file name/extension LoadWithPath
// searches for via viper.SetConfigName("config")/SetConfigType("yaml").
func writeYAMLFixture(t *testing.T, dir string, fragment map[string]any) {
	t.Helper()
	raw, err := yaml.Marshal(fragment)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), raw, 0o644))
}

func TestLoadWithPathAppliesDefaultsWhenNoFilePresent(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Greater(t, cfg.Server.Port, 0)
}

func TestLoadWithPathOverridesFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	writeYAMLFixture(t, dir, map[string]any{
		"server": map[string]any{"port": 9999},
		"database": map[string]any{
			"driver": "sqlite",
			"path":   "/tmp/headspace-test.db",
		},
		"logging": map[string]any{"level": "debug", "format": "json"},
	})

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "/tmp/headspace-test.db", cfg.Database.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithPathRejectsInvalidDriver(t *testing.T) {
	dir := t.TempDir()
	writeYAMLFixture(t, dir, map[string]any{
		"database": map[string]any{"driver": "mongo"},
	})

	_, err := LoadWithPath(dir)
	require.Error(t, err)
}

func TestLoadWithPathRequiresPostgresFieldsWhenSelected(t *testing.T) {
	dir := t.TempDir()
	writeYAMLFixture(t, dir, map[string]any{
		"database": map[string]any{"driver": "postgres", "port": 5432, "user": "", "dbName": ""},
	})

	_, err := LoadWithPath(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database.user is required")
}
