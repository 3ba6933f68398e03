package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "docs", cfg.SourceDir)
	assert.Equal(t, "markdown", cfg.Format)
	assert.Equal(t, 3, cfg.Parser.InputIndentSize)
	assert.Equal(t, "file", cfg.Cache.Backend)
}

func TestLoadConfig_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
source_dir: rst
format: HTML
cache:
  backend: sqlite
  path: cache.db
parser:
  input_indent_size: 4
  epilog: |
    .. |ver| replace:: 4.3
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0644))
	t.Setenv("RSTDOCS_THREADS", "6")
	t.Setenv("RSTDOCS_STRICT", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "rst", cfg.SourceDir)
	assert.Equal(t, "html", cfg.Format)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 4, cfg.Parser.InputIndentSize)
	assert.Contains(t, cfg.Parser.Epilog, "|ver|")
	assert.Equal(t, 6, cfg.WorkerCount())
	assert.True(t, cfg.Strict)
	// Untouched keys keep their defaults.
	assert.Equal(t, "gdscript", cfg.Generator.DefaultLiteralLanguage)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  backend: redis\n"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestWorkerCount_CI(t *testing.T) {
	t.Setenv("CI", "true")
	cfg := Default()
	assert.Equal(t, 4, cfg.WorkerCount())
}
