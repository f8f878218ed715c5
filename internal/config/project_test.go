package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// ParseBuildConfig
// ---------------------------------------------------------------------------

func TestParseBuildConfig_DottedKeys(t *testing.T) {
	data := []byte(`
log-level: debug
loaders:
  .svg: file
  .d.ts: empty
define:
  process.env.NODE_ENV: '"development"'
  __VERSION__: '"1.0.0"'
`)

	cfg, err := ParseBuildConfig(data)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{".svg": "file", ".d.ts": "empty"}, cfg.Loaders)
	assert.Equal(t, `"development"`, cfg.Define["process.env.NODE_ENV"])
	assert.Equal(t, `"1.0.0"`, cfg.Define["__VERSION__"])
	assert.False(t, cfg.IsEmpty())
}

func TestParseBuildConfig_Empty(t *testing.T) {
	cfg, err := ParseBuildConfig([]byte("log-level: info\n"))
	require.NoError(t, err)
	assert.True(t, cfg.IsEmpty())
}

func TestParseBuildConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"malformed yaml", "loaders: [", "parsing build config"},
		{"extension without dot", "loaders:\n  svg: file\n", "must be a file extension"},
		{"empty loader", "loaders:\n  .svg: ''\n", "loader name must not be empty"},
		{"bad define key", "define:\n  'process-env': '1'\n", "identifier or member chain"},
		{"empty define value", "define:\n  DEBUG: ' '\n", "value must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBuildConfig([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// ---------------------------------------------------------------------------
// LoadBuildConfig
// ---------------------------------------------------------------------------

func TestLoadBuildConfig(t *testing.T) {
	p := writeTempConfig(t, "loaders:\n  .png: dataurl\n")

	cfg, err := LoadBuildConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "dataurl", cfg.Loaders[".png"])
}

func TestLoadBuildConfig_NoFile(t *testing.T) {
	cfg, err := LoadBuildConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.IsEmpty())

	cfg, err = LoadBuildConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.IsEmpty())
}

func TestLoadBuildConfig_Unreadable(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadBuildConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
