package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigOverlaysDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[jobs]
workers = 8

[streaming]
mesh_encoding = "classic"
budget_mib = 512
`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Equal(t, 256, cfg.Jobs.QueueSize)
	assert.Equal(t, "classic", cfg.Streaming.MeshEncoding)
	assert.Equal(t, "textured", cfg.Streaming.MeshStyle)
	assert.Equal(t, uint64(512), cfg.Streaming.BudgetMiB)
	assert.Equal(t, uint32(2), cfg.Arena.Tiers)
}

func TestParseConfigRejectsUnknownEncoding(t *testing.T) {
	_, err := ParseConfig([]byte(`
[streaming]
mesh_encoding = "zstd"
`))
	assert.Error(t, err)
}

func TestParseConfigRejectsBadTiers(t *testing.T) {
	_, err := ParseConfig([]byte(`
[arena]
tiers = 9
`))
	assert.Error(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, SetLogLevel(cfg.Log.Level))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
