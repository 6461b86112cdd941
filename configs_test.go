package Surfclass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTileSize, cfg.TileSize)
	assert.Equal(t, 1, cfg.Processors)
	assert.Equal(t, "Byte", cfg.DataType)
	assert.Equal(t, 0.0, cfg.NoData)
	assert.Equal(t, 100, cfg.Train.Trees)
	assert.Equal(t, -1, cfg.Train.Processors)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tile_size: 512
data_type: UInt16
nodata: 65535
train:
  trees: 400
  seed: 7
`), 0644))
	t.Setenv("SURFCLASS_PROCESSORS", "-2")
	t.Setenv("SURFCLASS_TRAIN_MAX_DEPTH", "12")

	cfg, err := LoadConfig(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.TileSize)
	assert.Equal(t, "UInt16", cfg.DataType)
	assert.Equal(t, 65535.0, cfg.NoData)
	assert.Equal(t, -2, cfg.Processors)
	assert.Equal(t, 400, cfg.Train.Trees)
	assert.Equal(t, int64(7), cfg.Train.Seed)
	assert.Equal(t, 12, cfg.Train.MaxDepth)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit config file must exist")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_type: Complex64\n"), 0644))
	_, err = LoadConfig(NewViper(), path)
	assert.Error(t, err)
}
