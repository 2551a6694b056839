package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, 60, cfg.Query.RRFConstant)
	require.Equal(t, 2, cfg.Query.MaxPerFile)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patina", "config.toml")

	cfg := Default()
	cfg.Embedding.Model = "mxbai-embed-large"
	cfg.Embedding.Dimension = 1024
	cfg.Projection.Dimensions = []string{"semantic"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "mxbai-embed-large", loaded.Embedding.Model)
	require.Equal(t, 1024, loaded.Embedding.Dimension)
	require.Equal(t, []string{"semantic"}, loaded.Projection.Dimensions)
}

func TestSparseFileKeepsFloors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[embedding]
model = "all-minilm"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "all-minilm", cfg.Embedding.Model)
	require.Equal(t, 768, cfg.Embedding.Dimension, "unset dimension falls back")
	require.Equal(t, 60, cfg.Query.RRFConstant)
}
