package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina/internal/patinaerr"
)

func TestInitAndResolve(t *testing.T) {
	root := t.TempDir()

	ws, err := Init(root)
	require.NoError(t, err)
	require.DirExists(t, ws.DataDir())
	require.DirExists(t, ws.LocalDir())
	require.FileExists(t, filepath.Join(ws.LocalDir(), ".gitignore"))

	// Init is idempotent.
	_, err = Init(root)
	require.NoError(t, err)

	// Resolve from a nested directory walks up to the root.
	nested := filepath.Join(root, "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	resolved, err := Resolve(nested)
	require.NoError(t, err)
	require.Equal(t, ws.Root, resolved.Root)
}

func TestResolveNotInitialized(t *testing.T) {
	_, err := Resolve(t.TempDir())
	require.ErrorIs(t, err, patinaerr.ErrNotInitialized)

	_, err = Open(t.TempDir())
	require.ErrorIs(t, err, patinaerr.ErrNotInitialized)
}

func TestArtifactPaths(t *testing.T) {
	ws := &Workspace{Root: "/proj"}
	require.Equal(t, "/proj/.patina/data/patina.db", filepath.ToSlash(ws.DBPath()))
	require.Equal(t,
		"/proj/.patina/data/embeddings/nomic-embed-text/projections/semantic.weights",
		filepath.ToSlash(ws.ProjectionWeightsPath("nomic-embed-text", "semantic")))
	require.Equal(t,
		"/proj/.patina/data/embeddings/nomic-embed-text/projections/semantic.index",
		filepath.ToSlash(ws.VectorIndexPath("nomic-embed-text", "semantic")))
}

func TestHomeDirHonorsEnv(t *testing.T) {
	t.Setenv("PATINA_HOME", "/custom/patina-home")
	home, err := HomeDir()
	require.NoError(t, err)
	require.Equal(t, "/custom/patina-home", home)

	models, err := ModelCacheDir("nomic-embed-text")
	require.NoError(t, err)
	require.Equal(t, "/custom/patina-home/cache/models/nomic-embed-text", filepath.ToSlash(models))

	persona, err := PersonaDir("default")
	require.NoError(t, err)
	require.Equal(t, "/custom/patina-home/personas/default", filepath.ToSlash(persona))
}
