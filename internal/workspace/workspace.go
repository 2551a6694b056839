// Package workspace resolves the on-disk layout of a project and the
// shared user-home store.
//
// Project-local artifacts live under <root>/.patina/; shared artifacts
// (model blobs, personas) live under ~/.patina/.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// Dir names under the project root.
const (
	patinaDir  = ".patina"
	dataDir    = "data"
	localDir   = "local"
	configName = "config.toml"
	dbName     = "patina.db"
)

// Workspace locates all engine artifacts for one project.
type Workspace struct {
	Root string // project root (absolute)
}

// Resolve walks up from dir looking for a .patina directory. Returns
// ErrNotInitialized if none is found.
func Resolve(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	for cur := abs; ; cur = filepath.Dir(cur) {
		if info, err := os.Stat(filepath.Join(cur, patinaDir)); err == nil && info.IsDir() {
			return &Workspace{Root: cur}, nil
		}
		if filepath.Dir(cur) == cur {
			return nil, fmt.Errorf("%s: %w", abs, patinaerr.ErrNotInitialized)
		}
	}
}

// Open returns the workspace rooted exactly at dir, requiring an
// existing .patina directory.
func Open(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if info, err := os.Stat(filepath.Join(abs, patinaDir)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", abs, patinaerr.ErrNotInitialized)
	}
	return &Workspace{Root: abs}, nil
}

// Init creates the .patina skeleton under dir. Idempotent.
func Init(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	ws := &Workspace{Root: abs}
	for _, d := range []string{ws.PatinaDir(), ws.DataDir(), ws.LocalDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	// local/ is per-machine scratch and never committed.
	gi := filepath.Join(ws.LocalDir(), ".gitignore")
	if _, err := os.Stat(gi); os.IsNotExist(err) {
		if err := os.WriteFile(gi, []byte("*\n"), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", gi, err)
		}
	}
	return ws, nil
}

// PatinaDir returns <root>/.patina.
func (w *Workspace) PatinaDir() string { return filepath.Join(w.Root, patinaDir) }

// DataDir returns <root>/.patina/data.
func (w *Workspace) DataDir() string { return filepath.Join(w.PatinaDir(), dataDir) }

// LocalDir returns <root>/.patina/local (gitignored scratch).
func (w *Workspace) LocalDir() string { return filepath.Join(w.PatinaDir(), localDir) }

// ConfigPath returns <root>/.patina/config.toml.
func (w *Workspace) ConfigPath() string { return filepath.Join(w.PatinaDir(), configName) }

// DBPath returns the unified eventlog + views database file.
func (w *Workspace) DBPath() string { return filepath.Join(w.DataDir(), dbName) }

// EmbeddingsDir returns the per-model artifact directory.
func (w *Workspace) EmbeddingsDir(modelID string) string {
	return filepath.Join(w.DataDir(), "embeddings", modelID)
}

// ProjectionWeightsPath returns the trained weights file for a dimension.
func (w *Workspace) ProjectionWeightsPath(modelID, dim string) string {
	return filepath.Join(w.EmbeddingsDir(modelID), "projections", dim+".weights")
}

// VectorIndexPath returns the vector index file for a dimension.
func (w *Workspace) VectorIndexPath(modelID, dim string) string {
	return filepath.Join(w.EmbeddingsDir(modelID), "projections", dim+".index")
}

// FTSIndexPath returns the full-text index directory for code symbols.
func (w *Workspace) FTSIndexPath() string {
	return filepath.Join(w.DataDir(), "code_fts.bleve")
}

// SessionsDir returns the directory session markdown is captured into.
func (w *Workspace) SessionsDir() string {
	return filepath.Join(w.Root, "layer", "sessions")
}

// LayerDir returns the prose layer root (patterns, beliefs, milestones).
func (w *Workspace) LayerDir() string {
	return filepath.Join(w.Root, "layer")
}

// HomeDir returns the shared user-home store (~/.patina), honoring
// PATINA_HOME for tests.
func HomeDir() (string, error) {
	if h := os.Getenv("PATINA_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, patinaDir), nil
}

// ModelCacheDir returns ~/.patina/cache/models/<model-id>.
func ModelCacheDir(modelID string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "cache", "models", modelID), nil
}

// PersonaDir returns ~/.patina/personas/<name>.
func PersonaDir(name string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "personas", name), nil
}
