package vectorindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina/internal/patinaerr"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestAddSearchRanking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semantic.index")
	idx, err := Create(path, 4)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add("./a.rs", []float32{1, 0, 0, 0}, "fn a"))
	require.NoError(t, idx.Add("./b.rs", []float32{0.9, 0.1, 0, 0}, "fn b"))
	require.NoError(t, idx.Add("./c.rs", []float32{0, 0, 1, 0}, "fn c"))

	results, err := idx.Search(unit(4, 0), 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "./a.rs", results[0].DocID)
	require.Equal(t, "./b.rs", results[1].DocID)
	require.InDelta(t, 1.0, results[0].Similarity, 1e-5)
	require.Greater(t, results[0].Similarity, results[1].Similarity)
	require.Equal(t, "fn a", results[0].Content)
}

func TestOpenDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semantic.index")
	idx, err := Create(path, 8)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = Open(path, 16)
	var mismatch *patinaerr.SchemaMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 8, mismatch.IndexDim)
	require.Equal(t, 16, mismatch.ExpectDim)

	reopened, err := Open(path, 8)
	require.NoError(t, err)
	require.Equal(t, 8, reopened.Dimension())
	require.NoError(t, reopened.Close())
}

func TestAddWrongDimension(t *testing.T) {
	idx, err := Create(filepath.Join(t.TempDir(), "x.index"), 4)
	require.NoError(t, err)
	defer idx.Close()

	err = idx.Add("./a.rs", make([]float32, 7), "")
	var mismatch *patinaerr.SchemaMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestAddReplaces(t *testing.T) {
	idx, err := Create(filepath.Join(t.TempDir(), "x.index"), 4)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add("./a.rs", unit(4, 0), "old"))
	require.NoError(t, idx.Add("./a.rs", unit(4, 1), "new"))

	n, err := idx.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	results, err := idx.Search(unit(4, 1), 1)
	require.NoError(t, err)
	require.Equal(t, "./a.rs", results[0].DocID)
	require.Equal(t, "new", results[0].Content)
}
