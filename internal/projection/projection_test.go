package projection

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina/internal/embed"
)

func trainingPairs(t *testing.T, dim int) []Pair {
	t.Helper()
	m := embed.NewMock(dim)
	ctx := context.Background()
	texts := [][2]string{
		{"auth token refresh", "refresh auth token handler"},
		{"database connection pool", "pool of database connections"},
		{"render settings page", "settings page renderer"},
		{"parse commit history", "commit history parser"},
	}
	var pairs []Pair
	for _, pair := range texts {
		a, err := m.EmbedQuery(ctx, pair[0])
		require.NoError(t, err)
		b, err := m.EmbedPassage(ctx, pair[1])
		require.NoError(t, err)
		pairs = append(pairs, Pair{Anchor: a, Positive: b})
	}
	return pairs
}

func TestTrainProjectRoundTrip(t *testing.T) {
	pairs := trainingPairs(t, 32)

	cfg := TrainConfig{
		ModelID: "mock", Dimension: "semantic",
		InputDim: 32, HiddenDim: 16, OutputDim: 8,
		Epochs: 3, Seed: 7,
	}
	proj, err := Train(cfg, pairs)
	require.NoError(t, err)
	require.Equal(t, 8, proj.OutputDim())

	out, err := proj.Project(pairs[0].Anchor)
	require.NoError(t, err)
	require.Len(t, out, 8)

	// Output is unit-normalized.
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, norm, 1e-4)

	path := filepath.Join(t.TempDir(), "semantic.weights")
	require.NoError(t, proj.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	out2, err := loaded.Project(pairs[0].Anchor)
	require.NoError(t, err)
	require.Equal(t, out, out2, "loaded projection must reproduce outputs exactly")
}

func TestTrainDeterministicUnderSeed(t *testing.T) {
	pairs := trainingPairs(t, 32)
	cfg := TrainConfig{
		ModelID: "mock", Dimension: "semantic",
		InputDim: 32, HiddenDim: 16, OutputDim: 8,
		Epochs: 3, Seed: 7,
	}

	a, err := Train(cfg, pairs)
	require.NoError(t, err)
	b, err := Train(cfg, pairs)
	require.NoError(t, err)

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.weights")
	pathB := filepath.Join(dir, "b.weights")
	require.NoError(t, a.Save(pathA))
	require.NoError(t, b.Save(pathB))

	bytesA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	bytesB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	require.Equal(t, bytesA, bytesB, "same seed and pairs must give byte-identical weights")
}

func TestProjectDimensionMismatch(t *testing.T) {
	pairs := trainingPairs(t, 32)
	proj, err := Train(TrainConfig{
		ModelID: "mock", Dimension: "semantic",
		InputDim: 32, HiddenDim: 8, OutputDim: 4, Epochs: 1, Seed: 1,
	}, pairs)
	require.NoError(t, err)

	_, err = proj.Project(make([]float32, 16))
	require.Error(t, err)
}

func TestLoadRecipe(t *testing.T) {
	r, err := LoadRecipe("")
	require.NoError(t, err)
	require.Len(t, r.Dimensions, 4)

	path := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed: 9
dimensions:
  - name: semantic
    rule: session-co-mention
    epochs: 2
`), 0o644))
	r, err = LoadRecipe(path)
	require.NoError(t, err)
	require.Equal(t, int64(9), r.Seed)
	require.Len(t, r.Dimensions, 1)

	require.NoError(t, os.WriteFile(path, []byte(`
dimensions:
  - name: bogus
    rule: not-a-rule
`), 0o644))
	_, err = LoadRecipe(path)
	require.Error(t, err)
}
