package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina/internal/oracle"
	"github.com/NicabarNimble/patina/internal/patinaerr"
)

func fileResults(ids ...string) []oracle.Result {
	out := make([]oracle.Result, len(ids))
	for i, id := range ids {
		out[i] = oracle.Result{DocID: id, Score: 1 - float64(i)*0.1, Content: "snippet " + id}
	}
	return out
}

// The worked RRF example: A returns [d1 d2 d3], B returns [d2 d3 d4].
// With k=60: d2 = 1/61+1/62? No — d2 is rank 2 in A and rank 1 in B:
// 1/62 + 1/61; d1 = 1/61; d3 = 1/63 + 1/62; d4 = 1/63.
// Ranking: d2 > d3 > d1 > d4.
func TestRRFWorkedExample(t *testing.T) {
	rankings := []Ranking{
		{Oracle: "A", Grain: oracle.GrainFile, Results: fileResults("d1", "d2", "d3")},
		{Oracle: "B", Grain: oracle.GrainFile, Results: fileResults("d2", "d3", "d4")},
	}

	results, err := Fuse(rankings, Options{K: 60})
	require.NoError(t, err)
	require.Len(t, results, 4)

	ids := []string{results[0].DocID, results[1].DocID, results[2].DocID, results[3].DocID}
	require.Equal(t, []string{"d2", "d3", "d1", "d4"}, ids)

	require.InDelta(t, 1.0/62+1.0/61, results[0].Score, 1e-12)
	require.InDelta(t, 1.0/63+1.0/62, results[1].Score, 1e-12)
	require.InDelta(t, 1.0/61, results[2].Score, 1e-12)
	require.InDelta(t, 1.0/63, results[3].Score, 1e-12)

	require.ElementsMatch(t, []string{"A", "B"}, results[0].Oracles)
	require.Len(t, results[0].Contributions, 2)
}

// A doc's fused score over K oracles is bounded by K/(k+1).
func TestRRFBounds(t *testing.T) {
	var rankings []Ranking
	for _, name := range []string{"a", "b", "c"} {
		rankings = append(rankings, Ranking{
			Oracle: name, Grain: oracle.GrainFile, Results: fileResults("d1", "d2"),
		})
	}
	results, err := Fuse(rankings, Options{K: 60})
	require.NoError(t, err)
	bound := 3.0 / 61.0
	for _, r := range results {
		require.Greater(t, r.Score, 0.0)
		require.LessOrEqual(t, r.Score, bound+1e-12)
	}
}

// Disabling an oracle never increases any surviving doc's score.
func TestOracleIsolation(t *testing.T) {
	full := []Ranking{
		{Oracle: "A", Grain: oracle.GrainFile, Results: fileResults("d1", "d2")},
		{Oracle: "B", Grain: oracle.GrainFile, Results: fileResults("d2", "d1")},
	}
	withBoth, err := Fuse(full, Options{})
	require.NoError(t, err)
	withA, err := Fuse(full[:1], Options{})
	require.NoError(t, err)

	scoresBoth := map[string]float64{}
	for _, r := range withBoth {
		scoresBoth[r.DocID] = r.Score
	}
	for _, r := range withA {
		require.LessOrEqual(t, r.Score, scoresBoth[r.DocID]+1e-12)
	}
}

func TestGranularityMismatchRejected(t *testing.T) {
	rankings := []Ranking{
		{Oracle: "temporal", Grain: oracle.GrainFile, Results: fileResults("./x.rs")},
		{Oracle: "lexical", Grain: oracle.GrainSymbol, Results: fileResults("./x.rs::fn:foo")},
	}

	_, err := Fuse(rankings, Options{PromoteToFile: false})
	var mismatch *patinaerr.GranularityMismatch
	require.ErrorAs(t, err, &mismatch)

	// With the promotion rule, symbol ids demote to their file.
	results, err := Fuse(rankings, Options{PromoteToFile: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "./x.rs", results[0].DocID)
	require.Len(t, results[0].Contributions, 2)
	require.Equal(t, "./x.rs::fn:foo", results[0].Contributions[1].DocID,
		"contributions keep the pre-promotion doc id")
}

func TestBeliefGrainNeverMixes(t *testing.T) {
	rankings := []Ranking{
		{Oracle: "semantic", Grain: oracle.GrainSymbol, Results: fileResults("./x.rs::fn:foo")},
		{Oracle: "belief", Grain: oracle.GrainBelief, Results: fileResults("belief:b1")},
	}
	_, err := Fuse(rankings, Options{PromoteToFile: true})
	var mismatch *patinaerr.GranularityMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestCapPerFile(t *testing.T) {
	results := []Result{
		{DocID: "./x.rs::fn:a", Score: 4},
		{DocID: "./x.rs::fn:b", Score: 3},
		{DocID: "./x.rs::fn:c", Score: 2},
		{DocID: "./y.rs::fn:d", Score: 1},
		{DocID: "belief:b1", Score: 0.5},
	}
	capped := CapPerFile(results, 2)
	require.Len(t, capped, 4)

	perFile := map[string]int{}
	for _, r := range capped {
		perFile[oracle.SymbolDocFile(r.DocID)]++
	}
	require.Equal(t, 2, perFile["./x.rs"])
	require.Equal(t, 1, perFile["./y.rs"])
	require.Equal(t, 1, perFile["belief:b1"])
}

func TestTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "word "
	}
	results := []Result{
		{DocID: "top", Score: 0.05, Content: long},
		{DocID: "mid", Score: 0.02, Content: long},
		{DocID: "low", Score: 0.001, Content: long},
	}
	policy := TruncationPolicy{FullMin: 0.03, ShortMin: 0.01, FullLen: 120, ShortLen: 40}
	policy.Truncate(results)

	require.LessOrEqual(t, len(results[0].Content), 121+len("…"))
	require.Greater(t, len(results[0].Content), len(results[1].Content))
	require.LessOrEqual(t, len(results[1].Content), 41+len("…"))
	require.Empty(t, results[2].Content)
}

func TestMergePoolsOrdersByScore(t *testing.T) {
	code := []Result{{DocID: "./a.rs", Score: 0.03}, {DocID: "./b.rs", Score: 0.01}}
	beliefs := []Result{{DocID: "belief:b1", Score: 0.02}}
	merged := MergePools(code, beliefs)
	require.Equal(t, []string{"./a.rs", "belief:b1", "./b.rs"},
		[]string{merged[0].DocID, merged[1].DocID, merged[2].DocID})
}

func TestFuseEmptyRankings(t *testing.T) {
	results, err := Fuse(nil, Options{})
	require.NoError(t, err)
	require.Empty(t, results)

	// NaN guard: scores are finite.
	for _, r := range results {
		require.False(t, math.IsNaN(r.Score))
	}
}
