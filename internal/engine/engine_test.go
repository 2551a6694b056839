package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina/internal/config"
	"github.com/NicabarNimble/patina/internal/embed"
	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/oracle"
	"github.com/NicabarNimble/patina/internal/patinaerr"
	"github.com/NicabarNimble/patina/internal/scrape"
	"github.com/NicabarNimble/patina/internal/workspace"
)

func newEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	t.Setenv("PATINA_HOME", filepath.Join(root, "home"))

	ws, err := workspace.Init(root)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Projection.HiddenDim = 32
	cfg.Projection.OutputDim = 16
	require.NoError(t, cfg.Save(ws.ConfigPath()))

	eng, err := New(root, WithEmbedder(embed.NewMock(64)))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng, root
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// A fresh project with nothing parseable yields zero events
// and empty query results, with no errors anywhere.
func TestEmptyProject(t *testing.T) {
	eng, root := newEngine(t)
	write(t, root, "notes.txt", "no known extensions here")

	stats, err := eng.Scrape(scrape.ScopeCode)
	require.NoError(t, err)
	require.Equal(t, 0, stats.EventsAppended)
	require.Empty(t, stats.Failed)

	results, err := eng.Query(context.Background(), "anything", QueryOptions{})
	require.NoError(t, err)
	require.Empty(t, results)
}

// Two files, one call. The call graph materializes the
// (bar, foo) edge and the callees mode surfaces a.rs.
func TestTwoFilesOneCall(t *testing.T) {
	eng, root := newEngine(t)
	write(t, root, "a.rs", "fn foo() {\n    let _x = 1;\n}\n")
	write(t, root, "b.rs", "fn bar() {\n    foo();\n}\n")

	stats, err := eng.Scrape(scrape.ScopeCode)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.EventsAppended, 3)

	var caller, callee, file string
	err = eng.store.DB().QueryRow(`SELECT caller, callee, file FROM call_graph`).Scan(&caller, &callee, &file)
	require.NoError(t, err)
	require.Equal(t, "./b.rs::fn:bar", caller)
	require.Equal(t, "foo", callee)

	results, err := eng.QueryAlt(context.Background(), "callees", "bar", QueryOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].DocID, "a.rs", "callee resolution should land in a.rs")

	// Lexical search also finds bar directly.
	results, err = eng.Query(context.Background(), "bar", QueryOptions{Oracles: []string{"lexical"}})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].DocID, "b.rs")
}

// Co-change counts and the file → co-changers mode.
func TestCoChangers(t *testing.T) {
	eng, _ := newEngine(t)
	now := time.Now()

	appendCommit := func(sha string, files ...string) {
		_, err := eng.store.Append(eventlog.KindGitCommit, now, sha, "", eventlog.CommitPayload{
			SHA: sha, Files: files,
		})
		require.NoError(t, err)
	}
	appendCommit("c1", "x.rs", "y.rs")
	appendCommit("c2", "x.rs", "z.rs", "y.rs")

	_, err := eng.Materialize("", false)
	require.NoError(t, err)

	results, err := eng.QueryAlt(context.Background(), "co-changers", "x.rs", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "./y.rs", results[0].DocID)
	require.Equal(t, "./z.rs", results[1].DocID)
}

// One oracle failing at query time is excluded from fusion;
// the query still answers and status surfaces the failure.
func TestOracleFailureIsolation(t *testing.T) {
	eng, root := newEngine(t)
	write(t, root, "a.rs", "fn foo() {\n    helper();\n}\nfn helper() {\n}\n")

	_, err := eng.Scrape(scrape.ScopeCode)
	require.NoError(t, err)

	eng.mu.Lock()
	eng.oracles = append(eng.oracles, &failingOracle{})
	eng.mu.Unlock()

	results, err := eng.Query(context.Background(), "helper", QueryOptions{})
	require.NoError(t, err, "a failing oracle must not fail the query")
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NotContains(t, r.Oracles, "exploding")
	}

	status, err := eng.Status()
	require.NoError(t, err)
	require.Contains(t, status.Unavailable["exploding"], "query error")
}

// Oxidize over a scraped project produces queryable vector spaces, and
// re-running it is byte-stable for the weights.
func TestOxidizeAndSemanticQuery(t *testing.T) {
	eng, root := newEngine(t)
	write(t, root, "auth.py", `def refresh_token():
    rotate()

def rotate():
    pass
`)
	write(t, root, "render.py", `def render_footer():
    pass

def render_header():
    pass
`)

	_, err := eng.Scrape(scrape.ScopeCode)
	require.NoError(t, err)

	ctx := context.Background()
	stats, err := eng.Oxidize(ctx, "")
	require.NoError(t, err)

	sem := stats.Dimensions["semantic"]
	require.False(t, sem.Skipped, "semantic should train from same-file symbol pairs: %s", sem.Reason)
	require.Greater(t, sem.Docs, 0)

	require.Contains(t, eng.OracleNames(), "semantic")

	results, err := eng.Query(ctx, "refresh token rotation", QueryOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NotEmpty(t, r.Oracles, "every fused result names its contributors")
	}

	// Oxidize idempotence: unchanged log + recipe → identical weights.
	model := eng.embedder.ModelID()
	weightsPath := eng.ws.ProjectionWeightsPath(model, "semantic")
	before, err := os.ReadFile(weightsPath)
	require.NoError(t, err)

	_, err = eng.Oxidize(ctx, "")
	require.NoError(t, err)
	after, err := os.ReadFile(weightsPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// The scry.query event records oracles, ranks, and top fused docs.
func TestQueryLogging(t *testing.T) {
	eng, root := newEngine(t)
	write(t, root, "a.rs", "fn alpha() {\n    beta();\n}\nfn beta() {\n}\n")

	_, err := eng.Scrape(scrape.ScopeCode)
	require.NoError(t, err)

	_, err = eng.Query(context.Background(), "alpha", QueryOptions{Mode: "default"})
	require.NoError(t, err)

	events, err := eng.store.ReadFrom(0, eventlog.KindScryQuery)
	require.NoError(t, err)
	require.Len(t, events, 1)

	var payload eventlog.ScryQueryPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	require.Equal(t, "alpha", payload.Query)
	require.NotEmpty(t, payload.Oracles)
	require.NotEmpty(t, payload.Top)

	require.NoError(t, eng.RecordUse(events[0].Seq, payload.Top[0].DocID))
	uses, err := eng.store.ReadFrom(0, eventlog.KindScryUse)
	require.NoError(t, err)
	require.Len(t, uses, 1)
}

// Diversity: no file is the primary file of more than MaxPerFile
// results.
func TestDiversityCap(t *testing.T) {
	eng, root := newEngine(t)
	var body string
	for _, name := range []string{"alpha", "alpha_two", "alpha_three", "alpha_four"} {
		body += "fn " + name + "() {\n}\n"
	}
	write(t, root, "crowded.rs", body)

	_, err := eng.Scrape(scrape.ScopeCode)
	require.NoError(t, err)

	results, err := eng.Query(context.Background(), "alpha", QueryOptions{Limit: 10})
	require.NoError(t, err)

	perFile := map[string]int{}
	for _, r := range results {
		perFile[oracle.SymbolDocFile(r.DocID)]++
	}
	for file, n := range perFile {
		require.LessOrEqual(t, n, eng.cfg.Query.MaxPerFile, "file %s exceeds the diversity cap", file)
	}
}

func TestNotInitialized(t *testing.T) {
	dir := t.TempDir()
	_, err := New(dir, WithEmbedder(embed.NewMock(16)))
	require.ErrorIs(t, err, patinaerr.ErrNotInitialized)
}

// failingOracle always errors; used to prove isolation.
type failingOracle struct{}

func (f *failingOracle) Name() string         { return "exploding" }
func (f *failingOracle) Grain() oracle.Grain  { return oracle.GrainSymbol }
func (f *failingOracle) Status() string       { return "doomed" }
func (f *failingOracle) Query(ctx context.Context, text string, limit int) ([]oracle.Result, error) {
	return nil, errors.New("boom")
}
