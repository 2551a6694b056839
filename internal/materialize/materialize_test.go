package materialize

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina/internal/eventlog"
)

func newFixture(t *testing.T) (*eventlog.Store, *Materializer) {
	t.Helper()
	store, err := eventlog.Open(filepath.Join(t.TempDir(), "patina.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m, err := New(store, nil)
	require.NoError(t, err)
	return store, m
}

func appendCommit(t *testing.T, store *eventlog.Store, sha string, files ...string) {
	t.Helper()
	_, err := store.Append(eventlog.KindGitCommit, time.Now(), sha, "", eventlog.CommitPayload{
		SHA: sha, Author: "dev", Subject: "change " + sha, Files: files,
	})
	require.NoError(t, err)
}

func TestCoChangeCounts(t *testing.T) {
	store, m := newFixture(t)

	// commit-1 touches {x.rs, y.rs}; commit-2 touches {x.rs, z.rs, y.rs}
	appendCommit(t, store, "c1", "x.rs", "y.rs")
	appendCommit(t, store, "c2", "x.rs", "z.rs", "y.rs")

	_, err := m.Materialize("", false)
	require.NoError(t, err)

	counts := map[string]int{}
	rows, err := store.DB().Query(`SELECT file_a, file_b, count FROM co_changes`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var a, b string
		var n int
		require.NoError(t, rows.Scan(&a, &b, &n))
		require.Less(t, a, b, "pairs must be stored with file_a < file_b")
		counts[a+"|"+b] = n
	}
	require.Equal(t, map[string]int{
		"x.rs|y.rs": 2,
		"x.rs|z.rs": 1,
		"y.rs|z.rs": 1,
	}, counts)
}

func TestCallGraphRow(t *testing.T) {
	store, m := newFixture(t)

	_, err := store.Append(eventlog.KindCodeFunction, time.Now(), "./a.rs::fn:foo", "a.rs", eventlog.FunctionPayload{
		Name: "foo", Qualified: "./a.rs::fn:foo", File: "a.rs", Line: 1, Language: "rust",
	})
	require.NoError(t, err)
	_, err = store.Append(eventlog.KindCodeFunction, time.Now(), "./b.rs::fn:bar", "b.rs", eventlog.FunctionPayload{
		Name: "bar", Qualified: "./b.rs::fn:bar", File: "b.rs", Line: 1, Language: "rust",
	})
	require.NoError(t, err)
	_, err = store.Append(eventlog.KindCodeCall, time.Now(), "./b.rs::fn:bar->foo", "b.rs", eventlog.CallPayload{
		Caller: "./b.rs::fn:bar", Callee: "foo", File: "b.rs", Line: 2,
	})
	require.NoError(t, err)

	_, err = m.Materialize("", false)
	require.NoError(t, err)

	var caller, callee, file string
	err = store.DB().QueryRow(`SELECT caller, callee, file FROM call_graph`).Scan(&caller, &callee, &file)
	require.NoError(t, err)
	require.Equal(t, "./b.rs::fn:bar", caller)
	require.Equal(t, "foo", callee)
	require.Equal(t, "b.rs", file)
}

func TestMalformedEventSkippedNotFatal(t *testing.T) {
	store, m := newFixture(t)

	_, err := store.AppendRaw(eventlog.KindGitCommit, time.Now(), "bad", "", json.RawMessage(`{"sha":""}`))
	require.NoError(t, err)
	appendCommit(t, store, "good", "x.rs")

	stats, err := m.Materialize("commits", false)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Views["commits"].Errors)
	require.Equal(t, 1, stats.Views["commits"].Applied)

	var n int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM commits`).Scan(&n))
	require.Equal(t, 1, n)
}

// dumpViews renders every derived table into a canonical string for
// equality comparison between rebuild strategies.
func dumpViews(t *testing.T, store *eventlog.Store) string {
	t.Helper()
	out := ""
	tables := []string{"commits", "commit_files", "co_changes", "functions", "imports",
		"call_graph", "sessions", "patterns", "beliefs", "citations", "milestones", "module_signals"}
	for _, table := range tables {
		rows, err := store.DB().Query(`SELECT * FROM ` + table + ` ORDER BY 1, 2`)
		require.NoError(t, err)
		cols, err := rows.Columns()
		require.NoError(t, err)
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			require.NoError(t, rows.Scan(ptrs...))
			out += table + ":" + fmt.Sprint(vals...) + "\n"
		}
		rows.Close()
	}
	return out
}

func TestIncrementalEqualsFull(t *testing.T) {
	store, m := newFixture(t)

	appendCommit(t, store, "c1", "x.rs", "y.rs")
	_, err := store.Append(eventlog.KindCodeFunction, time.Now(), "./x.rs::fn:run", "x.rs", eventlog.FunctionPayload{
		Name: "run", Qualified: "./x.rs::fn:run", File: "x.rs", Line: 3, Language: "rust",
	})
	require.NoError(t, err)

	// Incremental pass over the first half.
	_, err = m.Materialize("", false)
	require.NoError(t, err)

	// Second half of the history.
	appendCommit(t, store, "c2", "x.rs", "z.rs")
	_, err = store.Append(eventlog.KindSessionStarted, time.Now(), "s1", "", eventlog.SessionPayload{
		SessionID: "s1", Title: "refactor", Started: "2025-06-01T10:00:00Z",
	})
	require.NoError(t, err)

	_, err = m.Materialize("", false)
	require.NoError(t, err)
	incremental := dumpViews(t, store)

	// Full rebuild from scratch must match byte for byte.
	_, err = m.Materialize("", true)
	require.NoError(t, err)
	full := dumpViews(t, store)

	require.Equal(t, full, incremental)
}

func TestBeliefCitations(t *testing.T) {
	store, m := newFixture(t)

	_, err := store.Append(eventlog.KindBeliefSurface, time.Now(), "belief:errors-wrapped", "layer/beliefs/errors.md", eventlog.BeliefPayload{
		BeliefID:  "errors-wrapped",
		Statement: "errors are wrapped with %w",
		Queries:   []string{"grep fmt.Errorf"},
	})
	require.NoError(t, err)
	_, err = store.Append(eventlog.KindBeliefSurface, time.Now(), "belief:logging-structured", "layer/beliefs/logging.md", eventlog.BeliefPayload{
		BeliefID:  "logging-structured",
		Statement: "logging is structured",
		Evidence:  []string{"[[errors-wrapped]]"},
		Body:      "See also [[errors-wrapped]] for rationale.",
	})
	require.NoError(t, err)
	_, err = store.Append(eventlog.KindSessionDecision, time.Now(), "s9", "", eventlog.SessionPayload{
		SessionID: "s9", Decision: "keep wrapping", Body: "confirmed [[errors-wrapped]]",
	})
	require.NoError(t, err)

	_, err = m.Materialize("", false)
	require.NoError(t, err)

	var citations int
	err = store.DB().QueryRow(`SELECT COUNT(*) FROM citations WHERE target = 'errors-wrapped'`).Scan(&citations)
	require.NoError(t, err)
	require.Equal(t, 2, citations, "one belief citation and one session citation")

	var queryCount int
	err = store.DB().QueryRow(`SELECT query_count FROM beliefs WHERE belief_id = 'errors-wrapped'`).Scan(&queryCount)
	require.NoError(t, err)
	require.Equal(t, 1, queryCount)
}

func TestModuleSignals(t *testing.T) {
	store, m := newFixture(t)

	for i := 0; i < 5; i++ {
		appendCommit(t, store, fmt.Sprintf("c%d", i), "core.rs")
	}
	appendCommit(t, store, "c9", "util_test.go")
	_, err := store.Append(eventlog.KindCodeImport, time.Now(), "main.go->core.rs", "main.go", eventlog.ImportPayload{
		File: "main.go", Imported: "core", Resolved: "core.rs", Line: 3,
	})
	require.NoError(t, err)

	_, err = m.Materialize("", false)
	require.NoError(t, err)

	var importers int
	var level string
	err = store.DB().QueryRow(`SELECT importer_count, activity_level FROM module_signals WHERE file = 'core.rs'`).
		Scan(&importers, &level)
	require.NoError(t, err)
	require.Equal(t, 1, importers)
	require.Equal(t, "hot", level)

	var entry int
	var score float64
	err = store.DB().QueryRow(`SELECT is_entry_point, composite_score FROM module_signals WHERE file = 'main.go'`).
		Scan(&entry, &score)
	require.NoError(t, err)
	require.Equal(t, 1, entry)
	require.GreaterOrEqual(t, score, entryPointBonus)

	var testFlag int
	err = store.DB().QueryRow(`SELECT is_test FROM module_signals WHERE file = 'util_test.go'`).Scan(&testFlag)
	require.NoError(t, err)
	require.Equal(t, 1, testFlag)
}
