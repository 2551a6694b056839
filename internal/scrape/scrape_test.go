package scrape

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina/internal/config"
	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/workspace"
)

func newSuite(t *testing.T) (*Suite, *eventlog.Store, string) {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.Init(root)
	require.NoError(t, err)
	store, err := eventlog.Open(ws.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	suite := NewSuite(ws, store, config.Default())
	suite.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return suite, store, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCodeScrapeEmptyTree(t *testing.T) {
	suite, _, root := newSuite(t)
	writeFile(t, root, "README.md", "# nothing parseable here")

	stats, err := suite.Run(ScopeCode)
	require.NoError(t, err)
	require.Equal(t, 0, stats.EventsAppended)
	require.Empty(t, stats.Errors)
	require.Empty(t, stats.Failed)
}

func TestCodeScrapeTwoFilesOneCall(t *testing.T) {
	suite, store, root := newSuite(t)
	writeFile(t, root, "a.rs", "fn foo() {\n    let x = 1;\n}\n")
	writeFile(t, root, "b.rs", "fn bar() {\n    foo();\n}\n")

	stats, err := suite.Run(ScopeCode)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.EventsAppended, 3, "two functions and one call at minimum")

	fns, err := store.ReadFrom(0, eventlog.KindCodeFunction)
	require.NoError(t, err)
	require.Len(t, fns, 2)

	calls, err := store.ReadFrom(0, eventlog.KindCodeCall)
	require.NoError(t, err)
	require.Len(t, calls, 1)
}

func TestCodeScrapeIdempotent(t *testing.T) {
	suite, _, root := newSuite(t)
	writeFile(t, root, "app.py", "def main():\n    helper()\n\ndef helper():\n    pass\n")

	first, err := suite.Run(ScopeCode)
	require.NoError(t, err)
	require.Greater(t, first.EventsAppended, 0)

	second, err := suite.Run(ScopeCode)
	require.NoError(t, err)
	require.Equal(t, 0, second.EventsAppended, "unchanged input must append nothing")
	require.Equal(t, first.EventsAppended, second.ItemsSkipped)
}

func TestCodeScrapeEditedFunctionAppends(t *testing.T) {
	suite, _, root := newSuite(t)
	writeFile(t, root, "lib.rs", "fn work() {\n}\n")

	_, err := suite.Run(ScopeCode)
	require.NoError(t, err)

	writeFile(t, root, "lib.rs", "/// reworked\nfn work() {\n    helper();\n}\n")
	stats, err := suite.Run(ScopeCode)
	require.NoError(t, err)
	require.Greater(t, stats.EventsAppended, 0, "edited body must produce fresh events")
}

func TestSessionScrape(t *testing.T) {
	suite, store, root := newSuite(t)
	writeFile(t, root, "layer/sessions/2025-06-01-auth.md", `---
session: 2025-06-01-auth
title: Fix auth token refresh
started: 2025-06-01T09:00:00Z
ended: 2025-06-01T11:30:00Z
---

## Activity Log

- edited src/auth.rs
- decision: refresh tokens rotate on every use

## Decisions

- auth middleware stays synchronous
`)

	stats, err := suite.Run(ScopeSessions)
	require.NoError(t, err)
	require.Equal(t, 4, stats.EventsAppended, "started + ended + two decisions")

	started, err := store.ReadFrom(0, eventlog.KindSessionStarted)
	require.NoError(t, err)
	require.Len(t, started, 1)
	require.Equal(t, "2025-06-01-auth", started[0].SourceID)

	decisionEvents, err := store.ReadFrom(0, eventlog.KindSessionDecision)
	require.NoError(t, err)
	require.Len(t, decisionEvents, 2)

	again, err := suite.Run(ScopeSessions)
	require.NoError(t, err)
	require.Equal(t, 0, again.EventsAppended)
}

func TestBeliefScrape(t *testing.T) {
	suite, store, root := newSuite(t)
	writeFile(t, root, "layer/beliefs/errors-wrapped.md", `---
belief: errors-wrapped
statement: Errors are always wrapped with context
supports: [logging-structured]
---

All fallible calls wrap their errors.

## Evidence

- [[session-2025-06-01]]
- [[src/errors.rs]]

`+"```query\ngrep -r \"fmt.Errorf\" src/\n```"+`
`)

	stats, err := suite.Run(ScopeBeliefs)
	require.NoError(t, err)
	require.Equal(t, 1, stats.EventsAppended)

	events, err := store.ReadFrom(0, eventlog.KindBeliefSurface)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "belief:errors-wrapped", events[0].SourceID)
}

func TestLayerScrape(t *testing.T) {
	suite, store, root := newSuite(t)
	writeFile(t, root, "layer/patterns/core/error-handling.md", `---
name: error-handling
statement: wrap errors, never swallow
---

Errors propagate with %w. See [[errors-wrapped]].
`)
	writeFile(t, root, "layer/patterns/surface/http-retries.md", `---
name: http-retries
---

Retries use exponential backoff.
`)

	stats, err := suite.Run(ScopeLayer)
	require.NoError(t, err)
	require.Equal(t, 2, stats.EventsAppended)

	core, err := store.ReadFrom(0, eventlog.KindPatternCore)
	require.NoError(t, err)
	require.Len(t, core, 1)
	surface, err := store.ReadFrom(0, eventlog.KindPatternSurface)
	require.NoError(t, err)
	require.Len(t, surface, 1)
}

func TestFrontmatterSplit(t *testing.T) {
	fm, body, err := splitFrontmatter([]byte("---\ntitle: x\nfiles:\n  - a.rs\n---\n\nbody text\n"))
	require.NoError(t, err)
	require.Equal(t, "x", fm.str("title"))
	require.Equal(t, []string{"a.rs"}, fm.list("files"))
	require.Contains(t, body, "body text")

	fm, body, err = splitFrontmatter([]byte("no header at all"))
	require.NoError(t, err)
	require.Empty(t, fm)
	require.Equal(t, "no header at all", body)
}
