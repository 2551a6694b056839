package scrape

import (
	"encoding/json"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina/internal/eventlog"
)

// gitRun executes git in dir, failing the test when git reports an error.
func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestGitScrape(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	suite, store, root := newSuite(t)

	gitRun(t, root, "init", "-q")
	gitRun(t, root, "config", "user.email", "dev@example.com")
	gitRun(t, root, "config", "user.name", "Dev")

	writeFile(t, root, "x.rs", "fn a() {}\n")
	writeFile(t, root, "y.rs", "fn b() {}\n")
	gitRun(t, root, "add", "x.rs", "y.rs")
	gitRun(t, root, "commit", "-q", "-m", "first change")

	writeFile(t, root, "x.rs", "fn a() { b(); }\n")
	gitRun(t, root, "add", "x.rs")
	gitRun(t, root, "commit", "-q", "-m", "second change")
	gitRun(t, root, "tag", "v0.1.0")

	stats, err := suite.Run(ScopeGit)
	require.NoError(t, err)
	require.Equal(t, 3, stats.EventsAppended, "two commits and one tag")

	commits, err := store.ReadFrom(0, eventlog.KindGitCommit)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	// Oldest first.
	var first eventlog.CommitPayload
	require.NoError(t, json.Unmarshal(commits[0].Data, &first))
	require.Equal(t, "first change", first.Subject)
	require.ElementsMatch(t, []string{"x.rs", "y.rs"}, first.Files)

	tags, err := store.ReadFrom(0, eventlog.KindGitTag)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, "tag:v0.1.0", tags[0].SourceID)

	// Unchanged repository appends nothing.
	again, err := suite.Run(ScopeGit)
	require.NoError(t, err)
	require.Equal(t, 0, again.EventsAppended)
	require.Equal(t, 3, again.ItemsSkipped)
}
