package eventlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "patina.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendMonotonic(t *testing.T) {
	store := openTestStore(t)

	now := time.Now()
	for i := 1; i <= 25; i++ {
		seq, err := store.Append(KindCodeFunction, now, "sym", "./a.go", FunctionPayload{Name: "f"})
		require.NoError(t, err)
		require.Equal(t, uint64(i), seq, "sequence numbers must be gapless and in order")
	}

	last, err := store.LastSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(25), last)
}

func TestLastSeqEmpty(t *testing.T) {
	store := openTestStore(t)

	last, err := store.LastSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(0), last)

	last, err = store.LastSeqForKind(KindGitCommit)
	require.NoError(t, err)
	require.Equal(t, uint64(0), last)
}

func TestReadFromFiltersAndOrders(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	_, err := store.Append(KindGitCommit, now, "sha1", "", CommitPayload{SHA: "sha1"})
	require.NoError(t, err)
	_, err = store.Append(KindCodeFunction, now, "fn1", "./a.go", FunctionPayload{Name: "fn1"})
	require.NoError(t, err)
	_, err = store.Append(KindGitCommit, now, "sha2", "", CommitPayload{SHA: "sha2"})
	require.NoError(t, err)

	all, err := store.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, ev := range all {
		require.Equal(t, uint64(i+1), ev.Seq)
	}

	commits, err := store.ReadFrom(0, KindGitCommit)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	require.Equal(t, "sha1", commits[0].SourceID)
	require.Equal(t, "sha2", commits[1].SourceID)

	tail, err := store.ReadFrom(1, KindGitCommit)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, "sha2", tail[0].SourceID)
}

func TestLastSeqForKind(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	_, err := store.Append(KindGitCommit, now, "sha1", "", CommitPayload{SHA: "sha1"})
	require.NoError(t, err)
	_, err = store.Append(KindCodeFunction, now, "fn1", "./a.go", FunctionPayload{Name: "fn1"})
	require.NoError(t, err)

	seq, err := store.LastSeqForKind(KindGitCommit)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	seq, err = store.LastSeqForKind(KindGitTag)
	require.NoError(t, err)
	require.Equal(t, uint64(0), seq)
}

func TestHas(t *testing.T) {
	store := openTestStore(t)

	ok, err := store.Has(KindGitCommit, "sha1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Append(KindGitCommit, time.Now(), "sha1", "", CommitPayload{SHA: "sha1"})
	require.NoError(t, err)

	ok, err = store.Has(KindGitCommit, "sha1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Has(KindGitTag, "sha1")
	require.NoError(t, err)
	require.False(t, ok, "kind is part of the idempotence key")
}

func TestWalkStopsOnError(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		_, err := store.Append(KindCodeCall, now, "c", "./a.go", CallPayload{Caller: "f", Callee: "g"})
		require.NoError(t, err)
	}

	seen := 0
	sentinel := &patinaSentinel{}
	err := store.Walk(0, func(ev Event) error {
		seen++
		if seen == 3 {
			return sentinel
		}
		return nil
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, seen)
}

type patinaSentinel struct{}

func (*patinaSentinel) Error() string { return "stop" }
