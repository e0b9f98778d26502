package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(id, outcome string, start time.Time) Record {
	return Record{
		RunID:      id,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Outcome:    outcome,
		LoginState: "authenticated",
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)

	first := run("a", OutcomeSuccess, start)
	first.Artifact = "/exports/quicken-transactions-2026-10-17-06-01-30.csv"
	first.Size = 4096
	require.NoError(t, s.Append(ctx, first))

	second := run("b", OutcomeFailed, start.Add(24*time.Hour))
	second.LoggedIn = true
	second.Challenged = true
	second.ErrorKind = "authentication_failed"
	second.Error = "login: login failed"
	require.NoError(t, s.Append(ctx, second))

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "b", runs[0].RunID)
	assert.True(t, runs[0].LoggedIn)
	assert.True(t, runs[0].Challenged)
	assert.Equal(t, "authentication_failed", runs[0].ErrorKind)
	assert.Empty(t, runs[0].Artifact)

	assert.Equal(t, "a", runs[1].RunID)
	assert.Equal(t, first.Artifact, runs[1].Artifact)
	assert.Equal(t, int64(4096), runs[1].Size)
	assert.True(t, runs[1].StartedAt.Equal(start))
	assert.Equal(t, 90*time.Second, runs[1].Duration())
}

func TestRecentLimit(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(ctx, run(id, OutcomeSuccess, start.AddDate(0, 0, i))))
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}

func TestLastSuccess(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)

	last, err := s.LastSuccess(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, s.Append(ctx, run("a", OutcomeSuccess, start)))
	require.NoError(t, s.Append(ctx, run("b", OutcomeCanceled, start.Add(time.Hour))))

	last, err = s.LastSuccess(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "a", last.RunID)
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, run("a", OutcomeSuccess, time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	require.NoError(t, s.Append(context.Background(), Record{}))
	runs, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
