package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 4, 30, 0, 0, time.UTC)

	first, err := j.Record(ctx, Run{
		User: "alice", Account: "10001", GameUID: "10001",
		StartedAt: base, FinishedAt: base.Add(3 * time.Second),
		Outcome: OutcomeSuccess, RecordCount: 42,
	})
	require.NoError(t, err)
	assert.False(t, first.ID.IsNil())

	second, err := j.Record(ctx, Run{
		User: "alice", Account: "10001",
		StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Second),
		Outcome: OutcomeFailure, Stage: "auth", Error: "authentication failed",
	})
	require.NoError(t, err)

	_, err = j.Record(ctx, Run{User: "bob", Account: "2", StartedAt: base, FinishedAt: base, Outcome: OutcomeSuccess})
	require.NoError(t, err)

	runs, err := j.Recent(ctx, "alice", "10001", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, "auth", runs[0].Stage)
	assert.Equal(t, OutcomeFailure, runs[0].Outcome)
	assert.Equal(t, first, runs[1])

	runs, err = j.Recent(ctx, "alice", "10001", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecord_KeepsGivenID(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	run, err := j.Record(ctx, Run{ID: id, User: "u", Account: "a", Outcome: OutcomeSuccess})
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)

	_, err = j.Record(ctx, Run{ID: id, User: "u", Account: "a", Outcome: OutcomeSuccess})
	assert.Error(t, err, "duplicate id")
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	ctx := context.Background()

	j, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = j.Record(ctx, Run{User: "u", Account: "a", Outcome: OutcomeSuccess})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(ctx, path)
	require.NoError(t, err)
	defer j.Close()
	runs, err := j.Recent(ctx, "u", "a", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
