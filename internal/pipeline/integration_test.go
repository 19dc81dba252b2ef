package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-gacha/internal/auth"
	"github.com/celerix-dev/celerix-gacha/internal/fetcher"
	"github.com/celerix-dev/celerix-gacha/internal/journal"
	"github.com/celerix-dev/celerix-gacha/internal/ledger"
	"github.com/celerix-dev/celerix-gacha/internal/remote"
	"github.com/celerix-dev/celerix-gacha/internal/remote/remotetest"
	"github.com/celerix-dev/celerix-gacha/internal/vault"
)

func TestRunner_AgainstFakeRemote(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	users := filepath.Join(dir, "users")
	configPath := filepath.Join(users, "alice", "accounts", "10001", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte(`{"username": "13800000000", "password": "hunter2"}`), 0o600))

	srv := remotetest.New(t)
	srv.Categories = []remotetest.Category{{ID: "classic"}, {ID: "normal"}}
	srv.Records["classic"] = []remotetest.Record{
		{Ts: 1000, Pos: 1, PoolName: "Kernel", CharName: "X", Rarity: 5, IsNew: true},
		{Ts: 1000, Pos: 0, PoolName: "Kernel", CharName: "Y", Rarity: 2},
	}
	srv.Records["normal"] = []remotetest.Record{
		{Ts: 1700000000500, Pos: 0, PoolName: "Standard", CharName: "Z", Rarity: 3},
	}

	cipher, err := vault.OpenKeyFile(filepath.Join(dir, "secret.key"))
	require.NoError(t, err)
	j, err := journal.Open(ctx, filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	store := ledger.NewStore(users, nil)
	r := New(
		auth.New(vault.New(cipher, nil), srv.Endpoints(), remote.Options{}, nil),
		fetcher.New(nil, fetcher.WithPageSize(1), fetcher.WithPageDelay(0)),
		store,
		nil,
		WithJournal(j),
		WithVerifyAccount(true),
	)

	require.True(t, r.RunSync(ctx, configPath, "alice"))

	raw, err := os.ReadFile(filepath.Join(users, "alice", "accounts", "10001", "data.json"))
	require.NoError(t, err)
	assert.Equal(t, `{
  "1700000000": {
    "p": "Standard",
    "pt": 1,
    "c": [
      ["Z", 4, 0]
    ]
  },
  "1": {
    "p": "Kernel",
    "pt": 2,
    "c": [
      ["X", 6, 1],
      ["Y", 3, 0]
    ]
  }
}
`, string(raw))

	conf, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.NotContains(t, string(conf), "hunter2")

	runs, err := j.Recent(ctx, "alice", "10001", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.OutcomeSuccess, runs[0].Outcome)
	assert.Equal(t, 2, runs[0].RecordCount)

	// A second run against an unchanged remote leaves the ledger as it was.
	require.True(t, r.RunSync(ctx, configPath, "alice"))
	again, err := os.ReadFile(filepath.Join(users, "alice", "accounts", "10001", "data.json"))
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(again))

	// A failing remote never touches the stored ledger.
	srv.Fail[remotetest.PathDrawRecords] = remotetest.Failure{Code: 1}
	assert.False(t, r.RunSync(ctx, configPath, "alice"))
	after, err := os.ReadFile(filepath.Join(users, "alice", "accounts", "10001", "data.json"))
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(after))

	runs, err = j.Recent(ctx, "alice", "10001", 5)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, StageFetch, runs[0].Stage)
}
