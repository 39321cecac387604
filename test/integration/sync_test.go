package integration_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinneyio/lambdaconnect-go/internal/client"
	"github.com/spinneyio/lambdaconnect-go/internal/config"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/store"
	"github.com/spinneyio/lambdaconnect-go/internal/syncer"
	"github.com/spinneyio/lambdaconnect-go/internal/view"
	"github.com/spinneyio/lambdaconnect-go/test/testutil"
)

// setup spins up the fake API, a facade over the real HTTP transport,
// and an in-memory replica.
func setup(t *testing.T, defs ...view.Definition) (*client.Client, *testutil.TestServer) {
	t.Helper()

	server := testutil.NewTestServer(testutil.ModelXML)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.API.BaseURL = server.URL
	cfg.Storage.DataDir = dir
	cfg.Storage.StateDir = filepath.Join(dir, "state")
	cfg.Storage.DatabaseFile = filepath.Join(dir, "replica.db")
	require.NoError(t, cfg.EnsureDirectories())

	c := client.New(cfg, testutil.NewTestLogger())
	c.SetStoreOpener(func(s *models.StorageSchema) (store.Store, error) {
		return store.NewMemory(s), nil
	})
	t.Cleanup(func() { _ = c.Close() })

	registry := view.NewRegistry(testutil.NewTestLogger(), defs...)
	require.NoError(t, c.Initialize(context.Background(), registry, nil, client.InitOptions{}))
	return c, server
}

func TestFullCycle(t *testing.T) {
	ctx := context.Background()
	c, server := setup(t)
	c.SetToken("session-token")

	created, err := c.Create(ctx, "User", models.Record{"email": "a@b.com", "name": "Ada"})
	require.NoError(t, err)

	server.QueuePull(map[string][]models.Record{
		"User": {{
			models.FieldUUID:         created.UUID(),
			models.FieldActive:       1,
			models.FieldSyncRevision: 1,
			"email":                  "a@b.com",
			"name":                   "Ada",
		}},
	})

	result, err := c.Sync(ctx, syncer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 1, result.Pulled)

	// The server saw the record without local bookkeeping noise.
	require.Len(t, server.PushBodies, 1)
	pushed := server.PushBodies[0]["User"]
	require.Len(t, pushed, 1)
	assert.Equal(t, created.UUID(), pushed[0].UUID())
	assert.NotContains(t, pushed[0], models.FieldDirty)

	// The merged-back row carries the server revision and is clean.
	rec, err := c.Get(ctx, "User", created.UUID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.SyncRevision())
	assert.False(t, rec.Dirty())

	// Every request carried the bearer token.
	for _, auth := range server.AuthHeader[1:] {
		assert.Equal(t, "Bearer session-token", auth)
	}

	// A second cycle has nothing to push and asks for revisions past
	// the checkpoint.
	_, err = c.Sync(ctx, syncer.Options{})
	require.NoError(t, err)
	require.Len(t, server.PushBodies, 1, "clean replica pushes nothing")
	require.Len(t, server.PullBodies, 2)
	assert.Equal(t, int64(2), server.PullBodies[1]["User"])
}

func TestTryLaterCycle(t *testing.T) {
	ctx := context.Background()
	c, server := setup(t)

	_, err := c.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)

	server.QueuePush(models.PushResponse{Success: false, ErrorCode: 42})

	result, err := c.Sync(ctx, syncer.Options{})
	require.NoError(t, err)
	assert.True(t, result.TryLater)
	assert.Empty(t, server.PullBodies, "pull skipped after try-later")

	// The scripted failure is consumed; the next cycle succeeds and
	// resends the identical rows.
	result, err = c.Sync(ctx, syncer.Options{})
	require.NoError(t, err)
	assert.False(t, result.TryLater)
	assert.Equal(t, 1, result.Pushed)
	require.Len(t, server.PushBodies, 2)
	assert.Equal(t, server.PushBodies[0], server.PushBodies[1])
}

func TestConflictCycle(t *testing.T) {
	ctx := context.Background()
	c, server := setup(t)

	created, err := c.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)

	server.QueuePush(models.PushResponse{
		Success:        true,
		RejectedFields: map[string]map[string]int{created.UUID(): {"email": 1}},
	})

	_, err = c.Sync(ctx, syncer.Options{})
	var cerr *models.ConflictError
	require.ErrorAs(t, err, &cerr)

	rec, gerr := c.Get(ctx, "User", created.UUID())
	require.NoError(t, gerr)
	assert.True(t, rec.Dirty(), "conflicted rows wait for reconciliation")
}

func TestViewModelSeesPulledData(t *testing.T) {
	ctx := context.Background()

	c, server := setup(t, view.Definition{
		Name: "emails",
		Bind: func(tx store.ReadTx, _, _ any) (any, error) {
			rows, err := tx.List("User")
			if err != nil {
				return nil, err
			}
			var emails []string
			for _, row := range rows {
				emails = append(emails, row["email"].(string))
			}
			return emails, nil
		},
		ReadTables: []string{"User"},
	})

	registry := c.Registry()
	require.NoError(t, registry.Mount(ctx, "emails"))

	state, err := registry.State("emails")
	require.NoError(t, err)
	assert.Empty(t, state.Result)

	server.QueuePull(map[string][]models.Record{
		"User": {{models.FieldUUID: "srv-1", "email": "server@b.com", models.FieldSyncRevision: 1}},
	})
	_, err = c.Sync(ctx, syncer.Options{})
	require.NoError(t, err)

	state, err = registry.State("emails")
	require.NoError(t, err)
	assert.Equal(t, []string{"server@b.com"}, state.Result, "merge commit reloads the mounted view")
}

func TestSoftDeletePropagates(t *testing.T) {
	ctx := context.Background()
	c, server := setup(t)

	created, err := c.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)
	_, err = c.Sync(ctx, syncer.Options{SkipPull: true})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "User", created.UUID()))
	_, err = c.Sync(ctx, syncer.Options{SkipPull: true})
	require.NoError(t, err)

	require.Len(t, server.PushBodies, 2)
	deleted := server.PushBodies[1]["User"]
	require.Len(t, deleted, 1)
	n, ok := models.NumericValue(deleted[0][models.FieldActive])
	require.True(t, ok)
	assert.Equal(t, float64(0), n, "deletion travels as active=0")
}
