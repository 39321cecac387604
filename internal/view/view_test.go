package view_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinneyio/lambdaconnect-go/internal/guard"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/store"
	"github.com/spinneyio/lambdaconnect-go/internal/view"
	"github.com/spinneyio/lambdaconnect-go/test/testutil"
)

type fixture struct {
	store *store.MemStore
	guard *guard.Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	resolved := testutil.MustSchema()
	st := store.NewMemory(resolved.Storage)
	return &fixture{
		store: st,
		guard: guard.New(resolved.Validation, st, testutil.NewTestLogger()),
	}
}

// userList is a typical binding: every active user's email.
func userList(tx store.ReadTx, _ any, _ any) (any, error) {
	rows, err := tx.List("User")
	if err != nil {
		return nil, err
	}
	var emails []string
	for _, row := range rows {
		if email, ok := row["email"].(string); ok {
			emails = append(emails, email)
		}
	}
	return emails, nil
}

func TestMountRunsOneInitialLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	binds := 0
	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "users",
		Bind: func(tx store.ReadTx, params, external any) (any, error) {
			binds++
			return userList(tx, params, external)
		},
		ReadTables: []string{"User"},
	})
	registry.Initialize(f.store, nil)

	require.NoError(t, registry.Mount(ctx, "users"))
	require.NoError(t, registry.Mount(ctx, "users"), "second mount shares the first load")
	assert.Equal(t, 1, binds)

	state, err := registry.State("users")
	require.NoError(t, err)
	assert.False(t, state.Pending)
	assert.NoError(t, state.Err)
}

func TestMountBeforeInitializeLoadsOnInitialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	binds := 0
	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "users",
		Bind: func(tx store.ReadTx, params, external any) (any, error) {
			binds++
			return userList(tx, params, external)
		},
		ReadTables: []string{"User"},
	})

	// Mounting before the registry has a database is allowed; the
	// initial load is deferred until Initialize.
	require.NoError(t, registry.Mount(ctx, "users"))
	assert.Equal(t, 0, binds)

	registry.Initialize(f.store, nil)
	assert.Equal(t, 1, binds)

	state, err := registry.State("users")
	require.NoError(t, err)
	assert.False(t, state.Pending)
	assert.NoError(t, state.Err)

	// A view model mounted after initialization is not loaded twice.
	require.NoError(t, registry.Mount(ctx, "users"))
	assert.Equal(t, 1, binds)
}

func TestUnmountStopsReloads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	binds := 0
	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "users",
		Bind: func(tx store.ReadTx, params, external any) (any, error) {
			binds++
			return userList(tx, params, external)
		},
		ReadTables: []string{"User"},
	})
	registry.Initialize(f.store, nil)

	require.NoError(t, registry.Mount(ctx, "users"))
	require.NoError(t, registry.Mount(ctx, "users"))
	require.NoError(t, registry.Unmount("users"))

	// One consumer remains; changes still reload.
	registry.NotifyTables([]string{"User"})
	assert.Equal(t, 2, binds)

	require.NoError(t, registry.Unmount("users"))
	registry.NotifyTables([]string{"User"})
	assert.Equal(t, 2, binds, "fully unmounted view models ignore changes")
}

func TestNotifyTablesRoutesByReadSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	userBinds, clientBinds := 0, 0
	registry := view.NewRegistry(testutil.NewTestLogger(),
		view.Definition{
			Name: "users",
			Bind: func(tx store.ReadTx, _, _ any) (any, error) {
				userBinds++
				return nil, nil
			},
			ReadTables: []string{"User"},
		},
		view.Definition{
			Name: "clients",
			Bind: func(tx store.ReadTx, _, _ any) (any, error) {
				clientBinds++
				return nil, nil
			},
			ReadTables: []string{"Client"},
		},
	)
	registry.Initialize(f.store, nil)

	// Wire the store's commit stream through the registry, then write
	// through the guard so the notification fires for real.
	f.store.Subscribe(registry.NotifyTables)

	require.NoError(t, registry.Mount(ctx, "users"))
	require.NoError(t, registry.Mount(ctx, "clients"))
	userBinds, clientBinds = 0, 0

	_, err := f.guard.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)

	assert.Equal(t, 1, userBinds, "committed User write reloads the users view")
	assert.Zero(t, clientBinds, "views outside the changed read-set stay put")
}

func TestReloadProtocol(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name:       "users",
		Bind:       userList,
		ReadTables: []string{"User"},
	})
	registry.Initialize(f.store, nil)

	var states []view.State
	unsubscribe, err := registry.Subscribe("users", func(s view.State) {
		states = append(states, s)
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = f.guard.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)

	require.NoError(t, registry.Mount(ctx, "users"))

	require.Len(t, states, 2)
	assert.True(t, states[0].Pending)
	assert.False(t, states[1].Pending)
	assert.Equal(t, []string{"a@b.com"}, states[1].Result)

	// The pending state of a later reload keeps the previous result so
	// consumers never flash empty.
	registry.NotifyTables([]string{"User"})
	require.Len(t, states, 4)
	assert.True(t, states[2].Pending)
	assert.Equal(t, []string{"a@b.com"}, states[2].Result)
}

func TestReloadErrorsAreState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	boom := errors.New("boom")

	fail := true
	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "users",
		Bind: func(tx store.ReadTx, _, _ any) (any, error) {
			if fail {
				return nil, boom
			}
			return "ok", nil
		},
		ReadTables: []string{"User"},
	})
	registry.Initialize(f.store, nil)

	require.NoError(t, registry.Mount(ctx, "users"))

	state, err := registry.State("users")
	require.NoError(t, err)
	assert.ErrorIs(t, state.Err, boom)
	assert.False(t, state.Pending)

	// A later successful reload clears the error.
	fail = false
	registry.NotifyTables([]string{"User"})

	state, err = registry.State("users")
	require.NoError(t, err)
	assert.NoError(t, state.Err)
	assert.Equal(t, "ok", state.Result)
}

func TestSetParams(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var seen []any
	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "user-by-email",
		Bind: func(tx store.ReadTx, params, _ any) (any, error) {
			seen = append(seen, params)
			return tx.Find("User", "email", params)
		},
		ReadTables:    []string{"User"},
		InitialParams: "a@b.com",
	})
	registry.Initialize(f.store, nil)

	require.NoError(t, registry.Mount(ctx, "user-by-email"))
	require.NoError(t, registry.SetParams(ctx, "user-by-email", "c@d.com"))

	assert.Equal(t, []any{"a@b.com", "c@d.com"}, seen)

	state, err := registry.State("user-by-email")
	require.NoError(t, err)
	assert.Equal(t, "c@d.com", state.Params)

	// Parameters set while unmounted are remembered, not loaded.
	require.NoError(t, registry.Unmount("user-by-email"))
	require.NoError(t, registry.SetParams(ctx, "user-by-email", "e@f.com"))
	assert.Len(t, seen, 2)

	require.NoError(t, registry.Mount(ctx, "user-by-email"))
	assert.Equal(t, "e@f.com", seen[2])
}

func TestExternalStateSelector(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	type appState struct {
		Filter string
		Noise  int
	}
	container := view.NewStateContainer(appState{Filter: "active"})

	var selected []any
	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "filtered",
		Bind: func(tx store.ReadTx, _, external any) (any, error) {
			selected = append(selected, external)
			return nil, nil
		},
		ReadTables:       []string{"User"},
		ExternalSelector: func(external any) any { return external.(appState).Filter },
	})
	registry.Initialize(f.store, container)

	require.NoError(t, registry.Mount(ctx, "filtered"))
	require.Equal(t, []any{"active"}, selected)

	// A change outside the selected slice does not reload.
	container.Set(appState{Filter: "active", Noise: 1})
	assert.Len(t, selected, 1)

	// A change of the selected slice does, and the binding sees it.
	container.Set(appState{Filter: "archived", Noise: 1})
	require.Len(t, selected, 2)
	assert.Equal(t, "archived", selected[1])
}

func TestExternalSelectorReturningSlice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	type appState struct {
		Tags []string
	}
	container := view.NewStateContainer(appState{Tags: []string{"a"}})

	var selected []any
	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "tagged",
		Bind: func(tx store.ReadTx, _, external any) (any, error) {
			selected = append(selected, external)
			return nil, nil
		},
		ReadTables:       []string{"User"},
		ExternalSelector: func(external any) any { return external.(appState).Tags },
	})
	registry.Initialize(f.store, container)

	require.NoError(t, registry.Mount(ctx, "tagged"))
	require.Len(t, selected, 1)

	// Slices are not comparable with ==; the default equality must
	// handle them instead of panicking inside Set.
	require.NotPanics(t, func() {
		container.Set(appState{Tags: []string{"a"}})
	})
	assert.Len(t, selected, 1, "deep-equal slices do not reload")

	container.Set(appState{Tags: []string{"a", "b"}})
	require.Len(t, selected, 2)
	assert.Equal(t, []string{"a", "b"}, selected[1])
}

func TestStaleReloadDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var registry *view.Registry
	nested := false
	registry = view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "users",
		Bind: func(tx store.ReadTx, _, _ any) (any, error) {
			if !nested {
				// Trigger a newer reload while this one is still
				// running; this one's completion must lose.
				nested = true
				registry.NotifyTables([]string{"User"})
				return "stale", nil
			}
			return "fresh", nil
		},
		ReadTables: []string{"User"},
	})
	registry.Initialize(f.store, nil)

	require.NoError(t, registry.Mount(ctx, "users"))

	state, err := registry.State("users")
	require.NoError(t, err)
	assert.Equal(t, "fresh", state.Result, "the older completion is discarded")
}

func TestUnknownViewModel(t *testing.T) {
	registry := view.NewRegistry(testutil.NewTestLogger())
	registry.Initialize(newFixture(t).store, nil)

	assert.ErrorIs(t, registry.Mount(context.Background(), "ghost"), models.ErrUnknownViewModel)
	assert.ErrorIs(t, registry.Unmount("ghost"), models.ErrUnknownViewModel)
	_, err := registry.State("ghost")
	assert.ErrorIs(t, err, models.ErrUnknownViewModel)
}

func TestRegisterOverwritesByName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name:       "users",
		Bind:       func(store.ReadTx, any, any) (any, error) { return "first", nil },
		ReadTables: []string{"User"},
	})
	registry.Register(view.Definition{
		Name:       "users",
		Bind:       func(store.ReadTx, any, any) (any, error) { return "second", nil },
		ReadTables: []string{"User"},
	})
	registry.Initialize(f.store, nil)

	require.NoError(t, registry.Mount(ctx, "users"))
	state, err := registry.State("users")
	require.NoError(t, err)
	assert.Equal(t, "second", state.Result)
}

func TestNotifierFreeze(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	binds := 0
	registry := view.NewRegistry(testutil.NewTestLogger(), view.Definition{
		Name: "users",
		Bind: func(store.ReadTx, any, any) (any, error) {
			binds++
			return nil, nil
		},
		ReadTables: []string{"User"},
	})
	registry.Initialize(f.store, nil)
	notifier := view.NewNotifier(registry, testutil.NewTestLogger())

	require.NoError(t, registry.Mount(ctx, "users"))
	require.Equal(t, 1, binds)

	notifier.Freeze()
	assert.True(t, notifier.Frozen())
	notifier.OnCommit([]string{"User"})
	assert.Equal(t, 1, binds, "frozen batches are dropped")

	notifier.Unfreeze()
	assert.Equal(t, 1, binds, "dropped batches are not replayed")
	notifier.OnCommit([]string{"User"})
	assert.Equal(t, 2, binds)
}
