package guard_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinneyio/lambdaconnect-go/internal/guard"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/store"
	"github.com/spinneyio/lambdaconnect-go/test/testutil"
)

func newGuard(t *testing.T) (*guard.Guard, *store.MemStore) {
	t.Helper()
	resolved := testutil.MustSchema()
	st := store.NewMemory(resolved.Storage)
	return guard.New(resolved.Validation, st, testutil.NewTestLogger()), st
}

func requireValidationError(t *testing.T, err error, kind models.ValidationKind, field string) {
	t.Helper()
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, kind, verr.Kind)
	assert.Equal(t, field, verr.Field)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		rec   models.Record
		kind  models.ValidationKind
		field string
	}{
		{"missing required field", models.Record{"name": "Ada"}, models.ValidationRequired, "email"},
		{"regex violation", models.Record{"email": "not-an-email"}, models.ValidationRegex, "email"},
		{"wrong string type", models.Record{"email": 5}, models.ValidationTypeError, "email"},
		{"boolean out of range", models.Record{"email": "a@b.com", "isAdmin": 2}, models.ValidationTypeError, "isAdmin"},
		{"boolean wrong type", models.Record{"email": "a@b.com", "isAdmin": "yes"}, models.ValidationTypeError, "isAdmin"},
		{"number too large", models.Record{"email": "a@b.com", "age": 200}, models.ValidationMaxValue, "age"},
		{"number too small", models.Record{"email": "a@b.com", "age": -1}, models.ValidationMinValue, "age"},
		{"number wrong type", models.Record{"email": "a@b.com", "age": "old"}, models.ValidationTypeError, "age"},
		{"string too long", models.Record{"email": "a@b.com", "name": string(make([]byte, 101))}, models.ValidationMaxLength, "name"},
		{"string too short", models.Record{"email": "a@b.com", "name": ""}, models.ValidationMinLength, "name"},
		{"unknown key", models.Record{"email": "a@b.com", "nickname": "A"}, models.ValidationUnknownKey, "nickname"},
		{"to-many not an array", models.Record{"email": "a@b.com", "orders": "o-1"}, models.ValidationToMany, "orders"},
		{"to-many non-string element", models.Record{"email": "a@b.com", "orders": []any{"o-1", 2}}, models.ValidationToMany, "orders"},
		{"to-one array value", models.Record{"email": "a@b.com", "client": []any{"c-1"}}, models.ValidationToOne, "client"},
		{"to-one non-string", models.Record{"email": "a@b.com", "client": 7}, models.ValidationToOne, "client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGuard(t)
			_, err := g.Create(ctx, "User", tt.rec)
			requireValidationError(t, err, tt.kind, tt.field)
		})
	}
}

func TestCreateAccepts(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		rec  models.Record
	}{
		{"required only", models.Record{"email": "a@b.com"}},
		{"optional absent stays absent", models.Record{"email": "a@b.com", "name": nil}},
		{"boolean zero", models.Record{"email": "a@b.com", "isAdmin": 0}},
		{"boolean one", models.Record{"email": "a@b.com", "isAdmin": 1}},
		{"nil relationship", models.Record{"email": "a@b.com", "client": nil, "orders": nil}},
		{"to-many strings", models.Record{"email": "a@b.com", "orders": []any{"o-1", "o-2"}}},
		{"to-one string", models.Record{"email": "a@b.com", "client": "c-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGuard(t)
			_, err := g.Create(ctx, "User", tt.rec)
			require.NoError(t, err)
		})
	}
}

func TestDateValidation(t *testing.T) {
	ctx := context.Background()

	valid := "2026-08-31T12:00:00.000Z"
	require.Len(t, valid, 24)

	t.Run("accepts 24-char ISO-8601", func(t *testing.T) {
		g, _ := newGuard(t)
		_, err := g.Create(ctx, "Order", models.Record{"total": 10, "placedAt": valid})
		require.NoError(t, err)
	})

	for name, value := range map[string]any{
		"wrong length":  "2026-08-31T12:00:00Z",
		"not parseable": "2026-13-99T12:00:00.000Z",
		"not a string":  1756641600,
		"28 characters": "2026-08-31T12:00:00.000+00:0",
	} {
		t.Run(name, func(t *testing.T) {
			g, _ := newGuard(t)
			_, err := g.Create(ctx, "Order", models.Record{"total": 10, "placedAt": value})
			requireValidationError(t, err, models.ValidationTypeError, "placedAt")
		})
	}
}

func TestCreateStampsBookkeeping(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t)

	rec, err := g.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.UUID(), "identifier is auto-generated")
	assert.Len(t, rec[models.FieldCreatedAt], 24)
	assert.Equal(t, rec[models.FieldCreatedAt], rec[models.FieldUpdatedAt])
	assert.Equal(t, 1, rec[models.FieldActive])
	assert.Equal(t, 1, rec[models.FieldDirty])
	assert.Nil(t, rec[models.FieldSyncRevision], "no revision until pulled")
}

func TestCreateKeepsSuppliedIdentifier(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t)

	rec, err := g.Create(ctx, "User", models.Record{"email": "a@b.com", models.FieldUUID: "fixed-id"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", rec.UUID())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("partial change-set skips required check", func(t *testing.T) {
		g, _ := newGuard(t)
		created, err := g.Create(ctx, "User", models.Record{"email": "a@b.com"})
		require.NoError(t, err)

		// No email in the change-set; required absence is not re-checked.
		updated, err := g.Update(ctx, "User", created.UUID(), models.Record{"name": "Ada"})
		require.NoError(t, err)
		assert.Equal(t, "Ada", updated["name"])
		assert.Equal(t, "a@b.com", updated["email"])
		assert.Equal(t, 1, updated[models.FieldDirty])
	})

	t.Run("present fields still validated", func(t *testing.T) {
		g, _ := newGuard(t)
		created, err := g.Create(ctx, "User", models.Record{"email": "a@b.com"})
		require.NoError(t, err)

		_, err = g.Update(ctx, "User", created.UUID(), models.Record{"email": "nope"})
		requireValidationError(t, err, models.ValidationRegex, "email")
	})

	t.Run("identifier is immutable", func(t *testing.T) {
		g, _ := newGuard(t)
		created, err := g.Create(ctx, "User", models.Record{"email": "a@b.com"})
		require.NoError(t, err)

		updated, err := g.Update(ctx, "User", created.UUID(), models.Record{"name": "Ada"})
		require.NoError(t, err)
		assert.Equal(t, created.UUID(), updated.UUID())
	})

	t.Run("missing record", func(t *testing.T) {
		g, _ := newGuard(t)
		_, err := g.Update(ctx, "User", "ghost", models.Record{"name": "Ada"})
		require.ErrorIs(t, err, models.ErrRecordNotFound)
	})
}

func TestDeleteSoftDeletes(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t)

	created, err := g.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)

	require.NoError(t, g.Delete(ctx, "User", created.UUID()))

	rec, err := g.Get(ctx, "User", created.UUID())
	require.NoError(t, err)
	n, _ := models.NumericValue(rec[models.FieldActive])
	assert.Equal(t, float64(0), n, "row remains with active=0")
	assert.True(t, rec.Dirty(), "deletion propagates on next push")
}

func TestMergePullBypassesGuard(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t)

	// The merged record would fail validation (bad email) and carries
	// its own bookkeeping; everything is trusted verbatim except the
	// dirty flag.
	server := models.Record{
		models.FieldUUID:         "srv-1",
		models.FieldActive:       1,
		models.FieldCreatedAt:    "2026-01-01T00:00:00.000Z",
		models.FieldUpdatedAt:    "2026-01-02T00:00:00.000Z",
		models.FieldDirty:        1, // server should never send this, but it must not survive
		models.FieldSyncRevision: 7,
		"email":                  "not-an-email",
	}

	require.NoError(t, g.MergePull(ctx, map[string][]models.Record{"User": {server}}))

	rec, err := g.Get(ctx, "User", "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "not-an-email", rec["email"])
	assert.Equal(t, "2026-01-01T00:00:00.000Z", rec[models.FieldCreatedAt])
	assert.False(t, rec.Dirty(), "merged rows are never dirty")
	assert.Equal(t, int64(7), rec.SyncRevision())
}

func TestMergePullUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	g, st := newGuard(t)

	batch := map[string][]models.Record{
		"Client": {{models.FieldUUID: "c-1", "name": "Acme", models.FieldSyncRevision: 5}},
	}
	require.NoError(t, g.MergePull(ctx, batch))
	require.NoError(t, g.MergePull(ctx, batch))

	var rows []models.Record
	require.NoError(t, st.View(ctx, func(tx store.ReadTx) error {
		var err error
		rows, err = tx.List("Client")
		return err
	}))
	require.Len(t, rows, 1, "applying the same pull twice must not duplicate")
	assert.Equal(t, int64(5), rows[0].SyncRevision())
}

func TestDirtyRowsAndMarkPushed(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t)

	created, err := g.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)

	dirty, err := g.DirtyRows(ctx)
	require.NoError(t, err)
	require.Contains(t, dirty, "User")
	assert.NotContains(t, dirty, "Client", "entities without dirty rows are omitted")

	require.NoError(t, g.MarkPushed(ctx, dirty))

	dirty, err = g.DirtyRows(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	rec, err := g.Get(ctx, "User", created.UUID())
	require.NoError(t, err)
	assert.False(t, rec.Dirty())
}

func TestMarkPushedSkipsRowsUpdatedMeanwhile(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	g.SetNowFunc(func() time.Time { return now })

	created, err := g.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err)

	// Snapshot taken for a push; while the request is in flight, the
	// record changes again.
	snapshot, err := g.DirtyRows(ctx)
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = g.Update(ctx, "User", created.UUID(), models.Record{"name": "Ada"})
	require.NoError(t, err)

	require.NoError(t, g.MarkPushed(ctx, snapshot))

	rec, err := g.Get(ctx, "User", created.UUID())
	require.NoError(t, err)
	assert.True(t, rec.Dirty(), "values newer than the snapshot still await push")
	assert.Equal(t, "Ada", rec["name"])
}

func TestUnknownEntity(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t)

	_, err := g.Create(ctx, "Ghost", models.Record{})
	require.ErrorIs(t, err, models.ErrUnknownEntity)
}

func TestScenarioUserEmail(t *testing.T) {
	// Entity User has required regex-constrained email and optional
	// name bounded 1..100.
	ctx := context.Background()
	g, _ := newGuard(t)

	_, err := g.Create(ctx, "User", models.Record{"email": "a@b.com"})
	require.NoError(t, err, "name may be absent")

	_, err = g.Create(ctx, "User", models.Record{"email": "not-an-email"})
	requireValidationError(t, err, models.ValidationRegex, "email")
}
