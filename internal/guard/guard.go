// Package guard wraps the store's write path. Every local create,
// update, or delete is validated against the validation schema and
// stamped with bookkeeping fields before it reaches a table; records
// merged from the server bypass validation and stamping, and have the
// dirty flag forced off instead.
package guard

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spinneyio/lambdaconnect-go/internal/events"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/store"
)

// timestampLayout is the 24-character ISO-8601 form used for date
// attributes and bookkeeping timestamps.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Guard is the guarded table interface over a store.
type Guard struct {
	schema *models.ValidationSchema
	store  store.Store
	logger *events.Logger

	// test seams
	now   func() time.Time
	newID func() string
}

// New creates a guard over a store.
func New(schema *models.ValidationSchema, st store.Store, logger *events.Logger) *Guard {
	return &Guard{
		schema: schema,
		store:  st,
		logger: logger.WithField("component", "write_guard"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create validates and persists a new record. On success the stored
// record is returned with identifier, timestamps, active flag, and
// dirty flag populated.
func (g *Guard) Create(ctx context.Context, entity string, rec models.Record) (models.Record, error) {
	ent, ok := g.schema.Entities[entity]
	if !ok {
		return nil, models.ErrUnknownEntity
	}

	if err := validateCreate(ent, rec); err != nil {
		return nil, err
	}

	stamped := rec.Clone()
	if stamped.UUID() == "" {
		stamped[models.FieldUUID] = g.newID()
	}
	now := g.now().UTC().Format(timestampLayout)
	stamped[models.FieldCreatedAt] = now
	stamped[models.FieldUpdatedAt] = now
	if _, ok := models.NumericValue(stamped[models.FieldActive]); !ok {
		stamped[models.FieldActive] = 1
	}
	stamped[models.FieldDirty] = 1

	err := g.store.Update(ctx, func(tx store.Tx) error {
		return tx.Put(entity, stamped)
	})
	if err != nil {
		return nil, err
	}

	g.logger.WithFields(map[string]any{
		"entity": entity,
		"uuid":   stamped.UUID(),
	}).Debug("Record created")

	return stamped, nil
}

// Update validates a partial change-set and applies it to an existing
// record. Required-field absence is not re-checked; it was satisfied
// at creation time.
func (g *Guard) Update(ctx context.Context, entity, id string, changes models.Record) (models.Record, error) {
	ent, ok := g.schema.Entities[entity]
	if !ok {
		return nil, models.ErrUnknownEntity
	}

	if err := validateUpdate(ent, changes); err != nil {
		return nil, err
	}

	var updated models.Record
	err := g.store.Update(ctx, func(tx store.Tx) error {
		current, err := tx.Get(entity, id)
		if err != nil {
			return err
		}

		updated = current
		for k, v := range changes {
			updated[k] = v
		}
		updated[models.FieldUUID] = id // identifier is immutable
		updated[models.FieldUpdatedAt] = g.now().UTC().Format(timestampLayout)
		updated[models.FieldDirty] = 1

		return tx.Put(entity, updated)
	})
	if err != nil {
		return nil, err
	}

	g.logger.WithFields(map[string]any{
		"entity": entity,
		"uuid":   id,
	}).Debug("Record updated")

	return updated, nil
}

// Delete soft-deletes a record: the active flag drops to 0 and the
// row is dirtied so the deletion propagates on the next push.
func (g *Guard) Delete(ctx context.Context, entity, id string) error {
	_, err := g.Update(ctx, entity, id, models.Record{models.FieldActive: 0})
	return err
}

// Get reads a single record.
func (g *Guard) Get(ctx context.Context, entity, id string) (models.Record, error) {
	var rec models.Record
	err := g.store.View(ctx, func(tx store.ReadTx) error {
		var err error
		rec, err = tx.Get(entity, id)
		return err
	})
	return rec, err
}

// DirtyRows returns every syncable entity's rows awaiting push, keyed
// by entity name. Entities with no dirty rows are omitted.
func (g *Guard) DirtyRows(ctx context.Context) (map[string][]models.Record, error) {
	out := map[string][]models.Record{}
	err := g.store.View(ctx, func(tx store.ReadTx) error {
		for _, entity := range g.schema.SyncableEntities() {
			rows, err := tx.Dirty(entity)
			if err != nil {
				return err
			}
			if len(rows) > 0 {
				out[entity] = rows
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MaxRevisions returns the pull checkpoint for every syncable entity.
func (g *Guard) MaxRevisions(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	err := g.store.View(ctx, func(tx store.ReadTx) error {
		for _, entity := range g.schema.SyncableEntities() {
			rev, err := tx.MaxRevision(entity)
			if err != nil {
				return err
			}
			out[entity] = rev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MergePull upserts pulled record batches inside one transaction.
// This is the merge-tagged path: nothing is validated or stamped, the
// server-supplied field values are trusted verbatim, and the dirty
// flag is forced off on every row. Last pull wins.
func (g *Guard) MergePull(ctx context.Context, batches map[string][]models.Record) error {
	return g.store.Update(ctx, func(tx store.Tx) error {
		for entity, rows := range batches {
			if _, ok := g.schema.Entities[entity]; !ok {
				g.logger.WithField("entity", entity).Warn("Pull contained unknown entity, skipping")
				continue
			}
			for _, row := range rows {
				merged := row.Clone()
				merged[models.FieldDirty] = 0
				if err := tx.Put(entity, merged); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// MarkPushed clears the dirty flag on rows the server accepted. Runs
// on the merge path so clearing does not re-dirty or re-stamp. A row
// updated after the push snapshot was taken keeps its flag: the newer
// values were never sent and must go out next cycle.
func (g *Guard) MarkPushed(ctx context.Context, pushed map[string][]models.Record) error {
	return g.store.Update(ctx, func(tx store.Tx) error {
		for entity, rows := range pushed {
			for _, row := range rows {
				current, err := tx.Get(entity, row.UUID())
				if err != nil {
					return err
				}
				if current[models.FieldUpdatedAt] != row[models.FieldUpdatedAt] {
					continue
				}
				current[models.FieldDirty] = 0
				if err := tx.Put(entity, current); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
