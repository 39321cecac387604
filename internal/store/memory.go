package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spinneyio/lambdaconnect-go/internal/models"
)

// MemStore is an in-memory Store used by tests and by callers that do
// not need persistence across restarts.
type MemStore struct {
	hub   *notifyHub
	order []string

	mu     sync.RWMutex
	data   map[string]map[string]models.Record // entity -> uuid -> record
	closed bool
}

// NewMemory creates a memory store with tables derived from the
// storage schema.
func NewMemory(schema *models.StorageSchema) *MemStore {
	s := &MemStore{
		hub:  newNotifyHub(),
		data: map[string]map[string]models.Record{},
	}
	for _, table := range schema.Tables {
		s.data[table.Name] = map[string]models.Record{}
		s.order = append(s.order, table.Name)
	}
	return s
}

func (s *MemStore) Tables() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *MemStore) Subscribe(fn func(changed []string)) func() {
	return s.hub.subscribe(fn)
}

func (s *MemStore) View(ctx context.Context, fn func(ReadTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.ErrStoreClosed
	}
	return fn(&memTx{store: s})
}

func (s *MemStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.ErrStoreClosed
	}

	tx := &memTx{store: s, staged: map[string]map[string]models.Record{}, changed: map[string]bool{}}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}

	for entity, recs := range tx.staged {
		for uuid, rec := range recs {
			s.data[entity][uuid] = rec
		}
	}
	s.mu.Unlock()

	s.hub.publish(tx.changed)
	return nil
}

func (s *MemStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	changed := map[string]bool{}
	for entity, recs := range s.data {
		if len(recs) > 0 {
			changed[entity] = true
		}
		s.data[entity] = map[string]models.Record{}
	}
	s.mu.Unlock()

	s.hub.publish(changed)
	return nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memTx stages writes until commit. Reads see staged rows first.
type memTx struct {
	store   *MemStore
	staged  map[string]map[string]models.Record // nil for read-only
	changed map[string]bool
}

func (t *memTx) checkEntity(entity string) error {
	if _, ok := t.store.data[entity]; !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownEntity, entity)
	}
	return nil
}

func (t *memTx) Get(entity, uuid string) (models.Record, error) {
	if err := t.checkEntity(entity); err != nil {
		return nil, err
	}
	if t.staged != nil {
		if rec, ok := t.staged[entity][uuid]; ok {
			return rec.Clone(), nil
		}
	}
	if rec, ok := t.store.data[entity][uuid]; ok {
		return rec.Clone(), nil
	}
	return nil, models.ErrRecordNotFound
}

func (t *memTx) List(entity string) ([]models.Record, error) {
	return t.collect(entity, func(models.Record) bool { return true })
}

func (t *memTx) Find(entity, field string, value any) ([]models.Record, error) {
	return t.collect(entity, func(rec models.Record) bool {
		return valueEqual(rec[field], value)
	})
}

func (t *memTx) Dirty(entity string) ([]models.Record, error) {
	return t.collect(entity, func(rec models.Record) bool { return rec.Dirty() })
}

func (t *memTx) MaxRevision(entity string) (int64, error) {
	recs, err := t.List(entity)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, rec := range recs {
		if rev := rec.SyncRevision(); rev > max {
			max = rev
		}
	}
	return max, nil
}

func (t *memTx) Put(entity string, rec models.Record) error {
	if t.staged == nil {
		return fmt.Errorf("put %s in read-only transaction", entity)
	}
	if err := t.checkEntity(entity); err != nil {
		return err
	}
	uuid := rec.UUID()
	if uuid == "" {
		return fmt.Errorf("put %s: record has no identifier", entity)
	}

	if t.staged[entity] == nil {
		t.staged[entity] = map[string]models.Record{}
	}
	t.staged[entity][uuid] = rec.Clone()
	t.changed[entity] = true
	return nil
}

func (t *memTx) collect(entity string, keep func(models.Record) bool) ([]models.Record, error) {
	if err := t.checkEntity(entity); err != nil {
		return nil, err
	}

	merged := map[string]models.Record{}
	for uuid, rec := range t.store.data[entity] {
		merged[uuid] = rec
	}
	if t.staged != nil {
		for uuid, rec := range t.staged[entity] {
			merged[uuid] = rec
		}
	}

	uuids := make([]string, 0, len(merged))
	for uuid := range merged {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	var out []models.Record
	for _, uuid := range uuids {
		if keep(merged[uuid]) {
			out = append(out, merged[uuid].Clone())
		}
	}
	return out, nil
}

// valueEqual compares a stored value with a query value, tolerating
// the numeric type drift JSON decoding introduces.
func valueEqual(a, b any) bool {
	if an, ok := models.NumericValue(a); ok {
		if bn, ok := models.NumericValue(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}
