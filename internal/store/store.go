// Package store holds the embedded replica: table-scoped CRUD over
// entity tables, index queries, and a change-notification stream that
// fires once per committed write transaction.
//
// Application code never writes here directly; every write path goes
// through the guard package.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/spinneyio/lambdaconnect-go/internal/models"
)

// ReadTx is the read-only view handed to view-model binding functions.
type ReadTx interface {
	// Get returns one record by external identifier.
	// Returns models.ErrRecordNotFound when absent.
	Get(entity, uuid string) (models.Record, error)

	// List returns every record of an entity.
	List(entity string) ([]models.Record, error)

	// Find returns records whose field equals value.
	Find(entity, field string, value any) ([]models.Record, error)

	// Dirty returns records marked for the next push.
	Dirty(entity string) ([]models.Record, error)

	// MaxRevision returns the highest server-assigned sync revision
	// observed for an entity, or 0 when none was ever pulled.
	MaxRevision(entity string) (int64, error)
}

// Tx extends ReadTx with writes. Put is a raw upsert by identifier;
// all bookkeeping is the guard's responsibility.
type Tx interface {
	ReadTx
	Put(entity string, rec models.Record) error
}

// Store is the embedded storage engine contract.
type Store interface {
	View(ctx context.Context, fn func(ReadTx) error) error
	Update(ctx context.Context, fn func(Tx) error) error

	// Subscribe registers a listener for batches of changed table
	// names; the returned function unregisters it. Listeners run
	// synchronously after commit, in registration order.
	Subscribe(fn func(changed []string)) func()

	// Tables returns the entity table names, sorted.
	Tables() []string

	// Truncate removes every row from every table.
	Truncate(ctx context.Context) error

	Close() error
}

// notifyHub implements the shared Subscribe bookkeeping.
type notifyHub struct {
	mu   sync.Mutex
	next int
	subs map[int]func(changed []string)
}

func newNotifyHub() *notifyHub {
	return &notifyHub{subs: map[int]func([]string){}}
}

func (h *notifyHub) subscribe(fn func(changed []string)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// publish fans a committed change batch out to listeners. Empty
// batches are suppressed. The listener list is snapshotted so a
// listener may unsubscribe (or subscribe) during delivery.
func (h *notifyHub) publish(changed map[string]bool) {
	if len(changed) == 0 {
		return
	}
	tables := make([]string, 0, len(changed))
	for t := range changed {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	h.mu.Lock()
	snapshot := make([]func([]string), 0, len(h.subs))
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		snapshot = append(snapshot, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range snapshot {
		fn(tables)
	}
}
