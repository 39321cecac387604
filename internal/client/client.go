// Package client composes the synchronization engine into the
// database facade application code consumes: open/close lifecycle,
// schema-version check, guarded writes, view-model binding, and sync
// scheduling.
package client

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spinneyio/lambdaconnect-go/internal/config"
	"github.com/spinneyio/lambdaconnect-go/internal/events"
	"github.com/spinneyio/lambdaconnect-go/internal/guard"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/schema"
	"github.com/spinneyio/lambdaconnect-go/internal/store"
	"github.com/spinneyio/lambdaconnect-go/internal/syncer"
	"github.com/spinneyio/lambdaconnect-go/internal/transport"
	"github.com/spinneyio/lambdaconnect-go/internal/view"
)

// DBStatus is the facade's lifecycle state.
type DBStatus string

const (
	StatusUninitialized  DBStatus = "uninitialized"
	StatusSchemaResolved DBStatus = "schema_resolved"
	StatusOnline         DBStatus = "online"
	StatusError          DBStatus = "initialization_error"
)

// InitOptions tune one Initialize call.
type InitOptions struct {
	// Truncate wipes the local replica before opening, regardless of
	// schema hash.
	Truncate bool
}

// Client is the database facade.
type Client struct {
	cfg       *config.Config
	logger    *events.Logger
	transport transport.Transport
	hashSlot  *HashSlot

	// openStore builds the embedded store for a derived schema. Tests
	// swap in an in-memory implementation.
	openStore func(*models.StorageSchema) (store.Store, error)

	mu       sync.Mutex
	status   DBStatus
	initErr  error
	schema   *models.Schema
	store    store.Store
	guard    *guard.Guard
	syncer   *syncer.Manager
	registry *view.Registry
	notifier *view.Notifier
	unwatch  func()
	stopAuto context.CancelFunc
	autoDone chan struct{}
}

// New creates a facade with the default HTTP transport and SQLite
// store.
func New(cfg *config.Config, logger *events.Logger) *Client {
	c := NewWithTransport(cfg, transport.New(&cfg.API, logger), logger)
	return c
}

// NewWithTransport creates a facade over a caller-supplied transport.
func NewWithTransport(cfg *config.Config, t transport.Transport, logger *events.Logger) *Client {
	c := &Client{
		cfg:       cfg,
		logger:    logger.WithField("component", "database"),
		transport: t,
		hashSlot:  NewHashSlot(cfg.Storage.StateDir),
		status:    StatusUninitialized,
	}
	c.openStore = func(s *models.StorageSchema) (store.Store, error) {
		return store.NewSQLite(cfg.Storage.DatabaseFile, s, logger)
	}
	return c
}

// SetStoreOpener replaces the store factory (used by tests and by
// callers that want a purely in-memory replica).
func (c *Client) SetStoreOpener(open func(*models.StorageSchema) (store.Store, error)) {
	c.openStore = open
}

// Status returns the lifecycle state and, in the error state, the
// initialization failure.
func (c *Client) Status() (DBStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.initErr
}

// Initialize runs the open sequence: fetch schema, check the persisted
// schema hash (destructive truncate on mismatch), open storage with
// the derived tables and indexes, wire the guard and the change
// listener, and bind the view-model registry. Any failure lands in the
// error state; initialization does not retry on its own.
func (c *Client) Initialize(ctx context.Context, registry *view.Registry, external view.ExternalSource, opts InitOptions) error {
	c.mu.Lock()
	if c.status == StatusOnline {
		c.mu.Unlock()
		return fmt.Errorf("database already online")
	}
	c.mu.Unlock()

	fail := func(stage string, err error) error {
		open := &models.OpenError{Stage: stage, Err: err}
		c.mu.Lock()
		c.status = StatusError
		c.initErr = open
		c.mu.Unlock()
		c.logger.WithError(open).Error("Initialization failed")
		return open
	}

	// Fetch and translate the server's data model.
	var modelResp models.ModelResponse
	if err := c.transport.GetJSON(ctx, c.cfg.API.DataModelPath, &modelResp); err != nil {
		return fail("fetch-schema", err)
	}
	resolved, err := schema.Translate([]byte(modelResp.Model))
	if err != nil {
		return fail("translate", err)
	}

	c.mu.Lock()
	c.schema = resolved
	c.status = StatusSchemaResolved
	c.mu.Unlock()

	// Schema-change detection: a differing hash deletes the whole
	// replica. No partial migration, on purpose.
	storedHash, err := c.hashSlot.Load()
	if err != nil {
		return fail("open-store", err)
	}
	wipe := opts.Truncate
	if storedHash != "" && storedHash != resolved.Hash {
		c.logger.WithFields(map[string]any{
			"stored": storedHash,
			"new":    resolved.Hash,
		}).Warn("Schema hash changed, rebuilding local replica")
		wipe = true
	}
	if wipe {
		if err := c.dropReplica(); err != nil {
			return fail("truncate", err)
		}
	}

	st, err := c.openStore(resolved.Storage)
	if err != nil {
		return fail("open-store", err)
	}
	if err := c.hashSlot.Save(resolved.Hash); err != nil {
		st.Close()
		return fail("open-store", err)
	}

	g := guard.New(resolved.Validation, st, c.logger)
	sm := syncer.New(c.transport, g, &c.cfg.API, &c.cfg.Sync, c.logger)

	notifier := view.NewNotifier(registry, c.logger)
	unwatch := st.Subscribe(notifier.OnCommit)

	c.mu.Lock()
	c.store = st
	c.guard = g
	c.syncer = sm
	c.registry = registry
	c.notifier = notifier
	c.unwatch = unwatch
	c.status = StatusOnline
	c.initErr = nil
	c.mu.Unlock()

	registry.Initialize(c, external)

	c.logger.WithField("entities", len(resolved.Validation.Order)).Info("Database online")
	return nil
}

// dropReplica deletes the local database file together with the WAL
// sidecars an unclean shutdown can leave behind; a surviving WAL would
// be replayed against the freshly created file. In-memory stores have
// nothing on disk, which is fine: the factory builds them empty.
func (c *Client) dropReplica() error {
	base := c.cfg.Storage.DatabaseFile
	for _, path := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete replica: %w", err)
		}
	}
	return c.hashSlot.Clear()
}

// online returns the components guarded by the online state.
func (c *Client) online() (*guard.Guard, *syncer.Manager, store.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOnline {
		return nil, nil, nil, models.ErrNotOnline
	}
	return c.guard, c.syncer, c.store, nil
}

// Schema returns the resolved schema, or nil before resolution.
func (c *Client) Schema() *models.Schema {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schema
}

// Registry returns the bound view-model registry.
func (c *Client) Registry() *view.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry
}

// Create persists a new record through the write guard.
func (c *Client) Create(ctx context.Context, entity string, rec models.Record) (models.Record, error) {
	g, _, _, err := c.online()
	if err != nil {
		return nil, err
	}
	return g.Create(ctx, entity, rec)
}

// Update applies a partial change-set through the write guard.
func (c *Client) Update(ctx context.Context, entity, id string, changes models.Record) (models.Record, error) {
	g, _, _, err := c.online()
	if err != nil {
		return nil, err
	}
	return g.Update(ctx, entity, id, changes)
}

// Delete soft-deletes a record.
func (c *Client) Delete(ctx context.Context, entity, id string) error {
	g, _, _, err := c.online()
	if err != nil {
		return err
	}
	return g.Delete(ctx, entity, id)
}

// Get reads one record.
func (c *Client) Get(ctx context.Context, entity, id string) (models.Record, error) {
	g, _, _, err := c.online()
	if err != nil {
		return nil, err
	}
	return g.Get(ctx, entity, id)
}

// View runs a read-only transaction; this is the storage handle view
// model bindings receive.
func (c *Client) View(ctx context.Context, fn func(store.ReadTx) error) error {
	_, _, st, err := c.online()
	if err != nil {
		return err
	}
	return st.View(ctx, fn)
}

// Sync runs one push-then-pull cycle.
func (c *Client) Sync(ctx context.Context, opts syncer.Options) (*syncer.Result, error) {
	_, sm, _, err := c.online()
	if err != nil {
		return nil, err
	}
	return sm.Sync(ctx, opts)
}

// SyncInProgress reports whether a cycle is running.
func (c *Client) SyncInProgress() bool {
	c.mu.Lock()
	sm := c.syncer
	c.mu.Unlock()
	return sm != nil && sm.InProgress()
}

// SetToken installs the session bearer token.
func (c *Client) SetToken(token string) {
	c.transport.SetToken(token)
}

// SignOut clears the token and optionally wipes the local replica.
func (c *Client) SignOut(ctx context.Context, truncate bool) error {
	c.transport.SetToken("")
	if !truncate {
		return nil
	}
	_, _, st, err := c.online()
	if err != nil {
		return err
	}

	// Freeze reloads while the replica empties, then refresh every
	// mounted view model once.
	c.notifier.Freeze()
	err = st.Truncate(ctx)
	c.notifier.Unfreeze()
	if err != nil {
		return err
	}
	c.registry.NotifyTables(st.Tables())
	return nil
}

// FreezeChanges suppresses reactive reloads; UnfreezeChanges restores
// them.
func (c *Client) FreezeChanges() {
	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n != nil {
		n.Freeze()
	}
}

func (c *Client) UnfreezeChanges() {
	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n != nil {
		n.Unfreeze()
	}
}

// Close stops background work and releases the store and transport.
func (c *Client) Close() error {
	c.StopAutoSync()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unwatch != nil {
		c.unwatch()
		c.unwatch = nil
	}
	if c.registry != nil {
		c.registry.Close()
	}

	var err error
	if c.store != nil {
		err = c.store.Close()
		c.store = nil
	}
	if terr := c.transport.Close(); err == nil {
		err = terr
	}
	c.status = StatusUninitialized
	return err
}
