package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spinneyio/lambdaconnect-go/internal/events"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
)

// SQLiteStore keeps the local replica in a SQLite database, one table
// per entity. The full record is stored as a JSON document; the
// bookkeeping fields the sync engine queries on (dirty flag, sync
// revision) are extracted into real columns, and indexed attributes
// get json_extract expression indexes.
type SQLiteStore struct {
	db     *sql.DB
	hub    *notifyHub
	logger *events.Logger

	tables map[string]bool
	order  []string

	mu     sync.Mutex // serializes write transactions
	closed bool
}

// NewSQLite opens (or creates) the replica database and derives its
// tables and indexes from the storage schema.
func NewSQLite(path string, schema *models.StorageSchema, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_fk=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		hub:    newNotifyHub(),
		logger: logger.WithField("component", "sqlite_store"),
		tables: map[string]bool{},
	}

	if err := s.initialize(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initialize(schema *models.StorageSchema) error {
	for _, table := range schema.Tables {
		s.tables[table.Name] = true
		s.order = append(s.order, table.Name)

		ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            uuid TEXT PRIMARY KEY,
            data TEXT NOT NULL,
            active INTEGER NOT NULL DEFAULT 1,
            dirty INTEGER NOT NULL DEFAULT 0,
            sync_revision INTEGER
        );
        CREATE INDEX IF NOT EXISTS %s ON %s(dirty);
        CREATE INDEX IF NOT EXISTS %s ON %s(sync_revision);
        `,
			quoteIdent(table.Name),
			quoteIdent("idx_"+table.Name+"_dirty"), quoteIdent(table.Name),
			quoteIdent("idx_"+table.Name+"_revision"), quoteIdent(table.Name),
		)

		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("create table %s: %w", table.Name, err)
		}

		for _, idx := range table.Indexes {
			// To-many relationship values are JSON arrays; the
			// expression index still serves equality scans on the
			// serialized value and keeps the derived schema faithful.
			stmt := fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s(json_extract(data, %s))",
				quoteIdent("idx_"+table.Name+"_"+idx.Field),
				quoteIdent(table.Name),
				quoteString("$."+idx.Field),
			)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("create index on %s.%s: %w", table.Name, idx.Field, err)
			}
		}
	}

	s.logger.WithField("tables", len(s.order)).Debug("Replica schema ready")
	return nil
}

// Tables returns entity table names in schema order.
func (s *SQLiteStore) Tables() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Subscribe registers a committed-change listener.
func (s *SQLiteStore) Subscribe(fn func(changed []string)) func() {
	return s.hub.subscribe(fn)
}

// View runs a read-only transaction.
func (s *SQLiteStore) View(ctx context.Context, fn func(ReadTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(&sqliteTx{store: s, tx: tx, ctx: ctx})
}

// Update runs a write transaction; on commit, one batch of changed
// table names is published to subscribers.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("begin transaction: %w", err)
	}

	stx := &sqliteTx{store: s, tx: tx, ctx: ctx, changed: map[string]bool{}}
	if err := fn(stx); err != nil {
		_ = tx.Rollback()
		s.mu.Unlock()
		return err
	}

	if err := tx.Commit(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("commit: %w", err)
	}
	s.mu.Unlock()

	// Listeners run outside the write mutex so they may issue writes of
	// their own.
	s.hub.publish(stx.changed)
	return nil
}

// Truncate deletes every row from every table.
func (s *SQLiteStore) Truncate(ctx context.Context) error {
	return s.Update(ctx, func(tx Tx) error {
		stx := tx.(*sqliteTx)
		for _, table := range s.order {
			if _, err := stx.tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
				return fmt.Errorf("truncate %s: %w", table, err)
			}
			stx.changed[table] = true
		}
		return nil
	})
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// sqliteTx implements ReadTx/Tx over one sql.Tx.
type sqliteTx struct {
	store   *SQLiteStore
	tx      *sql.Tx
	ctx     context.Context
	changed map[string]bool // nil for read-only transactions
}

func (t *sqliteTx) checkEntity(entity string) error {
	if !t.store.tables[entity] {
		return fmt.Errorf("%w: %s", models.ErrUnknownEntity, entity)
	}
	return nil
}

func (t *sqliteTx) Get(entity, uuid string) (models.Record, error) {
	if err := t.checkEntity(entity); err != nil {
		return nil, err
	}

	var data string
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT data FROM "+quoteIdent(entity)+" WHERE uuid = ?", uuid,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}

	return decodeRecord(data)
}

func (t *sqliteTx) List(entity string) ([]models.Record, error) {
	if err := t.checkEntity(entity); err != nil {
		return nil, err
	}
	return t.queryRecords("SELECT data FROM " + quoteIdent(entity) + " ORDER BY uuid")
}

func (t *sqliteTx) Find(entity, field string, value any) ([]models.Record, error) {
	if err := t.checkEntity(entity); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT data FROM %s WHERE json_extract(data, %s) = ? ORDER BY uuid",
		quoteIdent(entity), quoteString("$."+field))
	return t.queryRecords(query, value)
}

func (t *sqliteTx) Dirty(entity string) ([]models.Record, error) {
	if err := t.checkEntity(entity); err != nil {
		return nil, err
	}
	return t.queryRecords("SELECT data FROM " + quoteIdent(entity) + " WHERE dirty = 1 ORDER BY uuid")
}

func (t *sqliteTx) MaxRevision(entity string) (int64, error) {
	if err := t.checkEntity(entity); err != nil {
		return 0, err
	}

	var rev sql.NullInt64
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT MAX(sync_revision) FROM "+quoteIdent(entity),
	).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("query max revision for %s: %w", entity, err)
	}
	return rev.Int64, nil
}

func (t *sqliteTx) Put(entity string, rec models.Record) error {
	if t.changed == nil {
		return fmt.Errorf("put %s in read-only transaction", entity)
	}
	if err := t.checkEntity(entity); err != nil {
		return err
	}

	uuid := rec.UUID()
	if uuid == "" {
		return fmt.Errorf("put %s: record has no identifier", entity)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", entity, err)
	}

	active := int64(1)
	if n, ok := models.NumericValue(rec[models.FieldActive]); ok {
		active = int64(n)
	}
	dirty := int64(0)
	if rec.Dirty() {
		dirty = 1
	}
	var revision sql.NullInt64
	if n, ok := models.NumericValue(rec[models.FieldSyncRevision]); ok {
		revision = sql.NullInt64{Int64: int64(n), Valid: true}
	}

	_, err = t.tx.ExecContext(t.ctx, `
        INSERT INTO `+quoteIdent(entity)+` (uuid, data, active, dirty, sync_revision)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(uuid) DO UPDATE SET
            data = excluded.data,
            active = excluded.active,
            dirty = excluded.dirty,
            sync_revision = excluded.sync_revision
    `, uuid, string(data), active, dirty, revision)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", entity, err)
	}

	t.changed[entity] = true
	return nil
}

func (t *sqliteTx) queryRecords(query string, args ...any) ([]models.Record, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeRecord(data string) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
