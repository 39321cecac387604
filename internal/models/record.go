package models

import "encoding/json"

// Bookkeeping fields stamped onto every record by the write guard
// (or carried verbatim on records merged from the server).
const (
	FieldUUID         = "uuid"
	FieldActive       = "active"
	FieldCreatedAt    = "createdAt"
	FieldUpdatedAt    = "updatedAt"
	FieldDirty        = "isSuitableForPush"
	FieldSyncRevision = "syncRevision"
)

// BookkeepingFields lists every field the guard manages itself.
var BookkeepingFields = map[string]bool{
	FieldUUID:         true,
	FieldActive:       true,
	FieldCreatedAt:    true,
	FieldUpdatedAt:    true,
	FieldDirty:        true,
	FieldSyncRevision: true,
}

// Record is a single row of an entity table. Values are JSON-shaped:
// numbers are float64, booleans are represented as numeric 0/1, dates
// are 24-character ISO-8601 strings.
type Record map[string]any

// Clone returns a shallow copy of the record. Values are JSON scalars
// or []any slices which callers must not mutate in place.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// UUID returns the record's external identifier, or "" if unset.
func (r Record) UUID() string {
	s, _ := r[FieldUUID].(string)
	return s
}

// SyncRevision returns the server-assigned revision, or 0 when the
// record was created locally and never pulled.
func (r Record) SyncRevision() int64 {
	n, _ := NumericValue(r[FieldSyncRevision])
	return int64(n)
}

// Dirty reports whether the record is marked for the next push.
func (r Record) Dirty() bool {
	n, _ := NumericValue(r[FieldDirty])
	return n != 0
}

// NumericValue normalizes the numeric representations a record value
// can arrive in (JSON decoding yields float64, local code may use Go
// integer types).
func NumericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
