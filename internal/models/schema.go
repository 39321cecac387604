package models

import "regexp"

// AttrType is the semantic type of an attribute.
type AttrType string

const (
	AttrBoolean AttrType = "boolean"
	AttrNumber  AttrType = "number"
	AttrString  AttrType = "string"
	AttrDate    AttrType = "date"
)

// Attribute describes one validated field of an entity.
type Attribute struct {
	Name     string  `json:"name"`
	Type     AttrType `json:"type"`
	Optional bool    `json:"optional"`
	Indexed  bool    `json:"indexed"`

	// Numeric bounds, set only for number-typed attributes.
	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`

	// Length bounds, set only for string-typed attributes.
	MinLength *int `json:"min_length,omitempty"`
	MaxLength *int `json:"max_length,omitempty"`

	// Pattern constraint, checked against the value's string form.
	Regex *regexp.Regexp `json:"-"`
	// RegexSource keeps the pattern text so schemas marshal stably.
	RegexSource string `json:"regex,omitempty"`
}

// Relationship describes a denormalized link to another entity. The
// value stored on the owning record is a destination identifier (or an
// array of identifiers when ToMany is set), never a join table.
type Relationship struct {
	Name        string `json:"name"`
	Destination string `json:"destination"`
	ToMany      bool   `json:"to_many"`
	Optional    bool   `json:"optional"`
}

// Entity is one table of the validation schema.
type Entity struct {
	Name     string `json:"name"`
	Syncable bool   `json:"syncable"`

	// Attrs and Rels are keyed by field name; AttrOrder/RelOrder keep
	// the canonical (sorted) ordering used for hashing.
	Attrs     map[string]*Attribute    `json:"-"`
	Rels      map[string]*Relationship `json:"-"`
	AttrOrder []*Attribute             `json:"attributes"`
	RelOrder  []*Relationship          `json:"relationships"`
}

// ValidationSchema maps entity name to its validation rules.
type ValidationSchema struct {
	Entities map[string]*Entity `json:"-"`
	Order    []*Entity          `json:"entities"`
}

// SyncableEntities returns the names of syncable entities in canonical order.
func (s *ValidationSchema) SyncableEntities() []string {
	var names []string
	for _, e := range s.Order {
		if e.Syncable {
			names = append(names, e.Name)
		}
	}
	return names
}

// TableSchema is the storage-level shape of one entity table.
type TableSchema struct {
	Name string `json:"name"`
	// Indexes lists attribute and relationship fields that get a
	// secondary index. To-many relationship fields are array-indexed.
	Indexes []IndexSchema `json:"indexes"`
}

// IndexSchema describes one secondary index.
type IndexSchema struct {
	Field string `json:"field"`
	Multi bool   `json:"multi,omitempty"` // array-indexed (to-many relationship)
}

// StorageSchema is the derived shape of the whole local store. Tables
// are kept in canonical (sorted) order so the schema hash is stable.
type StorageSchema struct {
	Tables []TableSchema `json:"tables"`
}

// Schema bundles both translation outputs.
type Schema struct {
	Validation *ValidationSchema
	Storage    *StorageSchema
	// Hash is the SHA-256 of the canonical storage schema, used for
	// version-change detection on initialization.
	Hash string
}
