// Package schema translates a server-delivered CoreData-style XML
// model document into the storage schema (tables, indexes) and the
// validation schema (types, constraints, relationship cardinalities)
// consumed by the rest of the client.
package schema

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/spinneyio/lambdaconnect-go/internal/models"
)

type xmlModel struct {
	XMLName  xml.Name    `xml:"model"`
	Entities []xmlEntity `xml:"entity"`
}

type xmlEntity struct {
	Name          string            `xml:"name,attr"`
	Syncable      string            `xml:"syncable,attr"`
	Attributes    []xmlAttribute    `xml:"attribute"`
	Relationships []xmlRelationship `xml:"relationship"`
}

type xmlAttribute struct {
	Name           string `xml:"name,attr"`
	AttributeType  string `xml:"attributeType,attr"`
	Optional       string `xml:"optional,attr"`
	Indexed        string `xml:"indexed,attr"`
	MinValueString string `xml:"minValueString,attr"`
	MaxValueString string `xml:"maxValueString,attr"`
	RegexString    string `xml:"regularExpressionString,attr"`
}

type xmlRelationship struct {
	Name              string `xml:"name,attr"`
	DestinationEntity string `xml:"destinationEntity,attr"`
	ToMany            string `xml:"toMany,attr"`
	Optional          string `xml:"optional,attr"`
}

// Translate converts a model document into both schema outputs plus
// the canonical schema hash. A malformed or empty document fails
// without returning anything partial.
func Translate(doc []byte) (*models.Schema, error) {
	var parsed xmlModel
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSchemaMalformed, err)
	}
	if len(parsed.Entities) == 0 {
		return nil, fmt.Errorf("%w: no entities", models.ErrSchemaMalformed)
	}

	validation := &models.ValidationSchema{Entities: map[string]*models.Entity{}}

	for _, xe := range parsed.Entities {
		if xe.Name == "" {
			return nil, fmt.Errorf("%w: entity without a name", models.ErrSchemaMalformed)
		}

		entity := &models.Entity{
			Name:     xe.Name,
			Syncable: yes(xe.Syncable),
			Attrs:    map[string]*models.Attribute{},
			Rels:     map[string]*models.Relationship{},
		}

		for _, xa := range xe.Attributes {
			attr, err := translateAttribute(xe.Name, xa)
			if err != nil {
				return nil, err
			}
			entity.Attrs[attr.Name] = attr
		}

		for _, xr := range xe.Relationships {
			if xr.Name == "" || xr.DestinationEntity == "" {
				return nil, fmt.Errorf("%w: entity %s has an incomplete relationship",
					models.ErrSchemaMalformed, xe.Name)
			}
			entity.Rels[xr.Name] = &models.Relationship{
				Name:        xr.Name,
				Destination: xr.DestinationEntity,
				ToMany:      yes(xr.ToMany),
				Optional:    yes(xr.Optional),
			}
		}

		canonicalize(entity)
		validation.Entities[entity.Name] = entity
	}

	names := make([]string, 0, len(validation.Entities))
	for name := range validation.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		validation.Order = append(validation.Order, validation.Entities[name])
	}

	storage := deriveStorage(validation)

	hash, err := Hash(storage)
	if err != nil {
		return nil, err
	}

	return &models.Schema{
		Validation: validation,
		Storage:    storage,
		Hash:       hash,
	}, nil
}

func translateAttribute(entity string, xa xmlAttribute) (*models.Attribute, error) {
	if xa.Name == "" {
		return nil, fmt.Errorf("%w: entity %s has an attribute without a name",
			models.ErrSchemaMalformed, entity)
	}

	attr := &models.Attribute{
		Name:     xa.Name,
		Optional: yes(xa.Optional),
		Indexed:  yes(xa.Indexed),
	}

	switch xa.AttributeType {
	case "Integer 16", "Integer 32", "Integer 64", "Double", "Float", "Decimal":
		attr.Type = models.AttrNumber
	case "String", "UUID", "URI":
		attr.Type = models.AttrString
	case "Boolean":
		attr.Type = models.AttrBoolean
	case "Date":
		attr.Type = models.AttrDate
	default:
		return nil, fmt.Errorf("%w: entity %s attribute %s has unknown type %q",
			models.ErrSchemaMalformed, entity, xa.Name, xa.AttributeType)
	}

	// Numeric bound attributes double as length bounds for strings.
	switch attr.Type {
	case models.AttrNumber:
		if xa.MinValueString != "" {
			v, err := strconv.ParseFloat(xa.MinValueString, 64)
			if err != nil {
				return nil, boundErr(entity, xa.Name, "minValueString", err)
			}
			attr.MinValue = &v
		}
		if xa.MaxValueString != "" {
			v, err := strconv.ParseFloat(xa.MaxValueString, 64)
			if err != nil {
				return nil, boundErr(entity, xa.Name, "maxValueString", err)
			}
			attr.MaxValue = &v
		}
	case models.AttrString:
		if xa.MinValueString != "" {
			v, err := strconv.Atoi(xa.MinValueString)
			if err != nil {
				return nil, boundErr(entity, xa.Name, "minValueString", err)
			}
			attr.MinLength = &v
		}
		if xa.MaxValueString != "" {
			v, err := strconv.Atoi(xa.MaxValueString)
			if err != nil {
				return nil, boundErr(entity, xa.Name, "maxValueString", err)
			}
			attr.MaxLength = &v
		}
	}

	if xa.RegexString != "" {
		re, err := regexp.Compile(xa.RegexString)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %s attribute %s has invalid regex: %v",
				models.ErrSchemaMalformed, entity, xa.Name, err)
		}
		attr.Regex = re
		attr.RegexSource = xa.RegexString
	}

	return attr, nil
}

// canonicalize sorts attribute and relationship order so identical
// documents always derive identical schemas regardless of map walking.
func canonicalize(e *models.Entity) {
	for _, a := range e.Attrs {
		e.AttrOrder = append(e.AttrOrder, a)
	}
	sort.Slice(e.AttrOrder, func(i, j int) bool { return e.AttrOrder[i].Name < e.AttrOrder[j].Name })

	for _, r := range e.Rels {
		e.RelOrder = append(e.RelOrder, r)
	}
	sort.Slice(e.RelOrder, func(i, j int) bool { return e.RelOrder[i].Name < e.RelOrder[j].Name })
}

// deriveStorage computes the per-entity table layout: bookkeeping
// fields always exist, every relationship field is indexed (to-many
// relationships array-indexed), and attributes flagged as indexed get
// a secondary index.
func deriveStorage(v *models.ValidationSchema) *models.StorageSchema {
	storage := &models.StorageSchema{}

	for _, entity := range v.Order {
		table := models.TableSchema{Name: entity.Name}

		for _, attr := range entity.AttrOrder {
			if attr.Indexed {
				table.Indexes = append(table.Indexes, models.IndexSchema{Field: attr.Name})
			}
		}
		for _, rel := range entity.RelOrder {
			table.Indexes = append(table.Indexes, models.IndexSchema{
				Field: rel.Name,
				Multi: rel.ToMany,
			})
		}

		storage.Tables = append(storage.Tables, table)
	}

	return storage
}

func yes(attr string) bool {
	return attr == "YES" || attr == "yes" || attr == "true"
}

func boundErr(entity, attr, field string, err error) error {
	return fmt.Errorf("%w: entity %s attribute %s has invalid %s: %v",
		models.ErrSchemaMalformed, entity, attr, field, err)
}
