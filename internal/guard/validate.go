package guard

import (
	"fmt"
	"time"

	"github.com/spinneyio/lambdaconnect-go/internal/models"
)

// validateCreate checks a full create-time payload: every required
// attribute must be present, every present field must satisfy its
// constraints, and no field outside the schema is allowed.
func validateCreate(ent *models.Entity, rec models.Record) error {
	for _, attr := range ent.AttrOrder {
		value, present := rec[attr.Name]
		if !present || value == nil {
			if !attr.Optional {
				return &models.ValidationError{
					Entity: ent.Name,
					Field:  attr.Name,
					Kind:   models.ValidationRequired,
				}
			}
			continue
		}
		if err := checkAttribute(ent.Name, attr, value); err != nil {
			return err
		}
	}

	return validateCommon(ent, rec)
}

// validateUpdate checks a partial change-set: only present fields are
// validated, required absence is not re-checked.
func validateUpdate(ent *models.Entity, changes models.Record) error {
	for _, attr := range ent.AttrOrder {
		value, present := changes[attr.Name]
		if !present || value == nil {
			continue
		}
		if err := checkAttribute(ent.Name, attr, value); err != nil {
			return err
		}
	}

	return validateCommon(ent, changes)
}

// validateCommon handles relationship shapes and unknown keys, which
// follow the same rules on create and update.
func validateCommon(ent *models.Entity, rec models.Record) error {
	for _, rel := range ent.RelOrder {
		value, present := rec[rel.Name]
		if !present || value == nil {
			continue
		}
		if err := checkRelationship(ent.Name, rel, value); err != nil {
			return err
		}
	}

	for key := range rec {
		if models.BookkeepingFields[key] {
			continue
		}
		if _, ok := ent.Attrs[key]; ok {
			continue
		}
		if _, ok := ent.Rels[key]; ok {
			continue
		}
		return &models.ValidationError{
			Entity: ent.Name,
			Field:  key,
			Kind:   models.ValidationUnknownKey,
		}
	}

	return nil
}

func checkAttribute(entity string, attr *models.Attribute, value any) error {
	typeErr := func(detail string) error {
		return &models.ValidationError{
			Entity: entity,
			Field:  attr.Name,
			Kind:   models.ValidationTypeError,
			Detail: detail,
		}
	}

	switch attr.Type {
	case models.AttrBoolean:
		// Booleans travel as numeric 0/1.
		n, ok := models.NumericValue(value)
		if !ok || (n != 0 && n != 1) {
			return typeErr("boolean must be 0 or 1")
		}

	case models.AttrNumber:
		n, ok := models.NumericValue(value)
		if !ok {
			return typeErr("expected a number")
		}
		if attr.MaxValue != nil && n > *attr.MaxValue {
			return &models.ValidationError{Entity: entity, Field: attr.Name, Kind: models.ValidationMaxValue}
		}
		if attr.MinValue != nil && n < *attr.MinValue {
			return &models.ValidationError{Entity: entity, Field: attr.Name, Kind: models.ValidationMinValue}
		}

	case models.AttrString:
		s, ok := value.(string)
		if !ok {
			return typeErr("expected a string")
		}
		if attr.MaxLength != nil && len(s) > *attr.MaxLength {
			return &models.ValidationError{Entity: entity, Field: attr.Name, Kind: models.ValidationMaxLength}
		}
		if attr.MinLength != nil && len(s) < *attr.MinLength {
			return &models.ValidationError{Entity: entity, Field: attr.Name, Kind: models.ValidationMinLength}
		}

	case models.AttrDate:
		s, ok := value.(string)
		if !ok || len(s) != 24 {
			return typeErr("date must be a 24-character ISO-8601 string")
		}
		if _, err := time.Parse(timestampLayout, s); err != nil {
			return typeErr("date must be a 24-character ISO-8601 string")
		}
	}

	if attr.Regex != nil && !attr.Regex.MatchString(fmt.Sprint(value)) {
		return &models.ValidationError{Entity: entity, Field: attr.Name, Kind: models.ValidationRegex}
	}

	return nil
}

func checkRelationship(entity string, rel *models.Relationship, value any) error {
	if rel.ToMany {
		switch items := value.(type) {
		case []string:
			return nil
		case []any:
			for _, item := range items {
				if _, ok := item.(string); !ok {
					return &models.ValidationError{Entity: entity, Field: rel.Name, Kind: models.ValidationToMany}
				}
			}
			return nil
		default:
			return &models.ValidationError{Entity: entity, Field: rel.Name, Kind: models.ValidationToMany}
		}
	}

	switch value.(type) {
	case string:
		return nil
	default:
		return &models.ValidationError{Entity: entity, Field: rel.Name, Kind: models.ValidationToOne}
	}
}
