// Package taxonomy declares the bridge inspection taxonomy levels: their
// tables, parent references, code numbering rules and extra attributes.
//
// The registry is built once at process start and is read-only afterwards.
package taxonomy

import (
	"errors"
	"fmt"
)

var ErrUnknownEntityType = errors.New("unknown entity type")

// Base columns shared by every level table.
const (
	FieldCode        = "code"
	FieldName        = "name"
	FieldDescription = "description"
	FieldSortOrder   = "sort_order"
	FieldIsActive    = "is_active"
	FieldCreatedAt   = "created_at"
	FieldUpdatedAt   = "updated_at"
)

// Schema describes one taxonomy level.
type Schema struct {
	Type        string
	Table       string
	Label       string
	ParentField string
	CodeRule    CodeRule
	Attributes  []Attribute
	UniqueName  bool

	// Check runs after attribute normalization on the merged attribute set.
	Check func(attrs map[string]any) error

	// Parent and Child are filled in by NewRegistry from registration order.
	Parent string
	Child  string
}

func (s Schema) IsRoot() bool { return s.Parent == "" }

func (s Schema) IsTerminal() bool { return s.Child == "" }

// Fields returns the declared field set: base columns, the parent field and
// the declared attributes.
func (s Schema) Fields() []string {
	out := []string{FieldCode, FieldName, FieldDescription, FieldSortOrder, FieldIsActive, FieldCreatedAt, FieldUpdatedAt}
	if s.ParentField != "" {
		out = append(out, s.ParentField)
	}
	for _, a := range s.Attributes {
		out = append(out, a.Name)
	}
	return out
}

// Column maps a declared base field (or the parent field) to its column.
// Attributes live in the JSON column and have no column of their own.
func (s Schema) Column(field string) (string, bool) {
	switch field {
	case FieldCode, FieldName, FieldDescription, FieldSortOrder, FieldIsActive, FieldCreatedAt, FieldUpdatedAt:
		return field, true
	}
	if s.ParentField != "" && field == s.ParentField {
		return "parent_id", true
	}
	return "", false
}

func (s Schema) Attribute(name string) (Attribute, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Registry maps entity-type tokens to their schema.
type Registry struct {
	order   []string
	schemas map[string]Schema
}

// NewRegistry builds a registry from levels listed root first. Each level is
// the parent of the next one.
func NewRegistry(levels ...Schema) (*Registry, error) {
	if len(levels) == 0 {
		return nil, errors.New("taxonomy: no levels")
	}
	r := &Registry{schemas: make(map[string]Schema, len(levels))}
	tables := map[string]bool{}
	for i, s := range levels {
		if s.Type == "" || s.Table == "" {
			return nil, fmt.Errorf("taxonomy: level %d needs a type and a table", i)
		}
		if _, dup := r.schemas[s.Type]; dup {
			return nil, fmt.Errorf("taxonomy: duplicate type %q", s.Type)
		}
		if tables[s.Table] {
			return nil, fmt.Errorf("taxonomy: duplicate table %q", s.Table)
		}
		tables[s.Table] = true
		if i == 0 {
			if s.ParentField != "" {
				return nil, fmt.Errorf("taxonomy: root level %q cannot have a parent field", s.Type)
			}
			if s.CodeRule.Prefix == "" {
				return nil, fmt.Errorf("taxonomy: root level %q needs a code prefix", s.Type)
			}
		} else {
			if s.ParentField == "" {
				return nil, fmt.Errorf("taxonomy: level %q needs a parent field", s.Type)
			}
			s.Parent = levels[i-1].Type
		}
		if i+1 < len(levels) {
			s.Child = levels[i+1].Type
		}
		if s.CodeRule.Width <= 0 {
			s.CodeRule.Width = 2
		}
		if s.CodeRule.Separator == "" {
			s.CodeRule.Separator = "-"
		}
		r.schemas[s.Type] = s
		r.order = append(r.order, s.Type)
	}
	return r, nil
}

// Describe returns the schema for entityType.
func (r *Registry) Describe(entityType string) (Schema, error) {
	s, ok := r.schemas[entityType]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return s, nil
}

// Types lists the registered tokens root first.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas lists the registered schemas root first.
func (r *Registry) Schemas() []Schema {
	out := make([]Schema, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.schemas[t])
	}
	return out
}
