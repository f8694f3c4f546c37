package records

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"bridgeinspect/internal/taxonomy"
)

type Op string

const (
	OpEq       Op = "eq"
	OpContains Op = "contains"
	OpIn       Op = "in"
	OpRange    Op = "range"
)

// Predicate is one condition on one field. Range bounds are inclusive and
// either may be nil.
type Predicate struct {
	Op     Op    `json:"op"`
	Value  any   `json:"value,omitempty"`
	Values []any `json:"values,omitempty"`
	Min    any   `json:"min,omitempty"`
	Max    any   `json:"max,omitempty"`
}

func Eq(v any) Predicate { return Predicate{Op: OpEq, Value: v} }

func Contains(s string) Predicate { return Predicate{Op: OpContains, Value: s} }

func In(vs ...any) Predicate { return Predicate{Op: OpIn, Values: vs} }

func Between(lo, hi any) Predicate { return Predicate{Op: OpRange, Min: lo, Max: hi} }

// Filter maps field names to predicates. Predicates are ANDed.
type Filter map[string]Predicate

type ListQuery struct {
	Filter          Filter
	Page            int
	PageSize        int
	Sort            string
	IncludeInactive bool
}

type Page struct {
	Items      []Entity `json:"items"`
	TotalCount int64    `json:"totalCount"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
	kindTime
)

type fieldInfo struct {
	column    string
	kind      fieldKind
	orderable bool
}

func describeField(schema taxonomy.Schema, field string) (fieldInfo, bool) {
	col, ok := schema.Column(field)
	if !ok {
		return fieldInfo{}, false
	}
	switch field {
	case taxonomy.FieldCode, taxonomy.FieldName:
		return fieldInfo{column: col, kind: kindString, orderable: true}, true
	case taxonomy.FieldSortOrder:
		return fieldInfo{column: col, kind: kindInt, orderable: true}, true
	case taxonomy.FieldCreatedAt, taxonomy.FieldUpdatedAt:
		return fieldInfo{column: col, kind: kindTime, orderable: true}, true
	case taxonomy.FieldIsActive:
		return fieldInfo{column: col, kind: kindBool}, true
	}
	// description and the parent reference
	return fieldInfo{column: col, kind: kindString}, true
}

// listPlan is a validated list request.
type listPlan struct {
	where  []condition
	order  string
	offset int
	limit  int
	page   int
}

type condition struct {
	sql  string
	args []any
}

func (p listPlan) apply(db *gorm.DB) *gorm.DB {
	for _, c := range p.where {
		db = db.Where(c.sql, c.args...)
	}
	return db
}

// planList validates q against schema and turns it into SQL fragments.
func planList(schema taxonomy.Schema, q ListQuery, defaultSize, maxSize int) (listPlan, error) {
	plan := listPlan{}

	page := q.Page
	if page < 0 {
		return plan, validationf("page must be >= 1")
	}
	if page == 0 {
		page = 1
	}
	size := q.PageSize
	if size < 0 || size > maxSize {
		return plan, validationf("page size must be between 1 and %d", maxSize)
	}
	if size == 0 {
		size = defaultSize
	}
	if page-1 > math.MaxInt32/size {
		return plan, validationf("page %d is out of range", page)
	}
	plan.page = page
	plan.limit = size
	plan.offset = (page - 1) * size

	if !q.IncludeInactive {
		plan.where = append(plan.where, activeOnly())
	}

	fields := make([]string, 0, len(q.Filter))
	for f := range q.Filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, field := range fields {
		c, err := buildCondition(schema, field, q.Filter[field])
		if err != nil {
			return plan, err
		}
		plan.where = append(plan.where, c)
	}

	order, err := buildOrder(schema, q.Sort)
	if err != nil {
		return plan, err
	}
	plan.order = order
	return plan, nil
}

// activeOnly is the single soft-delete predicate every default read uses.
func activeOnly() condition {
	return condition{sql: "is_active = ?", args: []any{true}}
}

func buildCondition(schema taxonomy.Schema, field string, p Predicate) (condition, error) {
	info, ok := describeField(schema, field)
	if !ok {
		return condition{}, fmt.Errorf("%w: %q on %s", ErrInvalidFilterField, field, schema.Type)
	}
	switch p.Op {
	case OpEq, "":
		v, err := coerce(field, info.kind, p.Value)
		if err != nil {
			return condition{}, err
		}
		return condition{sql: info.column + " = ?", args: []any{v}}, nil
	case OpContains:
		if info.kind != kindString {
			return condition{}, validationf("contains is not supported on %q", field)
		}
		s, ok := p.Value.(string)
		if !ok {
			return condition{}, validationf("contains on %q needs a string", field)
		}
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		return condition{sql: "LOWER(" + info.column + ") LIKE ? ESCAPE '!'", args: []any{pattern}}, nil
	case OpIn:
		if len(p.Values) == 0 {
			return condition{}, validationf("in on %q needs at least one value", field)
		}
		vals := make([]any, 0, len(p.Values))
		for _, raw := range p.Values {
			v, err := coerce(field, info.kind, raw)
			if err != nil {
				return condition{}, err
			}
			vals = append(vals, v)
		}
		return condition{sql: info.column + " IN ?", args: []any{vals}}, nil
	case OpRange:
		if !info.orderable {
			return condition{}, validationf("range is not supported on %q", field)
		}
		if p.Min == nil && p.Max == nil {
			return condition{}, validationf("range on %q needs a bound", field)
		}
		var parts []string
		var args []any
		if p.Min != nil {
			v, err := coerce(field, info.kind, p.Min)
			if err != nil {
				return condition{}, err
			}
			parts = append(parts, info.column+" >= ?")
			args = append(args, v)
		}
		if p.Max != nil {
			v, err := coerce(field, info.kind, p.Max)
			if err != nil {
				return condition{}, err
			}
			parts = append(parts, info.column+" <= ?")
			args = append(args, v)
		}
		return condition{sql: strings.Join(parts, " AND "), args: args}, nil
	}
	return condition{}, validationf("unknown operator %q on %q", p.Op, field)
}

var sortable = map[string]bool{
	taxonomy.FieldCode:      true,
	taxonomy.FieldName:      true,
	taxonomy.FieldSortOrder: true,
	taxonomy.FieldCreatedAt: true,
	taxonomy.FieldUpdatedAt: true,
}

// buildOrder returns the ORDER BY clause. The id is always the last key so
// pages never overlap.
func buildOrder(schema taxonomy.Schema, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "created_at ASC, id ASC", nil
	}
	dir := "ASC"
	field := raw
	if strings.HasPrefix(raw, "-") {
		dir = "DESC"
		field = raw[1:]
	}
	if !sortable[field] {
		return "", validationf("cannot sort %s by %q", schema.Type, field)
	}
	col, _ := schema.Column(field)
	return col + " " + dir + ", id ASC", nil
}

func coerce(field string, kind fieldKind, raw any) (any, error) {
	switch kind {
	case kindInt:
		switch v := raw.(type) {
		case int, int32, int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil {
				return n, nil
			}
		}
		return nil, validationf("%q needs an integer", field)
	case kindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err == nil {
				return b, nil
			}
		}
		return nil, validationf("%q needs a boolean", field)
	case kindTime:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
			if err == nil {
				return t, nil
			}
		}
		return nil, validationf("%q needs an RFC 3339 timestamp", field)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, validationf("%q needs a string", field)
	}
	return s, nil
}
