package records

import (
	"context"

	"gorm.io/gorm"

	"bridgeinspect/internal/taxonomy"
)

// inChunk bounds the size of IN lists sent to the store.
const inChunk = 500

// CascadeResolver enumerates descendants by following parent_id downwards one
// level at a time. It never writes.
type CascadeResolver struct {
	registry *taxonomy.Registry
}

func NewCascadeResolver(registry *taxonomy.Registry) *CascadeResolver {
	return &CascadeResolver{registry: registry}
}

// DescendantsOf returns every row below (entityType, id), level by level from
// the children down. Retired rows are included and flagged so callers can see
// the whole subtree; their own descendants are reached too.
func (r *CascadeResolver) DescendantsOf(ctx context.Context, db *gorm.DB, entityType, id string) ([]Ref, error) {
	schema, err := r.registry.Describe(entityType)
	if err != nil {
		return nil, err
	}
	var out []Ref
	frontier := []string{id}
	for !schema.IsTerminal() && len(frontier) > 0 {
		child, err := r.registry.Describe(schema.Child)
		if err != nil {
			return nil, err
		}
		var next []string
		for start := 0; start < len(frontier); start += inChunk {
			end := min(start+inChunk, len(frontier))
			var rows []struct {
				ID       string
				IsActive bool
			}
			err := db.WithContext(ctx).Table(child.Table).
				Select("id", "is_active").
				Where("parent_id IN ?", frontier[start:end]).
				Order("created_at ASC, id ASC").
				Find(&rows).Error
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				out = append(out, Ref{Type: child.Type, ID: row.ID, Active: row.IsActive})
				next = append(next, row.ID)
			}
		}
		frontier = next
		schema = child
	}
	return out, nil
}
