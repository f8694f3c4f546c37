// Package records is the generic CRUD and code generation engine shared by
// every taxonomy level.
//
// Every write runs in a single transaction. Reads default to active rows.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bridgeinspect/internal/models"
	"bridgeinspect/internal/taxonomy"
)

type Service struct {
	db       *gorm.DB
	registry *taxonomy.Registry
	opts     Options
	log      *slog.Logger
	validate *validator.Validate
	codes    *CodeGenerator
	cascade  *CascadeResolver
}

func NewService(db *gorm.DB, registry *taxonomy.Registry, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		db:       db,
		registry: registry,
		opts:     opts,
		log:      opts.Logger.With("component", "records"),
		validate: validator.New(),
		codes:    NewCodeGenerator(opts.Policy),
		cascade:  NewCascadeResolver(registry),
	}
}

func (s *Service) Registry() *taxonomy.Registry { return s.registry }

// Create inserts a new row under in.ParentID and assigns its code.
func (s *Service) Create(ctx context.Context, entityType string, in CreateInput) (out *Entity, err error) {
	defer s.observe(entityType, "create", time.Now(), &err)

	schema, err := s.registry.Describe(entityType)
	if err != nil {
		return nil, err
	}
	in, attrs, err := s.normalizeCreate(schema, in)
	if err != nil {
		return nil, err
	}
	custom := in.Code != ""

	var rec models.Record
	onRetry := func(attempt int, cause error) {
		s.opts.Observer.CodeRetry(entityType)
		s.log.Warn("code collision, retrying", "entity", entityType, "attempt", attempt, "error", cause)
	}
	err = retryOnDuplicate(ctx, s.opts.RetryAttempts, s.opts.RetryBackoff, onRetry, func(int) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var parent *models.Record
			if !schema.IsRoot() {
				p, err := s.activeParent(tx, schema, *in.ParentID)
				if err != nil {
					return err
				}
				parent = p
			}
			scope := models.Scope(in.ParentID)

			if schema.UniqueName {
				if err := s.checkName(tx, schema, scope, in.Name, ""); err != nil {
					return err
				}
			}

			code := in.Code
			if custom {
				if err := s.codes.Reserve(tx, schema, scope, code); err != nil {
					return err
				}
			} else {
				next, err := s.codes.Next(tx, schema, parent, in.CodePrefix)
				if err != nil {
					return err
				}
				code = next
			}

			now := s.now()
			row := models.Record{
				ID:          newID(),
				Code:        code,
				Name:        in.Name,
				Description: in.Description,
				ParentID:    in.ParentID,
				ScopeKey:    scope,
				LiveCode:    &code,
				SortOrder:   in.SortOrder,
				Attributes:  attrs,
				IsActive:    true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Table(schema.Table).Create(&row).Error; err != nil {
				if custom && errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: %s %q", ErrCodeConflict, schema.Label, code)
				}
				return err
			}
			rec = row
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("record created", "entity", entityType, "id", rec.ID, "code", rec.Code)
	ent, err := toEntity(entityType, rec)
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// Get returns one row. Retired rows are reported as not found unless
// opts.IncludeInactive is set.
func (s *Service) Get(ctx context.Context, entityType, id string, opts GetOptions) (out *Entity, err error) {
	defer s.observe(entityType, "get", time.Now(), &err)

	schema, err := s.registry.Describe(entityType)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Table(schema.Table).Where("id = ?", id)
	if !opts.IncludeInactive {
		c := activeOnly()
		q = q.Where(c.sql, c.args...)
	}
	var rec models.Record
	if err := q.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, schema.Label, id)
		}
		return nil, err
	}
	ent, err := toEntity(entityType, rec)
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// List returns one page of rows matching q.
func (s *Service) List(ctx context.Context, entityType string, q ListQuery) (out *Page, err error) {
	defer s.observe(entityType, "list", time.Now(), &err)

	schema, err := s.registry.Describe(entityType)
	if err != nil {
		return nil, err
	}
	plan, err := planList(schema, q, s.opts.DefaultPageSize, s.opts.MaxPageSize)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := plan.apply(s.db.WithContext(ctx).Table(schema.Table)).Count(&total).Error; err != nil {
		return nil, err
	}
	var rows []models.Record
	err = plan.apply(s.db.WithContext(ctx).Table(schema.Table)).
		Order(plan.order).
		Offset(plan.offset).
		Limit(plan.limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	page := &Page{
		Items:      make([]Entity, 0, len(rows)),
		TotalCount: total,
		Page:       plan.page,
		PageSize:   plan.limit,
	}
	for _, row := range rows {
		ent, err := toEntity(entityType, row)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, ent)
	}
	return page, nil
}

// Update applies the non-nil fields of in. The code never changes.
func (s *Service) Update(ctx context.Context, entityType, id string, in UpdateInput) (out *Entity, err error) {
	defer s.observe(entityType, "update", time.Now(), &err)

	schema, err := s.registry.Describe(entityType)
	if err != nil {
		return nil, err
	}
	in, err = s.normalizeUpdate(schema, in)
	if err != nil {
		return nil, err
	}

	var rec models.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.lockRow(tx, schema, id, true)
		if err != nil {
			return err
		}
		if in.Code != nil && *in.Code != cur.Code && s.opts.StrictCode {
			return validationf("code is immutable")
		}

		changes := map[string]any{}
		scope := cur.ScopeKey
		if in.ParentID != nil && (cur.ParentID == nil || *in.ParentID != *cur.ParentID) {
			if _, err := s.activeParent(tx, schema, *in.ParentID); err != nil {
				return err
			}
			scope = *in.ParentID
			taken, err := s.codes.taken(tx, schema, scope, cur.Code, cur.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: %s %q under parent %s", ErrCodeConflict, schema.Label, cur.Code, scope)
			}
			changes["parent_id"] = scope
			changes["scope_key"] = scope
		}

		name := cur.Name
		if in.Name != nil && *in.Name != cur.Name {
			name = *in.Name
			changes["name"] = name
		}
		if schema.UniqueName && (scope != cur.ScopeKey || name != cur.Name) {
			if err := s.checkName(tx, schema, scope, name, cur.ID); err != nil {
				return err
			}
		}

		if in.Description != nil {
			if *in.Description == "" {
				changes["description"] = nil
			} else {
				changes["description"] = *in.Description
			}
		}
		if in.SortOrder != nil {
			changes["sort_order"] = *in.SortOrder
		}
		if in.Attributes != nil {
			merged, err := s.mergeAttributes(schema, cur.Attributes, in.Attributes)
			if err != nil {
				return err
			}
			changes["attributes"] = merged
		}

		if len(changes) == 0 {
			rec = *cur
			return nil
		}
		changes["updated_at"] = s.touch(cur.CreatedAt)
		if err := tx.Table(schema.Table).Where("id = ?", cur.ID).Updates(changes).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s %q", ErrCodeConflict, schema.Label, cur.Code)
			}
			return err
		}
		return tx.Table(schema.Table).Where("id = ?", cur.ID).Take(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("record updated", "entity", entityType, "id", id)
	ent, err := toEntity(entityType, rec)
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// Delete soft-deletes the row and, with cascade, every active descendant in
// the same transaction.
func (s *Service) Delete(ctx context.Context, entityType, id string, cascade bool) (out *DeleteResult, err error) {
	defer s.observe(entityType, "delete", time.Now(), &err)

	schema, err := s.registry.Describe(entityType)
	if err != nil {
		return nil, err
	}

	res := &DeleteResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockRow(tx, schema, id, true); err != nil {
			return err
		}

		var descendants []Ref
		if cascade {
			found, err := s.cascade.DescendantsOf(ctx, tx, entityType, id)
			if err != nil {
				return fmt.Errorf("%w: resolve descendants of %s %s: %w", ErrCascadeFailure, schema.Label, id, err)
			}
			descendants = found
		}

		now := s.now()
		if err := deactivate(tx, schema.Table, []string{id}, now); err != nil {
			return err
		}
		res.Deleted = append(res.Deleted, Ref{Type: entityType, ID: id})

		for _, group := range groupRefs(descendants, true) {
			child, err := s.registry.Describe(group.entityType)
			if err != nil {
				return err
			}
			if err := deactivate(tx, child.Table, group.ids, now); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrCascadeFailure, child.Table, err)
			}
			for _, cid := range group.ids {
				res.Deleted = append(res.Deleted, Ref{Type: group.entityType, ID: cid})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("record deleted", "entity", entityType, "id", id, "cascade", cascade, "affected", len(res.Deleted))
	return res, nil
}

// Descendants previews what a cascading delete of (entityType, id) reaches.
func (s *Service) Descendants(ctx context.Context, entityType, id string) ([]Ref, error) {
	if _, err := s.Get(ctx, entityType, id, GetOptions{IncludeInactive: true}); err != nil {
		return nil, err
	}
	return s.cascade.DescendantsOf(ctx, s.db, entityType, id)
}

// Subtree returns the active row (entityType, id) followed by the active
// descendants still connected to it, level by level. An active row below a
// retired one is left out along with everything under it.
func (s *Service) Subtree(ctx context.Context, entityType, id string) ([]Entity, error) {
	root, err := s.Get(ctx, entityType, id, GetOptions{})
	if err != nil {
		return nil, err
	}
	refs, err := s.cascade.DescendantsOf(ctx, s.db, entityType, id)
	if err != nil {
		return nil, err
	}
	out := []Entity{*root}
	connected := map[string]bool{id: true}
	for _, group := range groupRefs(refs, true) {
		schema, err := s.registry.Describe(group.entityType)
		if err != nil {
			return nil, err
		}
		var level []models.Record
		for start := 0; start < len(group.ids); start += inChunk {
			end := min(start+inChunk, len(group.ids))
			var rows []models.Record
			err := s.db.WithContext(ctx).Table(schema.Table).
				Where("id IN ? AND is_active = ?", group.ids[start:end], true).
				Order("sort_order ASC, code ASC").
				Find(&rows).Error
			if err != nil {
				return nil, err
			}
			level = append(level, rows...)
		}
		for _, row := range level {
			if row.ParentID == nil || !connected[*row.ParentID] {
				continue
			}
			ent, err := toEntity(group.entityType, row)
			if err != nil {
				return nil, err
			}
			connected[row.ID] = true
			out = append(out, ent)
		}
	}
	return out, nil
}

// Restore reactivates a soft-deleted row after re-checking its scope. With
// cascade, descendants retired by the same delete (same retirement stamp) are
// reactivated too, parents before children, in the same transaction. Rows
// retired separately stay retired. Restoring an active row changes nothing.
func (s *Service) Restore(ctx context.Context, entityType, id string, cascade bool) (out *RestoreResult, err error) {
	defer s.observe(entityType, "restore", time.Now(), &err)

	schema, err := s.registry.Describe(entityType)
	if err != nil {
		return nil, err
	}

	var rec models.Record
	var restored []Ref
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.lockRow(tx, schema, id, false)
		if err != nil {
			return err
		}
		if cur.IsActive {
			rec = *cur
			return nil
		}
		if !schema.IsRoot() && cur.ParentID != nil {
			if _, err := s.activeParent(tx, schema, *cur.ParentID); err != nil {
				return err
			}
		}
		retiredAt := cur.UpdatedAt
		if err := s.reactivate(tx, schema, cur); err != nil {
			return err
		}
		if err := tx.Table(schema.Table).Where("id = ?", cur.ID).Take(&rec).Error; err != nil {
			return err
		}
		if !cascade {
			return nil
		}

		refs, err := s.cascade.DescendantsOf(ctx, tx, entityType, id)
		if err != nil {
			return fmt.Errorf("%w: resolve descendants of %s %s: %w", ErrCascadeFailure, schema.Label, id, err)
		}
		live := map[string]bool{id: true}
		for _, r := range refs {
			if r.Active {
				live[r.ID] = true
			}
		}
		for _, group := range groupRefs(refs, false) {
			child, err := s.registry.Describe(group.entityType)
			if err != nil {
				return err
			}
			for start := 0; start < len(group.ids); start += inChunk {
				end := min(start+inChunk, len(group.ids))
				var rows []models.Record
				err := lockUpdate(tx).Table(child.Table).
					Where("id IN ? AND is_active = ?", group.ids[start:end], false).
					Order("created_at ASC, id ASC").
					Find(&rows).Error
				if err != nil {
					return fmt.Errorf("%w: %s: %w", ErrCascadeFailure, child.Table, err)
				}
				for i := range rows {
					row := &rows[i]
					if row.ParentID == nil || !live[*row.ParentID] || !row.UpdatedAt.Equal(retiredAt) {
						continue
					}
					if err := s.reactivate(tx, child, row); err != nil {
						return err
					}
					live[row.ID] = true
					restored = append(restored, Ref{Type: group.entityType, ID: row.ID, Active: true})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("record restored", "entity", entityType, "id", id, "cascade", cascade, "descendants", len(restored))
	ent, err := toEntity(entityType, rec)
	if err != nil {
		return nil, err
	}
	if restored == nil {
		restored = []Ref{}
	}
	return &RestoreResult{Record: ent, Restored: restored}, nil
}

// reactivate flips a retired row back to active once no active sibling holds
// its code or name.
func (s *Service) reactivate(tx *gorm.DB, schema taxonomy.Schema, cur *models.Record) error {
	var clash int64
	err := tx.Table(schema.Table).
		Where("scope_key = ? AND code = ? AND is_active = ? AND id <> ?", cur.ScopeKey, cur.Code, true, cur.ID).
		Count(&clash).Error
	if err != nil {
		return err
	}
	if clash > 0 {
		return fmt.Errorf("%w: an active %s already holds %q", ErrCodeConflict, schema.Label, cur.Code)
	}
	if schema.UniqueName {
		if err := s.checkName(tx, schema, cur.ScopeKey, cur.Name, cur.ID); err != nil {
			return err
		}
	}

	err = tx.Table(schema.Table).Where("id = ?", cur.ID).Updates(map[string]any{
		"is_active":  true,
		"live_code":  cur.Code,
		"updated_at": s.touch(cur.CreatedAt),
	}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: an active %s already holds %q", ErrCodeConflict, schema.Label, cur.Code)
		}
		return err
	}
	return nil
}

func (s *Service) normalizeCreate(schema taxonomy.Schema, in CreateInput) (CreateInput, datatypes.JSON, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.TrimSpace(in.Code)
	in.CodePrefix = strings.TrimSpace(in.CodePrefix)
	in.Description = trimOptional(in.Description)
	in.ParentID = trimOptional(in.ParentID)
	if err := s.validate.Struct(in); err != nil {
		return in, nil, validationf("%s", err)
	}
	if schema.IsRoot() && in.ParentID != nil {
		return in, nil, validationf("%s is a root level and takes no parent", schema.Label)
	}
	if !schema.IsRoot() && in.ParentID == nil {
		return in, nil, validationf("%s requires %s", schema.Label, schema.ParentField)
	}
	if in.Code != "" && in.CodePrefix != "" {
		return in, nil, validationf("code and codePrefix are mutually exclusive")
	}
	attrs, err := s.mergeAttributes(schema, nil, in.Attributes)
	if err != nil {
		return in, nil, err
	}
	return in, attrs, nil
}

func (s *Service) normalizeUpdate(schema taxonomy.Schema, in UpdateInput) (UpdateInput, error) {
	if in.Name != nil {
		v := strings.TrimSpace(*in.Name)
		in.Name = &v
	}
	if in.Description != nil {
		v := strings.TrimSpace(*in.Description)
		in.Description = &v
	}
	if in.Code != nil {
		v := strings.TrimSpace(*in.Code)
		in.Code = &v
	}
	in.ParentID = trimOptional(in.ParentID)
	if err := s.validate.Struct(in); err != nil {
		return in, validationf("%s", err)
	}
	if schema.IsRoot() && in.ParentID != nil {
		return in, validationf("%s is a root level and takes no parent", schema.Label)
	}
	return in, nil
}

// mergeAttributes overlays patch on the stored attributes and validates the
// result against the schema.
func (s *Service) mergeAttributes(schema taxonomy.Schema, stored datatypes.JSON, patch map[string]any) (datatypes.JSON, error) {
	current := map[string]any{}
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &current); err != nil {
			return nil, err
		}
	}
	for k, v := range patch {
		current[k] = v
	}
	clean, err := schema.NormalizeAttributes(current)
	if err != nil {
		return nil, validationf("%s", err)
	}
	if schema.Check != nil {
		if err := schema.Check(clean); err != nil {
			return nil, validationf("%s", err)
		}
	}
	if len(clean) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (s *Service) activeParent(tx *gorm.DB, schema taxonomy.Schema, parentID string) (*models.Record, error) {
	ps, err := s.registry.Describe(schema.Parent)
	if err != nil {
		return nil, err
	}
	var parent models.Record
	err = lockShare(tx).Table(ps.Table).Where("id = ? AND is_active = ?", parentID, true).Take(&parent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrParentNotFound, ps.Label, parentID)
		}
		return nil, err
	}
	return &parent, nil
}

// lockRow loads id for update. With activeOnly, retired rows are not found.
func (s *Service) lockRow(tx *gorm.DB, schema taxonomy.Schema, id string, activeOnly bool) (*models.Record, error) {
	q := lockUpdate(tx).Table(schema.Table).Where("id = ?", id)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rec models.Record
	if err := q.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, schema.Label, id)
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Service) checkName(tx *gorm.DB, schema taxonomy.Schema, scope, name, exceptID string) error {
	q := tx.Table(schema.Table).Where("scope_key = ? AND name = ? AND is_active = ?", scope, name, true)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s %q", ErrNameConflict, schema.Label, name)
	}
	return nil
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Microsecond)
}

// touch returns the new updated_at, never earlier than createdAt.
func (s *Service) touch(createdAt time.Time) time.Time {
	now := s.now()
	if now.Before(createdAt) {
		return createdAt
	}
	return now
}

func (s *Service) observe(entityType, op string, start time.Time, errp *error) {
	outcome := "ok"
	if *errp != nil {
		outcome = KindOf(*errp)
	}
	s.opts.Observer.ObserveOperation(entityType, op, outcome, time.Since(start))
}

type refGroup struct {
	entityType string
	ids        []string
}

// groupRefs keeps the refs whose Active flag equals active, grouped by level
// in resolver order.
func groupRefs(refs []Ref, active bool) []refGroup {
	var out []refGroup
	for _, r := range refs {
		if r.Active != active {
			continue
		}
		if len(out) == 0 || out[len(out)-1].entityType != r.Type {
			out = append(out, refGroup{entityType: r.Type})
		}
		out[len(out)-1].ids = append(out[len(out)-1].ids, r.ID)
	}
	return out
}

func deactivate(tx *gorm.DB, table string, ids []string, now time.Time) error {
	for start := 0; start < len(ids); start += inChunk {
		end := min(start+inChunk, len(ids))
		err := tx.Table(table).
			Where("id IN ? AND is_active = ?", ids[start:end], true).
			Updates(map[string]any{
				"is_active":  false,
				"live_code":  nil,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// SQLite has no row locks; its writes are already serialized.
func lockUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func lockShare(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "SHARE"})
}

func trimOptional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
