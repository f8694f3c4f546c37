package records

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeinspect/internal/taxonomy"
)

func TestPlanList(t *testing.T) {
	parts, err := taxonomy.Bridge().Describe(taxonomy.BridgeParts)
	require.NoError(t, err)

	tests := []struct {
		name    string
		q       ListQuery
		wantErr error
		check   func(t *testing.T, p listPlan)
	}{
		{
			name: "defaults",
			q:    ListQuery{},
			check: func(t *testing.T, p listPlan) {
				assert.Equal(t, 1, p.page)
				assert.Equal(t, 20, p.limit)
				assert.Equal(t, 0, p.offset)
				assert.Equal(t, "created_at ASC, id ASC", p.order)
				require.Len(t, p.where, 1)
				assert.Equal(t, "is_active = ?", p.where[0].sql)
			},
		},
		{
			name: "include inactive drops the active predicate",
			q:    ListQuery{IncludeInactive: true, Page: 3, PageSize: 10},
			check: func(t *testing.T, p listPlan) {
				assert.Empty(t, p.where)
				assert.Equal(t, 20, p.offset)
			},
		},
		{
			name: "descending sort keeps id tie-breaker",
			q:    ListQuery{Sort: "-sort_order"},
			check: func(t *testing.T, p listPlan) {
				assert.Equal(t, "sort_order DESC, id ASC", p.order)
			},
		},
		{
			name: "parent field maps to parent_id",
			q:    ListQuery{Filter: Filter{"bridge_type_id": Eq("abc")}},
			check: func(t *testing.T, p listPlan) {
				require.Len(t, p.where, 2)
				assert.Equal(t, "parent_id = ?", p.where[1].sql)
			},
		},
		{
			name: "contains escapes wildcards",
			q:    ListQuery{Filter: Filter{"name": Contains("50%_Deck")}},
			check: func(t *testing.T, p listPlan) {
				assert.Equal(t, "LOWER(name) LIKE ? ESCAPE '!'", p.where[1].sql)
				assert.Equal(t, []any{"%50!%!_deck%"}, p.where[1].args)
			},
		},
		{
			name: "range coerces strings",
			q:    ListQuery{Filter: Filter{"sort_order": Between("2", nil)}},
			check: func(t *testing.T, p listPlan) {
				assert.Equal(t, "sort_order >= ?", p.where[1].sql)
				assert.Equal(t, []any{2}, p.where[1].args)
			},
		},
		{name: "unknown field", q: ListQuery{Filter: Filter{"colour": Eq("red")}}, wantErr: ErrInvalidFilterField},
		{name: "sibling parent field", q: ListQuery{Filter: Filter{"part_id": Eq("x")}}, wantErr: ErrInvalidFilterField},
		{name: "page size above max", q: ListQuery{PageSize: 101}, wantErr: ErrValidation},
		{name: "negative page", q: ListQuery{Page: -1}, wantErr: ErrValidation},
		{name: "page past the offset range", q: ListQuery{Page: 1 << 62, PageSize: 4}, wantErr: ErrValidation},
		{name: "page one past the offset range", q: ListQuery{Page: math.MaxInt32/100 + 2, PageSize: 100}, wantErr: ErrValidation},
		{
			name: "last page inside the offset range",
			q:    ListQuery{Page: math.MaxInt32/100 + 1, PageSize: 100},
			check: func(t *testing.T, p listPlan) {
				assert.Equal(t, math.MaxInt32/100*100, p.offset)
			},
		},
		{name: "unsortable field", q: ListQuery{Sort: "description"}, wantErr: ErrValidation},
		{name: "empty in", q: ListQuery{Filter: Filter{"code": In()}}, wantErr: ErrValidation},
		{name: "range without bounds", q: ListQuery{Filter: Filter{"sort_order": Between(nil, nil)}}, wantErr: ErrValidation},
		{name: "range on unordered field", q: ListQuery{Filter: Filter{"description": Between("a", "b")}}, wantErr: ErrValidation},
		{name: "contains on int", q: ListQuery{Filter: Filter{"sort_order": Contains("1")}}, wantErr: ErrValidation},
		{name: "bad int", q: ListQuery{Filter: Filter{"sort_order": Eq("one")}}, wantErr: ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := planList(parts, tt.q, 20, 100)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestListAttributeFilterIsRejected(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.List(context.Background(), taxonomy.BridgeScales, ListQuery{Filter: Filter{"scale_type": Eq("RANGE")}})
	assert.True(t, errors.Is(err, ErrInvalidFilterField), "got %v", err)
}

func TestListPaginationIsStable(t *testing.T) {
	// A frozen clock gives every row the same created_at, so only the id
	// tie-breaker orders them.
	frozen := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc := newTestService(t, func(o *Options) { o.Now = func() time.Time { return frozen } })
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, err := svc.Create(ctx, taxonomy.BridgeTypes, CreateInput{Name: fmt.Sprintf("Type %d", i)})
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, taxonomy.BridgeTypes, ListQuery{PageSize: 100})
	require.NoError(t, err)
	require.Len(t, all.Items, 7)

	var paged []string
	for page := 1; page <= 3; page++ {
		p, err := svc.List(ctx, taxonomy.BridgeTypes, ListQuery{Page: page, PageSize: 3})
		require.NoError(t, err)
		assert.EqualValues(t, 7, p.TotalCount)
		assert.Equal(t, page, p.Page)
		assert.Equal(t, 3, p.PageSize)
		for _, item := range p.Items {
			paged = append(paged, item.ID)
		}
	}
	want := make([]string, 0, len(all.Items))
	for _, item := range all.Items {
		want = append(want, item.ID)
	}
	assert.Equal(t, want, paged)
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	bt, err := svc.Create(ctx, taxonomy.BridgeTypes, CreateInput{Name: "Beam bridge"})
	require.NoError(t, err)
	names := []string{"Deck slab", "Main DECK", "Pier", "Abutment"}
	for i, name := range names {
		_, err := svc.Create(ctx, taxonomy.BridgeParts, CreateInput{Name: name, ParentID: &bt.ID, SortOrder: i})
		require.NoError(t, err)
	}

	t.Run("contains is case-insensitive", func(t *testing.T) {
		p, err := svc.List(ctx, taxonomy.BridgeParts, ListQuery{Filter: Filter{"name": Contains("deck")}, PageSize: 1})
		require.NoError(t, err)
		assert.EqualValues(t, 2, p.TotalCount)
		require.Len(t, p.Items, 1)
		assert.Equal(t, "Deck slab", p.Items[0].Name)
	})

	t.Run("in on code", func(t *testing.T) {
		p, err := svc.List(ctx, taxonomy.BridgeParts, ListQuery{Filter: Filter{"code": In("BT-01-01", "BT-01-04", "BT-09-09")}})
		require.NoError(t, err)
		assert.EqualValues(t, 2, p.TotalCount)
	})

	t.Run("range on sort order with sort", func(t *testing.T) {
		p, err := svc.List(ctx, taxonomy.BridgeParts, ListQuery{
			Filter: Filter{"sort_order": Between(1, 2)},
			Sort:   "-sort_order",
		})
		require.NoError(t, err)
		require.Len(t, p.Items, 2)
		assert.Equal(t, "Pier", p.Items[0].Name)
		assert.Equal(t, "Main DECK", p.Items[1].Name)
	})

	t.Run("retired rows only with include_inactive", func(t *testing.T) {
		p, err := svc.List(ctx, taxonomy.BridgeParts, ListQuery{Filter: Filter{"name": Eq("Pier")}})
		require.NoError(t, err)
		require.Len(t, p.Items, 1)
		_, err = svc.Delete(ctx, taxonomy.BridgeParts, p.Items[0].ID, false)
		require.NoError(t, err)

		p, err = svc.List(ctx, taxonomy.BridgeParts, ListQuery{Filter: Filter{"name": Eq("Pier")}})
		require.NoError(t, err)
		assert.Empty(t, p.Items)
		assert.EqualValues(t, 0, p.TotalCount)

		p, err = svc.List(ctx, taxonomy.BridgeParts, ListQuery{Filter: Filter{"name": Eq("Pier"), "is_active": Eq(false)}, IncludeInactive: true})
		require.NoError(t, err)
		assert.EqualValues(t, 1, p.TotalCount)
	})
}
