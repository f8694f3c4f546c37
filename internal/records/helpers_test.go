package records

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bridgeinspect/internal/db"
	"bridgeinspect/internal/taxonomy"
)

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestService(t *testing.T, configure func(*Options)) *Service {
	t.Helper()
	gdb, err := db.Connect(db.DriverSQLite, filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	opts.Now = newStepClock(time.Millisecond).Now
	if configure != nil {
		configure(&opts)
	}
	registry := taxonomy.Bridge()
	require.NoError(t, db.Migrate(gdb, registry, opts.Policy != ReuseRetire))
	return NewService(gdb, registry, opts)
}

// chain holds one row of every level, each the child of the previous one.
type chain struct {
	ids   map[string]string
	codes map[string]string
}

func createChain(t *testing.T, svc *Service, name string) chain {
	t.Helper()
	ctx := context.Background()
	c := chain{ids: map[string]string{}, codes: map[string]string{}}
	var parent *string
	for _, typ := range svc.Registry().Types() {
		in := CreateInput{Name: name + " " + typ, ParentID: parent}
		if typ == taxonomy.BridgeScales {
			in.Attributes = map[string]any{"scale_type": taxonomy.ScaleNumeric, "scale_value": 1}
		}
		ent, err := svc.Create(ctx, typ, in)
		require.NoError(t, err, typ)
		c.ids[typ] = ent.ID
		c.codes[typ] = ent.Code
		id := ent.ID
		parent = &id
	}
	return c
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }
