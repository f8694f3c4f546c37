package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeinspect/internal/db"
	"bridgeinspect/internal/records"
	"bridgeinspect/internal/taxonomy"
)

type memStore struct {
	objects map[string][]byte
	err     error
}

func (m *memStore) PutBytes(_ context.Context, key string, data []byte, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.objects[key] = data
	return nil
}

func newService(t *testing.T) *records.Service {
	t.Helper()
	gdb, err := db.Connect(db.DriverSQLite, filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	registry := taxonomy.Bridge()
	require.NoError(t, db.Migrate(gdb, registry, true))
	opts := records.DefaultOptions()
	opts.DefaultPageSize = 1
	return records.NewService(gdb, registry, opts)
}

func TestNest(t *testing.T) {
	root, ok := Nest(nil)
	assert.False(t, ok)
	assert.Empty(t, root.ID)

	p := func(s string) *string { return &s }
	root, ok = Nest([]records.Entity{
		{Type: "a", ID: "1"},
		{Type: "b", ID: "2", ParentID: p("1")},
		{Type: "b", ID: "3", ParentID: p("1")},
		{Type: "c", ID: "4", ParentID: p("3")},
		{Type: "c", ID: "5", ParentID: p("gone")},
	})
	require.True(t, ok)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "2", root.Children[0].ID)
	require.Len(t, root.Children[1].Children, 1)
	assert.Equal(t, "4", root.Children[1].Children[0].ID)
}

func TestExport(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	beam, err := svc.Create(ctx, taxonomy.BridgeTypes, records.CreateInput{Name: "Beam bridge"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, taxonomy.BridgeTypes, records.CreateInput{Name: "Arch bridge"})
	require.NoError(t, err)
	retired, err := svc.Create(ctx, taxonomy.BridgeTypes, records.CreateInput{Name: "Old bridge"})
	require.NoError(t, err)
	_, err = svc.Delete(ctx, taxonomy.BridgeTypes, retired.ID, false)
	require.NoError(t, err)
	_, err = svc.Create(ctx, taxonomy.BridgeParts, records.CreateInput{Name: "Deck", ParentID: &beam.ID})
	require.NoError(t, err)

	store := &memStore{objects: map[string][]byte{}}
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	e := &Exporter{Records: svc, Store: store, Now: func() time.Time { return at }}

	key, err := e.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/20240501T080000Z.json", key)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(store.objects[key], &snap))
	assert.True(t, snap.TakenAt.Equal(at))
	assert.Equal(t, taxonomy.Bridge().Types(), snap.Levels)
	require.Len(t, snap.Roots, 2, "retired roots are left out")
	assert.Equal(t, "BT-01", snap.Roots[0].Code)
	require.Len(t, snap.Roots[0].Children, 1)
	assert.Equal(t, "BT-01-01", snap.Roots[0].Children[0].Code)
	assert.Equal(t, "BT-02", snap.Roots[1].Code)
}

func TestExportStoreFailure(t *testing.T) {
	svc := newService(t)
	e := &Exporter{Records: svc, Store: &memStore{err: errors.New("bucket gone")}}
	_, err := e.Export(context.Background())
	assert.ErrorContains(t, err, "bucket gone")
}

func TestKey(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.FixedZone("CST", 8*3600))
	assert.Equal(t, "snapshots/20240501T023000Z.json", Key("", at))
	assert.Equal(t, "backups/20240501T023000Z.json", Key("backups", at))
}
