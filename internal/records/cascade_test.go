package records

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"

	"bridgeinspect/internal/db"
	"bridgeinspect/internal/taxonomy"
)

func newMockService(t *testing.T, configure func(*Options)) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := db.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}))
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	if configure != nil {
		configure(&opts)
	}
	return NewService(gdb, taxonomy.Bridge(), opts), mock
}

func targetRow(id string) *sqlmock.Rows {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "code", "name", "scope_key", "is_active", "created_at", "updated_at"}).
		AddRow(id, "BT-01", "Beam bridge", "-", true, now, now)
}

func TestCascadeDeleteRollsBackOnFailure(t *testing.T) {
	svc, mock := newMockService(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `bridge_types`") + ".*FOR UPDATE").
		WillReturnRows(targetRow("bt-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`,`is_active` FROM `bridge_parts`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_active"}).AddRow("p-1", true).AddRow("p-2", false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`,`is_active` FROM `bridge_structures`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_active"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `bridge_types`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `bridge_parts`")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	res, err := svc.Delete(context.Background(), taxonomy.BridgeTypes, "bt-1", true)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrCascadeFailure), "got %v", err)
	assert.Equal(t, KindCascadeFailure, KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCascadeDeleteFailsWhenDescendantsCannotBeRead(t *testing.T) {
	svc, mock := newMockService(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `bridge_types`")).
		WillReturnRows(targetRow("bt-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`,`is_active` FROM `bridge_parts`")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := svc.Delete(context.Background(), taxonomy.BridgeTypes, "bt-1", true)
	assert.True(t, errors.Is(err, ErrCascadeFailure), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDescendantsOfWalksLevels(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	c := createChain(t, svc, "Beam")

	refs, err := NewCascadeResolver(svc.Registry()).DescendantsOf(ctx, svc.db, taxonomy.BridgeDiseases, c.ids[taxonomy.BridgeDiseases])
	require.NoError(t, err)
	assert.Equal(t, []Ref{{Type: taxonomy.BridgeScales, ID: c.ids[taxonomy.BridgeScales], Active: true}}, refs)

	refs, err = NewCascadeResolver(svc.Registry()).DescendantsOf(ctx, svc.db, taxonomy.BridgeScales, c.ids[taxonomy.BridgeScales])
	require.NoError(t, err)
	assert.Empty(t, refs, "terminal level has no descendants")

	_, err = NewCascadeResolver(svc.Registry()).DescendantsOf(ctx, svc.db, "bridge_widgets", "x")
	assert.True(t, errors.Is(err, ErrUnknownEntityType))
}
