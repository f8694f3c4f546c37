package settings

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bridgeinspect/internal/db"
	"bridgeinspect/internal/models"
)

func openTemp(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(db.DriverSQLite, filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	require.NoError(t, gdb.AutoMigrate(&models.AppSetting{}))
	return gdb
}

func TestCodeReusePolicyRoundTrip(t *testing.T) {
	gdb := openTemp(t)

	_, ok, err := LoadCodeReusePolicy(gdb)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, CheckCodeReusePolicy(gdb, "retire"), "an unmigrated store accepts any policy")

	require.NoError(t, SaveCodeReusePolicy(gdb, "reuse"))
	require.NoError(t, SaveCodeReusePolicy(gdb, "retire"))

	got, ok, err := LoadCodeReusePolicy(gdb)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "retire", got)

	assert.NoError(t, CheckCodeReusePolicy(gdb, "retire"))
	err = CheckCodeReusePolicy(gdb, "reuse")
	assert.True(t, errors.Is(err, ErrPolicyMismatch), "got %v", err)
}
