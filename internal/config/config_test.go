package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Contains(t, cfg.DBDSN, "tcp(127.0.0.1:3306)")
	assert.Equal(t, "reuse", cfg.CodeReusePolicy)
	assert.True(t, cfg.StrictCode)
	assert.Equal(t, 5, cfg.CodeRetryAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.CodeRetryBackoff)
	assert.Equal(t, 100, cfg.MaxPageSize)
	assert.Equal(t, 20, cfg.DefaultPageSize)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.MinIOEndpoint)
	assert.Equal(t, "bridgeinspect", cfg.MinIOBucket)
	assert.Equal(t, "snapshots", cfg.SnapshotPrefix)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "file:test.db")
	t.Setenv("CODE_REUSE_POLICY", "retire")
	t.Setenv("STRICT_CODE", "false")
	t.Setenv("CODE_RETRY_BACKOFF_MS", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "file:test.db", cfg.DBDSN)
	assert.Equal(t, "retire", cfg.CodeReusePolicy)
	assert.False(t, cfg.StrictCode)
	assert.Equal(t, 5*time.Millisecond, cfg.CodeRetryBackoff)
}

func TestLoadMySQLDSNFallback(t *testing.T) {
	t.Setenv("MYSQL_DSN", "u:p@tcp(db:3306)/bridge")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(db:3306)/bridge", cfg.DBDSN)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridgeinspect.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9090\"\nmax_page_size: 50\nlog_format: json\n"), 0o600))
	t.Setenv("MAX_PAGE_SIZE", "60")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 60, cfg.MaxPageSize)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
