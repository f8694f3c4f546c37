package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr              string
	DBDriver          string
	DBDSN             string
	AutoMigrate       bool
	CodeReusePolicy   string
	StrictCode        bool
	CodeRetryAttempts int
	CodeRetryBackoff  time.Duration
	MaxPageSize       int
	DefaultPageSize   int
	LogLevel          string
	LogFormat         string
	ShutdownTimeout   time.Duration

	// Snapshot export is disabled while MinIOEndpoint is empty.
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOSecure    bool
	MinIOBucket    string
	SnapshotPrefix string
}

var defaults = map[string]any{
	"ADDR":                     ":8080",
	"DB_DRIVER":                "mysql",
	"DB_DSN":                   "",
	"MYSQL_DSN":                "bridge:bridge@tcp(127.0.0.1:3306)/bridge?charset=utf8mb4&parseTime=True&loc=UTC",
	"AUTO_MIGRATE":             true,
	"CODE_REUSE_POLICY":        "reuse",
	"STRICT_CODE":              true,
	"CODE_RETRY_ATTEMPTS":      5,
	"CODE_RETRY_BACKOFF_MS":    20,
	"MAX_PAGE_SIZE":            100,
	"DEFAULT_PAGE_SIZE":        20,
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "text",
	"SHUTDOWN_TIMEOUT_SECONDS": 10,
	"MINIO_ENDPOINT":           "",
	"MINIO_ACCESS_KEY":         "minioadmin",
	"MINIO_SECRET_KEY":         "minioadmin",
	"MINIO_SECURE":             false,
	"MINIO_BUCKET":             "bridgeinspect",
	"SNAPSHOT_PREFIX":          "snapshots",
}

// Load reads configuration from the environment and, when file is not
// empty, from that config file. Environment variables win over the file.
func Load(file string) (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) Config {
	dsn := v.GetString("DB_DSN")
	if dsn == "" {
		dsn = v.GetString("MYSQL_DSN")
	}
	return Config{
		Addr:              v.GetString("ADDR"),
		DBDriver:          v.GetString("DB_DRIVER"),
		DBDSN:             dsn,
		AutoMigrate:       v.GetBool("AUTO_MIGRATE"),
		CodeReusePolicy:   v.GetString("CODE_REUSE_POLICY"),
		StrictCode:        v.GetBool("STRICT_CODE"),
		CodeRetryAttempts: v.GetInt("CODE_RETRY_ATTEMPTS"),
		CodeRetryBackoff:  time.Duration(v.GetInt("CODE_RETRY_BACKOFF_MS")) * time.Millisecond,
		MaxPageSize:       v.GetInt("MAX_PAGE_SIZE"),
		DefaultPageSize:   v.GetInt("DEFAULT_PAGE_SIZE"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
		ShutdownTimeout:   time.Duration(v.GetInt("SHUTDOWN_TIMEOUT_SECONDS")) * time.Second,
		MinIOEndpoint:     v.GetString("MINIO_ENDPOINT"),
		MinIOAccessKey:    v.GetString("MINIO_ACCESS_KEY"),
		MinIOSecretKey:    v.GetString("MINIO_SECRET_KEY"),
		MinIOSecure:       v.GetBool("MINIO_SECURE"),
		MinIOBucket:       v.GetString("MINIO_BUCKET"),
		SnapshotPrefix:    v.GetString("SNAPSHOT_PREFIX"),
	}
}
