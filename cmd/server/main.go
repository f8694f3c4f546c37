package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"bridgeinspect/internal/config"
	"bridgeinspect/internal/db"
	"bridgeinspect/internal/logging"
	"bridgeinspect/internal/records"
	"bridgeinspect/internal/settings"
	"bridgeinspect/internal/snapshot"
	"bridgeinspect/internal/storage"
	"bridgeinspect/internal/taxonomy"
)

// configFile is set by the --config flag.
var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "bridgeinspect",
	Short:         "Bridge inspection taxonomy service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (environment variables override it)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
}

// runtime holds what every subcommand needs.
type runtime struct {
	cfg    config.Config
	log    *slog.Logger
	db     *gorm.DB
	policy records.ReusePolicy
	tax    *taxonomy.Registry
}

func setup() (*runtime, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	policy, err := records.ParseReusePolicy(cfg.CodeReusePolicy)
	if err != nil {
		return nil, err
	}
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	return &runtime{cfg: cfg, log: logger, db: gdb, policy: policy, tax: taxonomy.Bridge()}, nil
}

// migrate builds the schema for the configured policy and records it.
func (rt *runtime) migrate() error {
	if err := db.Migrate(rt.db, rt.tax, rt.policy == records.ReuseAllow); err != nil {
		return err
	}
	return settings.SaveCodeReusePolicy(rt.db, string(rt.policy))
}

// options turns the configuration into engine options.
func (rt *runtime) options() records.Options {
	opts := records.DefaultOptions()
	opts.Policy = rt.policy
	opts.StrictCode = rt.cfg.StrictCode
	opts.RetryAttempts = rt.cfg.CodeRetryAttempts
	opts.RetryBackoff = rt.cfg.CodeRetryBackoff
	opts.MaxPageSize = rt.cfg.MaxPageSize
	opts.DefaultPageSize = rt.cfg.DefaultPageSize
	opts.Logger = rt.log
	return opts
}

var errSnapshotsDisabled = errors.New("snapshot export needs MINIO_ENDPOINT")

// snapshots connects the object store, or returns errSnapshotsDisabled.
func (rt *runtime) snapshots(ctx context.Context, svc *records.Service) (*snapshot.Exporter, *storage.MinioStore, error) {
	if rt.cfg.MinIOEndpoint == "" {
		return nil, nil, errSnapshotsDisabled
	}
	store, err := storage.NewMinioStore(ctx, rt.cfg.MinIOEndpoint, rt.cfg.MinIOAccessKey, rt.cfg.MinIOSecretKey, rt.cfg.MinIOSecure, rt.cfg.MinIOBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("minio connect failed: %w", err)
	}
	return &snapshot.Exporter{Records: svc, Store: store, Prefix: rt.cfg.SnapshotPrefix}, store, nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
