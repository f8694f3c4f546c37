package db

import (
	"fmt"

	"gorm.io/gorm"

	"bridgeinspect/internal/models"
	"bridgeinspect/internal/taxonomy"
)

// Migrate creates one table per taxonomy level plus the settings table, and
// the unique index that backs code uniqueness. With liveCodes the index covers
// (scope_key, live_code) so retired rows release their code; otherwise it
// covers (scope_key, code) and codes stay reserved forever.
func Migrate(gdb *gorm.DB, registry *taxonomy.Registry, liveCodes bool) error {
	if err := gdb.AutoMigrate(&models.AppSetting{}); err != nil {
		return err
	}
	for _, schema := range registry.Schemas() {
		if err := gdb.Table(schema.Table).AutoMigrate(&models.Record{}); err != nil {
			return fmt.Errorf("migrate %s: %w", schema.Table, err)
		}
		if err := ensureCodeIndex(gdb, schema.Table, liveCodes); err != nil {
			return fmt.Errorf("index %s: %w", schema.Table, err)
		}
	}
	return nil
}

func ensureCodeIndex(gdb *gorm.DB, table string, liveCodes bool) error {
	want, drop := codeIndexName(table, liveCodes), codeIndexName(table, !liveCodes)
	m := gdb.Migrator()
	if m.HasIndex(table, drop) {
		if err := m.DropIndex(table, drop); err != nil {
			return err
		}
	}
	if m.HasIndex(table, want) {
		return nil
	}
	column := "code"
	if liveCodes {
		column = "live_code"
	}
	return gdb.Exec(fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (scope_key, %s)", want, table, column)).Error
}

func codeIndexName(table string, liveCodes bool) string {
	if liveCodes {
		return "uq_" + table + "_scope_live_code"
	}
	return "uq_" + table + "_scope_code"
}
