// Package settings persists deployment-level choices that the schema depends
// on, so a server never runs against indexes built for another policy.
package settings

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bridgeinspect/internal/models"
)

const KeyCodeReusePolicy = "codes.reuse_policy"

var ErrPolicyMismatch = errors.New("code reuse policy differs from the migrated schema")

// LoadCodeReusePolicy returns the stored policy and whether one was stored.
func LoadCodeReusePolicy(db *gorm.DB) (string, bool, error) {
	var rows []models.AppSetting
	if err := db.Where("setting_key = ?", KeyCodeReusePolicy).Limit(1).Find(&rows).Error; err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Value, true, nil
}

func SaveCodeReusePolicy(db *gorm.DB, policy string) error {
	row := models.AppSetting{Key: KeyCodeReusePolicy, Value: policy}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// CheckCodeReusePolicy fails when the schema was migrated for another policy.
// A schema with no stored policy passes.
func CheckCodeReusePolicy(db *gorm.DB, policy string) error {
	stored, ok, err := LoadCodeReusePolicy(db)
	if err != nil {
		return err
	}
	if ok && stored != policy {
		return fmt.Errorf("%w: configured %q, migrated %q", ErrPolicyMismatch, policy, stored)
	}
	return nil
}
