package models

import (
	"time"

	"gorm.io/datatypes"
)

// RootScope is the scope key of root-level rows, which have no parent.
const RootScope = "-"

// Record is one row of a taxonomy level table. Every level shares the same
// columns; the table is chosen per call with db.Table.
type Record struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Code        string         `gorm:"size:64;not null" json:"code"`
	Name        string         `gorm:"size:100;not null;index" json:"name"`
	Description *string        `gorm:"size:500" json:"description"`
	ParentID    *string        `gorm:"size:36;index" json:"parentId"`
	ScopeKey    string         `gorm:"size:36;not null" json:"-"`
	LiveCode    *string        `gorm:"size:64" json:"-"`
	SortOrder   int            `gorm:"not null;default:0" json:"sortOrder"`
	Attributes  datatypes.JSON `json:"attributes"`
	IsActive    bool           `gorm:"not null;default:true;index" json:"isActive"`
	CreatedAt   time.Time      `gorm:"autoCreateTime:false;precision:6;index" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime:false;precision:6" json:"updatedAt"`
}

// Scope returns the uniqueness scope key for a parent id.
func Scope(parentID *string) string {
	if parentID == nil || *parentID == "" {
		return RootScope
	}
	return *parentID
}
