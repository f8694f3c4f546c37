package records

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bridgeinspect/internal/models"
)

// Entity is the plain-data view of a taxonomy row returned to callers.
type Entity struct {
	Type        string         `json:"type"`
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	ParentID    *string        `json:"parentId"`
	SortOrder   int            `json:"sortOrder"`
	Attributes  map[string]any `json:"attributes"`
	IsActive    bool           `json:"isActive"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Ref points at one row of one level.
type Ref struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

type CreateInput struct {
	Name        string         `json:"name" validate:"required,max=100"`
	Description *string        `json:"description" validate:"omitempty,max=500"`
	ParentID    *string        `json:"parentId" validate:"omitempty,max=36"`
	SortOrder   int            `json:"sortOrder" validate:"gte=0"`
	Code        string         `json:"code" validate:"omitempty,max=64"`
	CodePrefix  string         `json:"codePrefix" validate:"omitempty,max=48"`
	Attributes  map[string]any `json:"attributes"`
}

// UpdateInput carries a partial update; nil fields are left untouched.
// Attribute keys are merged into the stored set and a nil value removes one.
type UpdateInput struct {
	Name        *string        `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string        `json:"description" validate:"omitempty,max=500"`
	ParentID    *string        `json:"parentId" validate:"omitempty,max=36"`
	SortOrder   *int           `json:"sortOrder" validate:"omitempty,gte=0"`
	Code        *string        `json:"code"`
	Attributes  map[string]any `json:"attributes"`
}

type GetOptions struct {
	IncludeInactive bool
}

type DeleteResult struct {
	Deleted []Ref `json:"deleted"`
}

// RestoreResult is the restored row plus, for a cascading restore, every
// descendant brought back with it.
type RestoreResult struct {
	Record   Entity `json:"record"`
	Restored []Ref  `json:"restored"`
}

// ReusePolicy decides whether retired rows still hold their code for
// uniqueness checks. Generated numbering skips retired codes either way.
type ReusePolicy string

const (
	// ReuseAllow frees a code when its row is soft-deleted, so it can be
	// claimed again by a supplied code or a reparented row.
	ReuseAllow ReusePolicy = "reuse"
	// ReuseRetire keeps every code reserved in its scope forever.
	ReuseRetire ReusePolicy = "retire"
)

func ParseReusePolicy(s string) (ReusePolicy, error) {
	switch ReusePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReuseAllow:
		return ReuseAllow, nil
	case ReuseRetire:
		return ReuseRetire, nil
	}
	return "", fmt.Errorf("unknown code reuse policy %q", s)
}

// Observer receives operation outcomes. internal/metrics implements it.
type Observer interface {
	ObserveOperation(entityType, op, outcome string, elapsed time.Duration)
	CodeRetry(entityType string)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, string, time.Duration) {}
func (nopObserver) CodeRetry(string)                                       {}

type Options struct {
	Policy          ReusePolicy
	StrictCode      bool
	RetryAttempts   int
	RetryBackoff    time.Duration
	MaxPageSize     int
	DefaultPageSize int
	Now             func() time.Time
	Logger          *slog.Logger
	Observer        Observer
}

func DefaultOptions() Options {
	return Options{
		Policy:          ReuseAllow,
		StrictCode:      true,
		RetryAttempts:   5,
		RetryBackoff:    20 * time.Millisecond,
		MaxPageSize:     100,
		DefaultPageSize: 20,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Policy == "" {
		o.Policy = def.Policy
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = def.RetryAttempts
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = def.MaxPageSize
	}
	if o.DefaultPageSize <= 0 || o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = min(def.DefaultPageSize, o.MaxPageSize)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

func toEntity(entityType string, rec models.Record) (Entity, error) {
	attrs := map[string]any{}
	if len(rec.Attributes) > 0 {
		if err := json.Unmarshal(rec.Attributes, &attrs); err != nil {
			return Entity{}, fmt.Errorf("decode attributes of %s %s: %w", entityType, rec.ID, err)
		}
	}
	return Entity{
		Type:        entityType,
		ID:          rec.ID,
		Code:        rec.Code,
		Name:        rec.Name,
		Description: rec.Description,
		ParentID:    rec.ParentID,
		SortOrder:   rec.SortOrder,
		Attributes:  attrs,
		IsActive:    rec.IsActive,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// newID returns a time-ordered UUID v7, falling back to v4.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
