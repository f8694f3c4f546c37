package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"bridgeinspect/internal/models"
	"bridgeinspect/internal/taxonomy"
)

// CodeGenerator computes parent-scoped codes. It only reads; the insert that
// claims the code happens in the caller's transaction.
type CodeGenerator struct {
	policy ReusePolicy
}

func NewCodeGenerator(policy ReusePolicy) *CodeGenerator {
	return &CodeGenerator{policy: policy}
}

// Next returns max(sequence)+1 formatted under the scope's prefix. Retired
// siblings count towards the max under every policy, so a generated number is
// never issued twice in a scope.
func (g *CodeGenerator) Next(tx *gorm.DB, schema taxonomy.Schema, parent *models.Record, prefixOverride string) (string, error) {
	rule := schema.CodeRule
	var parentCode string
	var parentID *string
	if parent != nil {
		parentCode = parent.Code
		parentID = &parent.ID
	}
	prefix := rule.ScopePrefix(prefixOverride, parentCode)

	q := tx.Table(schema.Table).
		Where("scope_key = ?", models.Scope(parentID)).
		Where("code LIKE ? ESCAPE '!'", escapeLike(prefix+rule.Separator)+"%")
	var codes []string
	if err := q.Pluck("code", &codes).Error; err != nil {
		return "", err
	}

	highest := 0
	for _, code := range codes {
		if n, ok := rule.Sequence(prefix, code); ok && n > highest {
			highest = n
		}
	}
	return rule.Format(prefix, highest+1), nil
}

// Reserve checks a caller-supplied code against its scope.
func (g *CodeGenerator) Reserve(tx *gorm.DB, schema taxonomy.Schema, scope, code string) error {
	if !schema.CodeRule.AllowCustom {
		return validationf("%s codes are generated and cannot be supplied", schema.Label)
	}
	if !taxonomy.ValidCustomCode(code) {
		return validationf("invalid code %q", code)
	}
	taken, err := g.taken(tx, schema, scope, code, "")
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s %q", ErrCodeConflict, schema.Label, code)
	}
	return nil
}

// taken reports whether code is held in scope by a row other than exceptID.
// Retired rows hold their code under the retire policy.
func (g *CodeGenerator) taken(tx *gorm.DB, schema taxonomy.Schema, scope, code, exceptID string) (bool, error) {
	q := tx.Table(schema.Table).Where("scope_key = ? AND code = ?", scope, code)
	if g.policy == ReuseAllow {
		q = q.Where("is_active = ?", true)
	}
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// retryOnDuplicate runs fn until it stops failing with a duplicate-key error,
// sleeping attempt*backoff between tries. After attempts tries it gives up
// with ErrCodeGenerationExhausted.
func retryOnDuplicate(ctx context.Context, attempts int, backoff time.Duration, onRetry func(attempt int, err error), fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil || !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w: %d attempts", ErrCodeGenerationExhausted, attempts)
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(time.Duration(attempt) * backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// escapeLike escapes LIKE wildcards using '!' as the escape character, which
// every supported dialect accepts without string-literal quirks.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
