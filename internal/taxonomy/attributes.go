package taxonomy

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type AttrKind string

const (
	AttrString AttrKind = "string"
	AttrInt    AttrKind = "int"
	AttrEnum   AttrKind = "enum"
)

// Attribute is an extra per-level field stored in the JSON attributes column.
type Attribute struct {
	Name   string   `json:"name"`
	Kind   AttrKind `json:"kind"`
	Enum   []string `json:"enum,omitempty"`
	MaxLen int      `json:"maxLen,omitempty"`
}

// NormalizeAttributes checks values against the declared attributes and
// returns a cleaned copy. Nil values remove the key.
func (s Schema) NormalizeAttributes(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for key, raw := range in {
		attr, ok := s.Attribute(key)
		if !ok {
			return nil, fmt.Errorf("unknown attribute %q for %s", key, s.Type)
		}
		if raw == nil {
			continue
		}
		v, err := attr.normalize(raw)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (a Attribute) normalize(raw any) (any, error) {
	switch a.Kind {
	case AttrInt:
		n, ok := toInt(raw)
		if !ok {
			return nil, fmt.Errorf("attribute %q must be an integer", a.Name)
		}
		return n, nil
	case AttrEnum:
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("attribute %q must be a string", a.Name)
		}
		str = strings.ToUpper(strings.TrimSpace(str))
		for _, e := range a.Enum {
			if e == str {
				return str, nil
			}
		}
		return nil, fmt.Errorf("attribute %q must be one of %s", a.Name, strings.Join(a.Enum, ", "))
	default:
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("attribute %q must be a string", a.Name)
		}
		str = strings.TrimSpace(str)
		if a.MaxLen > 0 && len([]rune(str)) > a.MaxLen {
			return nil, fmt.Errorf("attribute %q longer than %d characters", a.Name, a.MaxLen)
		}
		return str, nil
	}
}

func toInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}
