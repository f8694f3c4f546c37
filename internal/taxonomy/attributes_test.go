package taxonomy

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scaleSchema(t *testing.T) Schema {
	t.Helper()
	s, err := Bridge().Describe(BridgeScales)
	require.NoError(t, err)
	return s
}

func TestNormalizeAttributes(t *testing.T) {
	s := scaleSchema(t)
	tests := []struct {
		name    string
		in      map[string]any
		wantErr bool
		check   func(t *testing.T, out map[string]any)
	}{
		{
			name: "enum upper-cased",
			in:   map[string]any{"scale_type": " range "},
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, ScaleRange, out["scale_type"])
			},
		},
		{
			name: "json numbers become int64",
			in:   map[string]any{"min_value": float64(1), "max_value": json.Number("5")},
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, int64(1), out["min_value"])
				assert.Equal(t, int64(5), out["max_value"])
			},
		},
		{
			name: "nil drops the key",
			in:   map[string]any{"unit": nil, "display_text": " mm "},
			check: func(t *testing.T, out map[string]any) {
				assert.NotContains(t, out, "unit")
				assert.Equal(t, "mm", out["display_text"])
			},
		},
		{name: "unknown attribute", in: map[string]any{"colour": "red"}, wantErr: true},
		{name: "fractional int", in: map[string]any{"scale_value": 1.5}, wantErr: true},
		{name: "enum outside set", in: map[string]any{"scale_type": "LOG"}, wantErr: true},
		{name: "string too long", in: map[string]any{"unit": strings.Repeat("x", 33)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.NormalizeAttributes(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, out)
			}
		})
	}
}

func TestCheckScale(t *testing.T) {
	assert.NoError(t, checkScale(map[string]any{"scale_type": ScaleNumeric}))
	assert.NoError(t, checkScale(map[string]any{"scale_type": ScaleRange, "min_value": int64(1), "max_value": int64(3)}))
	assert.Error(t, checkScale(map[string]any{"scale_type": ScaleRange, "min_value": int64(1)}))
	assert.Error(t, checkScale(map[string]any{"min_value": int64(4), "max_value": int64(3)}))
}
