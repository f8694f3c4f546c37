package taxonomy

import "fmt"

// Bridge level tokens, root first.
const (
	BridgeTypes          = "bridge_types"
	BridgeParts          = "bridge_parts"
	BridgeStructures     = "bridge_structures"
	BridgeComponentTypes = "bridge_component_types"
	BridgeComponentForms = "bridge_component_forms"
	BridgeDiseases       = "bridge_diseases"
	BridgeScales         = "bridge_scales"
)

// Scale types for evaluation standards.
const (
	ScaleNumeric    = "NUMERIC"
	ScalePercentage = "PERCENTAGE"
	ScaleRange      = "RANGE"
	ScaleText       = "TEXT"
)

// Bridge returns the bridge inspection taxonomy.
func Bridge() *Registry {
	r, err := NewRegistry(BridgeLevels()...)
	if err != nil {
		panic(err)
	}
	return r
}

func BridgeLevels() []Schema {
	return []Schema{
		{
			Type:       BridgeTypes,
			Table:      "bridge_types",
			Label:      "bridge type",
			CodeRule:   CodeRule{Prefix: "BT", Width: 2, AllowCustom: true},
			UniqueName: true,
		},
		{
			Type:        BridgeParts,
			Table:       "bridge_parts",
			Label:       "part",
			ParentField: "bridge_type_id",
			CodeRule:    CodeRule{Width: 2},
			UniqueName:  true,
		},
		{
			Type:        BridgeStructures,
			Table:       "bridge_structures",
			Label:       "structure type",
			ParentField: "part_id",
			CodeRule:    CodeRule{Width: 2},
			UniqueName:  true,
		},
		{
			Type:        BridgeComponentTypes,
			Table:       "bridge_component_types",
			Label:       "component type",
			ParentField: "structure_id",
			CodeRule:    CodeRule{Width: 2},
			UniqueName:  true,
		},
		{
			Type:        BridgeComponentForms,
			Table:       "bridge_component_forms",
			Label:       "component form",
			ParentField: "component_type_id",
			CodeRule:    CodeRule{Width: 2},
			UniqueName:  true,
		},
		{
			Type:        BridgeDiseases,
			Table:       "bridge_diseases",
			Label:       "damage type",
			ParentField: "component_form_id",
			CodeRule:    CodeRule{Width: 2},
			UniqueName:  true,
		},
		{
			Type:        BridgeScales,
			Table:       "bridge_scales",
			Label:       "evaluation standard",
			ParentField: "disease_id",
			CodeRule:    CodeRule{Width: 2},
			UniqueName:  true,
			Attributes: []Attribute{
				{Name: "scale_type", Kind: AttrEnum, Enum: []string{ScaleNumeric, ScalePercentage, ScaleRange, ScaleText}},
				{Name: "scale_value", Kind: AttrInt},
				{Name: "min_value", Kind: AttrInt},
				{Name: "max_value", Kind: AttrInt},
				{Name: "unit", Kind: AttrString, MaxLen: 32},
				{Name: "display_text", Kind: AttrString, MaxLen: 200},
			},
			Check: checkScale,
		},
	}
}

func checkScale(attrs map[string]any) error {
	lo, hasMin := attrs["min_value"].(int64)
	hi, hasMax := attrs["max_value"].(int64)
	if hasMin && hasMax && lo > hi {
		return fmt.Errorf("min_value %d greater than max_value %d", lo, hi)
	}
	if attrs["scale_type"] == ScaleRange && (!hasMin || !hasMax) {
		return fmt.Errorf("RANGE scales need min_value and max_value")
	}
	return nil
}
