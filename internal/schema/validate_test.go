package schema

import "testing"

func TestValidate_ObjectRequiredMissing(t *testing.T) {
	s := ObjectSchema{
		Fields: map[string]Value{
			"op": EnumSchema{Values: []string{"add", "sub"}},
			"a":  NumberSchema{},
			"b":  NumberSchema{},
		},
		Required: []string{"op", "a", "b"},
	}
	_, errs := Validate(s, map[string]any{"op": "add", "a": 1.0})
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want 1 error for missing b", errs)
	}
}

func TestValidate_NumberRange(t *testing.T) {
	min := 0.0
	max := 10.0
	s := NumberSchema{Min: &min, Max: &max}
	if _, errs := Validate(s, 15.0); len(errs) == 0 {
		t.Error("expected range error for 15 > max 10")
	}
	if _, errs := Validate(s, 5.0); len(errs) != 0 {
		t.Errorf("unexpected errors for in-range value: %v", errs)
	}
}

func TestValidate_EnumRejectsUnknown(t *testing.T) {
	s := EnumSchema{Values: []string{"x", "y"}}
	if _, errs := Validate(s, "z"); len(errs) == 0 {
		t.Error("expected error for value not in enum")
	}
}

func TestValidate_ArrayItems(t *testing.T) {
	s := ArraySchema{Item: StringSchema{}, MinItems: 2}
	_, errs := Validate(s, []any{"a"})
	if len(errs) == 0 {
		t.Error("expected minItems violation")
	}
	_, errs = Validate(s, []any{"a", 1.0})
	if len(errs) == 0 {
		t.Error("expected type error on second element")
	}
}

func TestValidate_OptionalAllowsNil(t *testing.T) {
	s := OptionalSchema{Inner: StringSchema{}}
	val, errs := Validate(s, nil)
	if len(errs) != 0 || val != nil {
		t.Errorf("optional nil should validate cleanly, got val=%v errs=%v", val, errs)
	}
}

func TestToJSONSchema_Object(t *testing.T) {
	s := ObjectSchema{
		Fields:   map[string]Value{"name": StringSchema{}},
		Required: []string{"name"},
	}
	out := ToJSONSchema(s)
	if out["type"] != "object" {
		t.Errorf("type = %v, want object", out["type"])
	}
	props, ok := out["properties"].(map[string]any)
	if !ok || props["name"] == nil {
		t.Errorf("properties missing name: %v", out)
	}
}
