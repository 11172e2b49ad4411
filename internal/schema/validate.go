package schema

import (
	"fmt"
	"sort"
)

// Validate interprets raw (typically the decoded JSON arguments of a
// ToolCall: map[string]any, []any, string, float64, bool, nil) against v,
// returning a coerced value of the same shape plus every ValidationError
// found. Interpretation proceeds as far as possible even after an error so
// a single Validate call surfaces all problems in one pass, matching the
// dispatcher's need to synthesize one descriptive error string.
func Validate(v Value, raw any) (any, ValidationErrors) {
	return validateAt(v, raw, "")
}

func validateAt(v Value, raw any, path string) (any, ValidationErrors) {
	switch s := v.(type) {
	case OptionalSchema:
		if raw == nil {
			return nil, nil
		}
		return validateAt(s.Inner, raw, path)

	case StringSchema:
		str, ok := raw.(string)
		if !ok {
			return nil, ValidationErrors{fieldErr(path, "expected a string")}
		}
		var errs ValidationErrors
		if s.MinLength > 0 && len(str) < s.MinLength {
			errs = append(errs, fieldErr(path, fmt.Sprintf("shorter than minLength %d", s.MinLength)))
		}
		if s.MaxLength > 0 && len(str) > s.MaxLength {
			errs = append(errs, fieldErr(path, fmt.Sprintf("longer than maxLength %d", s.MaxLength)))
		}
		return str, errs

	case EnumSchema:
		str, ok := raw.(string)
		if !ok {
			return nil, ValidationErrors{fieldErr(path, "expected a string")}
		}
		for _, v := range s.Values {
			if v == str {
				return str, nil
			}
		}
		return str, ValidationErrors{fieldErr(path, fmt.Sprintf("%q is not one of %v", str, s.Values))}

	case NumberSchema:
		num, ok := asFloat(raw)
		if !ok {
			return nil, ValidationErrors{fieldErr(path, "expected a number")}
		}
		var errs ValidationErrors
		if s.Int && num != float64(int64(num)) {
			errs = append(errs, fieldErr(path, "expected an integer"))
		}
		if s.Min != nil && num < *s.Min {
			errs = append(errs, fieldErr(path, fmt.Sprintf("below minimum %v", *s.Min)))
		}
		if s.Max != nil && num > *s.Max {
			errs = append(errs, fieldErr(path, fmt.Sprintf("above maximum %v", *s.Max)))
		}
		return num, errs

	case ArraySchema:
		list, ok := raw.([]any)
		if !ok {
			return nil, ValidationErrors{fieldErr(path, "expected an array")}
		}
		var errs ValidationErrors
		if s.MinItems > 0 && len(list) < s.MinItems {
			errs = append(errs, fieldErr(path, fmt.Sprintf("fewer than minItems %d", s.MinItems)))
		}
		out := make([]any, len(list))
		for i, item := range list {
			coerced, itemErrs := validateAt(s.Item, item, fmt.Sprintf("%s[%d]", path, i))
			out[i] = coerced
			errs = append(errs, itemErrs...)
		}
		return out, errs

	case ObjectSchema:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, ValidationErrors{fieldErr(path, "expected an object")}
		}
		var errs ValidationErrors
		for _, name := range s.Required {
			if _, present := obj[name]; !present {
				errs = append(errs, fieldErr(joinPath(path, name), "required field is missing"))
			}
		}

		fieldNames := make([]string, 0, len(s.Fields))
		for name := range s.Fields {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)

		out := make(map[string]any, len(obj))
		for _, name := range fieldNames {
			fieldVal, present := obj[name]
			if !present {
				continue
			}
			coerced, fieldErrs := validateAt(s.Fields[name], fieldVal, joinPath(path, name))
			out[name] = coerced
			errs = append(errs, fieldErrs...)
		}
		// Pass through fields not declared in the schema unchanged,
		// rather than rejecting them; tools commonly ignore unknown
		// extra keys a model adds.
		for name, val := range obj {
			if _, declared := s.Fields[name]; !declared {
				out[name] = val
			}
		}
		return out, errs

	default:
		return nil, ValidationErrors{fieldErr(path, fmt.Sprintf("unsupported schema node %T", v))}
	}
}

func fieldErr(path, msg string) *ValidationError {
	return &ValidationError{Path: path, Message: msg}
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func asFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
