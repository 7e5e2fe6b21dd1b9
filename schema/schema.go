// Package schema validates records against a JSON Schema (draft-07 subset)
// and reports every field-level violation it finds.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Violation describes one failed rule.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// Validate checks a document against a schema and returns all violations.
// A nil schema accepts everything.
//
// Supported JSON Schema keywords:
//   - type (string, number, integer, boolean, object, array, null)
//   - properties, required, additionalProperties
//   - items (for arrays)
//   - minimum, maximum, exclusiveMinimum, exclusiveMaximum
//   - minLength, maxLength
//   - minItems, maxItems
//   - enum
func Validate(schema map[string]any, doc map[string]any) []Violation {
	return validate(schema, doc, false)
}

// ValidatePartial is Validate with top-level "required" rules skipped, for
// checking a partial update on its own.
func ValidatePartial(schema map[string]any, doc map[string]any) []Violation {
	return validate(schema, doc, true)
}

func validate(schema map[string]any, doc map[string]any, partial bool) []Violation {
	if schema == nil {
		return nil
	}
	v := &validator{partial: partial}
	v.value(schema, doc, "")
	return v.violations
}

type validator struct {
	partial    bool
	violations []Violation
}

func (v *validator) fail(path, rule, format string, args ...any) {
	v.violations = append(v.violations, Violation{
		Field:   path,
		Rule:    rule,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) value(schema map[string]any, value any, path string) {
	if t, ok := schema["type"].(string); ok {
		if !typeMatches(t, value) {
			v.fail(path, "type", "expected type %q, got %q", t, jsonType(value))
			return
		}
	}

	if enumList, ok := schema["enum"].([]any); ok {
		if !inEnum(enumList, value) {
			v.fail(path, "enum", "value not in enum %v", enumList)
		}
	}

	switch val := value.(type) {
	case map[string]any:
		v.object(schema, val, path)
	case []any:
		v.array(schema, val, path)
	case string:
		v.str(schema, val, path)
	default:
		if f, ok := toFloat(value); ok {
			v.number(schema, f, path)
		}
	}
}

func typeMatches(expected string, value any) bool {
	actual := jsonType(value)
	switch expected {
	case "integer":
		if f, ok := toFloat(value); ok {
			return f == float64(int64(f))
		}
		return false
	case "number":
		return actual == "number" || actual == "integer"
	}
	return actual == expected
}

func jsonType(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, json.Number:
		return "number"
	case int, int64, int32:
		return "integer"
	default:
		return reflect.TypeOf(v).String()
	}
}

func inEnum(allowed []any, value any) bool {
	for _, a := range allowed {
		if reflect.DeepEqual(a, value) {
			return true
		}
		fa, okA := toFloat(a)
		fv, okV := toFloat(value)
		if okA && okV && fa == fv {
			return true
		}
	}
	return false
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func (v *validator) object(schema map[string]any, obj map[string]any, path string) {
	if req, ok := schema["required"].([]any); ok && !(v.partial && path == "") {
		for _, r := range req {
			if field, ok := r.(string); ok {
				if _, exists := obj[field]; !exists {
					v.fail(join(path, field), "required", "missing required field %q", field)
				}
			}
		}
	}

	propsMap, _ := schema["properties"].(map[string]any)
	fields := make([]string, 0, len(propsMap))
	for field := range propsMap {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		val, exists := obj[field]
		if !exists {
			continue
		}
		ps, ok := propsMap[field].(map[string]any)
		if !ok {
			continue
		}
		v.value(ps, val, join(path, field))
	}

	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		var extra []string
		for field := range obj {
			if _, defined := propsMap[field]; !defined && !(path == "" && field == "id") {
				extra = append(extra, field)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			v.fail(path, "additionalProperties", "additional properties not allowed: %s", strings.Join(extra, ", "))
		}
	}
}

func (v *validator) array(schema map[string]any, arr []any, path string) {
	if n, ok := toFloat(schema["minItems"]); ok && float64(len(arr)) < n {
		v.fail(path, "minItems", "array length %d is less than minItems %v", len(arr), n)
	}
	if n, ok := toFloat(schema["maxItems"]); ok && float64(len(arr)) > n {
		v.fail(path, "maxItems", "array length %d is greater than maxItems %v", len(arr), n)
	}
	if itemSchema, ok := schema["items"].(map[string]any); ok {
		for i, elem := range arr {
			v.value(itemSchema, elem, fmt.Sprintf("%s[%d]", path, i))
		}
	}
}

func (v *validator) str(schema map[string]any, s string, path string) {
	if n, ok := toFloat(schema["minLength"]); ok && float64(len(s)) < n {
		v.fail(path, "minLength", "string length %d is less than minLength %v", len(s), n)
	}
	if n, ok := toFloat(schema["maxLength"]); ok && float64(len(s)) > n {
		v.fail(path, "maxLength", "string length %d is greater than maxLength %v", len(s), n)
	}
}

func (v *validator) number(schema map[string]any, n float64, path string) {
	if m, ok := toFloat(schema["minimum"]); ok && n < m {
		v.fail(path, "minimum", "%v is less than minimum %v", n, m)
	}
	if m, ok := toFloat(schema["maximum"]); ok && n > m {
		v.fail(path, "maximum", "%v is greater than maximum %v", n, m)
	}
	if m, ok := toFloat(schema["exclusiveMinimum"]); ok && n <= m {
		v.fail(path, "exclusiveMinimum", "%v is not greater than exclusiveMinimum %v", n, m)
	}
	if m, ok := toFloat(schema["exclusiveMaximum"]); ok && n >= m {
		v.fail(path, "exclusiveMaximum", "%v is not less than exclusiveMaximum %v", n, m)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
