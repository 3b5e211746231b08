package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Rule checks one field value and returns the sanitized value.
// A non-nil error's message becomes the field's rejection reason.
type Rule func(value interface{}) (interface{}, error)

// Field describes the rules for one payload key.
type Field struct {
	Required bool
	Rules    []Rule
}

// Schema maps payload keys to their rules. Keys not named here are
// passed through untouched.
type Schema map[string]Field

// Req builds a required field.
func Req(rules ...Rule) Field {
	return Field{Required: true, Rules: rules}
}

// Opt builds an optional field. Null values are accepted for optional fields.
func Opt(rules ...Rule) Field {
	return Field{Rules: rules}
}

// validate is shared across goroutines; validator.Validate is safe for concurrent use.
var validate = validator.New()

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// NumericID accepts digit-only strings up to maxLen characters.
func NumericID(maxLen int) Rule {
	tag := fmt.Sprintf("required,number,max=%d", maxLen)
	return func(value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		s = strings.TrimSpace(s)
		if err := validate.Var(s, tag); err != nil {
			return nil, fmt.Errorf("must be a numeric id of at most %d digits", maxLen)
		}
		return s, nil
	}
}

// Handle accepts login-style names made of letters, digits and underscores.
func Handle(maxLen int) Rule {
	return func(value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		s = strings.TrimSpace(s)
		if s == "" || len(s) > maxLen {
			return nil, fmt.Errorf("must be 1-%d characters", maxLen)
		}
		if !handlePattern.MatchString(s) {
			return nil, fmt.Errorf("contains characters outside [A-Za-z0-9_]")
		}
		return s, nil
	}
}

// OneOf accepts only the listed string values.
func OneOf(values ...string) Rule {
	tag := "oneof=" + strings.Join(values, " ")
	return func(value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		if err := validate.Var(s, tag); err != nil {
			return nil, fmt.Errorf("must be one of %v", values)
		}
		return s, nil
	}
}

// Text accepts a string of at most maxLen runes with no control characters
// other than newline and tab. Surrounding whitespace is trimmed.
func Text(maxLen int) Rule {
	return func(value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		s = strings.TrimSpace(s)
		if len([]rune(s)) > maxLen {
			return nil, fmt.Errorf("exceeds %d characters", maxLen)
		}
		if hasControlChars(s) {
			return nil, fmt.Errorf("contains control characters")
		}
		return s, nil
	}
}

// StringList accepts a list of at most maxItems strings, each at most maxItemLen runes.
func StringList(maxItems, maxItemLen int) Rule {
	item := Text(maxItemLen)
	return func(value interface{}) (interface{}, error) {
		var raw []interface{}
		switch t := value.(type) {
		case []interface{}:
			raw = t
		case []string:
			raw = make([]interface{}, len(t))
			for i, s := range t {
				raw[i] = s
			}
		default:
			return nil, fmt.Errorf("must be a list of strings")
		}
		if len(raw) > maxItems {
			return nil, fmt.Errorf("exceeds %d items", maxItems)
		}
		out := make([]interface{}, len(raw))
		for i, v := range raw {
			clean, err := item(v)
			if err != nil {
				return nil, fmt.Errorf("item %d: %v", i, err)
			}
			out[i] = clean
		}
		return out, nil
	}
}

// NonNegativeInt accepts whole numbers >= 0.
func NonNegativeInt() Rule {
	return intRule(0, "must be a non-negative integer")
}

// PositiveInt accepts whole numbers >= 1.
func PositiveInt() Rule {
	return intRule(1, "must be a positive integer")
}

func intRule(min int64, reason string) Rule {
	return func(value interface{}) (interface{}, error) {
		n, ok := asInt(value)
		if !ok || n < min {
			return nil, fmt.Errorf("%s", reason)
		}
		return value, nil
	}
}

// NonNegativeNumber accepts any finite number >= 0.
func NonNegativeNumber() Rule {
	return func(value interface{}) (interface{}, error) {
		f, ok := asFloat(value)
		if !ok || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("must be a non-negative number")
		}
		return value, nil
	}
}

// Bool accepts only booleans.
func Bool() Rule {
	return func(value interface{}) (interface{}, error) {
		if _, ok := value.(bool); !ok {
			return nil, fmt.Errorf("must be a boolean")
		}
		return value, nil
	}
}

// Timestamp accepts ISO-8601 strings.
func Timestamp() Rule {
	return func(value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be an ISO-8601 timestamp string")
		}
		s = strings.TrimSpace(s)
		if _, ok := ParseISO8601(s); !ok {
			return nil, fmt.Errorf("must be an ISO-8601 timestamp")
		}
		return s, nil
	}
}

// Object validates a nested mapping against its own schema.
func Object(schema Schema) Rule {
	return func(value interface{}) (interface{}, error) {
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("must be an object")
		}
		clean, errs := schema.apply(m)
		if len(errs) > 0 {
			// the first nested failure is reported under the parent field
			return nil, fmt.Errorf("%s: %s", errs[0].Field, errs[0].Reason)
		}
		return clean, nil
	}
}

// ObjectList validates each element of a list against a schema.
func ObjectList(maxItems int, schema Schema) Rule {
	obj := Object(schema)
	return func(value interface{}) (interface{}, error) {
		raw, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("must be a list of objects")
		}
		if len(raw) > maxItems {
			return nil, fmt.Errorf("exceeds %d items", maxItems)
		}
		out := make([]interface{}, len(raw))
		for i, v := range raw {
			clean, err := obj(v)
			if err != nil {
				return nil, fmt.Errorf("item %d: %v", i, err)
			}
			out[i] = clean
		}
		return out, nil
	}
}

// apply runs the schema against payload and returns a sanitized copy.
func (s Schema) apply(payload map[string]interface{}) (map[string]interface{}, []*FieldError) {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	var errs []*FieldError
	for _, name := range sortedKeys(s) {
		field := s[name]
		value, present := payload[name]
		if !present || value == nil {
			if field.Required {
				errs = append(errs, &FieldError{Field: name, Reason: "required field is missing"})
			}
			continue
		}

		for _, rule := range field.Rules {
			clean, err := rule(value)
			if err != nil {
				errs = append(errs, &FieldError{Field: name, Reason: err.Error()})
				break
			}
			value = clean
		}
		out[name] = value
	}
	return out, errs
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

func asInt(value interface{}) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseISO8601 parses the ISO-8601 variants producers are known to send.
// Timestamps without a zone are taken as UTC.
func ParseISO8601(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
