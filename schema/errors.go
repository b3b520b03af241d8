package schema

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRequiredKey = errors.New("missing required key")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrInvalidListElement = errors.New("invalid list element")
	ErrInvalidPort        = errors.New("invalid port")
	ErrInvalidValue       = errors.New("invalid value")
	ErrUnknownKey         = errors.New("unknown key")
)

// ValidationError describes one violation of the schema. Err is one of the
// sentinel errors above, so callers can match with errors.Is.
type ValidationError struct {
	Err      error
	Key      string
	Expected string
	Actual   string
	Value    any
	// Index of the offending list element, -1 if the error is not about an element.
	Index int
}

func (e *ValidationError) Error() string {
	switch {
	case errors.Is(e.Err, ErrTypeMismatch):
		return fmt.Sprintf("%s: key %q: expected %s, got %s", e.Err, e.Key, e.Expected, e.Actual)
	case errors.Is(e.Err, ErrInvalidListElement) && e.Index >= 0:
		return fmt.Sprintf("%s: key %q: element %d: expected %s, got %s", e.Err, e.Key, e.Index, e.Expected, e.Actual)
	case errors.Is(e.Err, ErrInvalidListElement):
		return fmt.Sprintf("%s: key %q: %s", e.Err, e.Key, e.Expected)
	case errors.Is(e.Err, ErrInvalidPort):
		return fmt.Sprintf("%s: key %q: %v is outside 1-65535", e.Err, e.Key, e.Value)
	case errors.Is(e.Err, ErrInvalidValue):
		return fmt.Sprintf("%s: key %q: %v (expected %s)", e.Err, e.Key, e.Value, e.Expected)
	default:
		return fmt.Sprintf("%s: %q", e.Err, e.Key)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func missingKey(key string) error {
	return &ValidationError{Err: ErrMissingRequiredKey, Key: key, Index: -1}
}

func typeMismatch(key, expected string, value any) error {
	return &ValidationError{Err: ErrTypeMismatch, Key: key, Expected: expected, Actual: typeName(value), Value: value, Index: -1}
}

func invalidElement(key string, index int, value any) error {
	return &ValidationError{Err: ErrInvalidListElement, Key: key, Expected: "non-empty string", Actual: typeName(value), Value: value, Index: index}
}

func invalidPort(key string, value int64) error {
	return &ValidationError{Err: ErrInvalidPort, Key: key, Value: value, Index: -1}
}

func invalidValue(key, expected string, value any) error {
	return &ValidationError{Err: ErrInvalidValue, Key: key, Expected: expected, Value: value, Index: -1}
}

func unknownKey(key string) error {
	return &ValidationError{Err: ErrUnknownKey, Key: key, Index: -1}
}

// typeName names a decoded YAML/JSON value the way a config author would.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "float"
	case string:
		return "string"
	case []any, []string:
		return "list"
	case map[string]any:
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}
