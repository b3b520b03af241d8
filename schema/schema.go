// Package schema declares the configuration keys of an FTP-HTTP proxy entry
// and validates raw configuration maps against them.
package schema

import (
	"errors"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the shape constraint of a configuration key.
type Kind int

const (
	KindString Kind = iota
	KindStringList
	KindPort
	KindDuration
	KindEnum
	KindBool
	KindUint
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindStringList:
		return "list of strings"
	case KindPort:
		return "port"
	case KindDuration:
		return "duration"
	case KindEnum:
		return "enum"
	case KindBool:
		return "bool"
	case KindUint:
		return "non-negative integer"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Key declares one configuration key.
type Key struct {
	Name     string
	Required bool
	Kind     Kind
	// Default is substituted when an optional key is absent. A nil default
	// leaves the key out of the result, except for KindMap where the nested
	// schema is applied to an empty map.
	Default any
	// Enum lists the accepted values for KindEnum.
	Enum []string
	// Nested is the schema of a KindMap value.
	Nested *Schema
}

// Required declares a required key.
func Required(name string, kind Kind) Key {
	return Key{Name: name, Required: true, Kind: kind}
}

// Optional declares an optional key with a default.
func Optional(name string, kind Kind, def any) Key {
	return Key{Name: name, Kind: kind, Default: def}
}

// OneOf declares an optional enum key.
func OneOf(name string, def string, values ...string) Key {
	return Key{Name: name, Kind: KindEnum, Default: def, Enum: values}
}

// Section declares an optional nested map key.
func Section(name string, nested *Schema) Key {
	return Key{Name: name, Kind: KindMap, Nested: nested}
}

// Schema is an ordered, immutable set of key declarations.
type Schema struct {
	keys []Key
}

// New builds a schema. Declaration order is the order violations are reported in.
func New(keys ...Key) *Schema {
	return &Schema{keys: slices.Clone(keys)}
}

// Keys returns a copy of the declared keys.
func (s *Schema) Keys() []Key {
	return slices.Clone(s.keys)
}

// Lookup returns the declaration of name.
func (s *Schema) Lookup(name string) (Key, bool) {
	for _, k := range s.keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

// Apply checks raw against the schema and returns a new map holding the
// coerced values and the defaults of absent optional keys. raw is not modified.
// All violations are returned joined together.
func (s *Schema) Apply(raw map[string]any) (map[string]any, error) {
	return s.apply("", raw)
}

func (s *Schema) apply(prefix string, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.keys))
	var errs []error

	for _, key := range s.keys {
		name := prefix + key.Name
		value, present := raw[key.Name]
		if !present {
			if key.Required {
				errs = append(errs, missingKey(name))
				continue
			}
			switch {
			case key.Kind == KindMap && key.Nested != nil:
				nested, err := key.Nested.apply(name+".", map[string]any{})
				if err != nil {
					errs = append(errs, err)
					continue
				}
				out[key.Name] = nested
			case key.Default != nil:
				out[key.Name] = key.Default
			}
			continue
		}

		coerced, err := key.coerce(name, value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[key.Name] = coerced
	}

	var unknown []string
	for name := range raw {
		if _, ok := s.Lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, unknownKey(prefix+name))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (k Key) coerce(name string, value any) (any, error) {
	switch k.Kind {
	case KindString:
		s, ok := toString(value)
		if !ok {
			return nil, typeMismatch(name, "string", value)
		}
		return s, nil

	case KindStringList:
		return toStringList(name, value)

	case KindPort:
		n, ok := toInt(value)
		if !ok {
			return nil, typeMismatch(name, "port", value)
		}
		if n < 1 || n > math.MaxUint16 {
			return nil, invalidPort(name, n)
		}
		return int(n), nil

	case KindUint:
		n, ok := toInt(value)
		if !ok {
			return nil, typeMismatch(name, "integer", value)
		}
		if n < 0 {
			return nil, invalidValue(name, "non-negative integer", n)
		}
		return int(n), nil

	case KindDuration:
		d, ok := toDuration(value)
		if !ok {
			return nil, typeMismatch(name, "duration", value)
		}
		if d <= 0 {
			return nil, invalidValue(name, "positive duration", value)
		}
		return d, nil

	case KindBool:
		b, ok := toBool(value)
		if !ok {
			return nil, typeMismatch(name, "bool", value)
		}
		return b, nil

	case KindEnum:
		s, ok := toString(value)
		if !ok {
			return nil, typeMismatch(name, "string", value)
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if !slices.Contains(k.Enum, s) {
			return nil, invalidValue(name, "one of "+strings.Join(k.Enum, ", "), value)
		}
		return s, nil

	case KindMap:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, typeMismatch(name, "map", value)
		}
		if k.Nested == nil {
			return m, nil
		}
		return k.Nested.apply(name+".", m)
	}
	return nil, typeMismatch(name, k.Kind.String(), value)
}

// toString accepts strings and numbers. Booleans are rejected so that an
// unquoted yes/no in YAML does not silently become "true".
func toString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, _ := toInt(v)
		return strconv.FormatInt(n, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	}
	return "", false
}

// toStringList accepts a list of non-empty strings or a single string, which
// becomes a one-element list.
func toStringList(name string, value any) ([]string, error) {
	var items []any
	switch v := value.(type) {
	case string:
		items = []any{v}
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []any:
		items = v
	default:
		return nil, typeMismatch(name, "list of strings", value)
	}

	if len(items) == 0 {
		return nil, &ValidationError{Err: ErrInvalidListElement, Key: name, Expected: "at least one element", Index: -1}
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, invalidElement(name, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return floatToInt(float64(v))
	case float64:
		// JSON numbers decode to float64.
		return floatToInt(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// toDuration parses Go duration strings; bare numbers are seconds.
func toDuration(value any) (time.Duration, bool) {
	switch v := value.(type) {
	case time.Duration:
		return v, true
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return d, true
	}
	if n, ok := toInt(value); ok {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}
