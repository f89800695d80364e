package config

import (
	"reflect"
)

type kind int

const (
	kindString kind = iota
	kindNumber
	kindBool
	kindArray
)

func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	case kindArray:
		return "array"
	default:
		return "unknown"
	}
}

// field is one recognized key. Validation, merge and encoding all walk the
// same list, so a new key is added in exactly one place.
type field struct {
	key  string
	kind kind

	// decode stores raw into c when raw has the expected shape. dropped
	// counts array elements that were left out.
	decode func(c *AppConfig, raw any) (dropped int, ok bool)
	isSet  func(c *AppConfig) bool
	// copy replaces dst's value with a copy of src's.
	copy  func(dst, src *AppConfig)
	value func(c *AppConfig) any
}

var schema = []field{
	scalar("name", kindString, func(c *AppConfig) **string { return &c.Name }, asString),
	scalar("description", kindString, func(c *AppConfig) **string { return &c.Description }, asString),
	scalar("version", kindString, func(c *AppConfig) **string { return &c.Version }, asString),
	scalar("schema_version", kindNumber, func(c *AppConfig) **float64 { return &c.SchemaVersion }, asNumber),
	scalar("type", kindString, func(c *AppConfig) **string { return &c.Type }, asString),
	scalar("author_name", kindString, func(c *AppConfig) **string { return &c.AuthorName }, asString),
	scalar("author_email", kindString, func(c *AppConfig) **string { return &c.AuthorEmail }, asString),
	scalar("license", kindString, func(c *AppConfig) **string { return &c.License }, asString),
	scalar("autoclose_loader", kindBool, func(c *AppConfig) **bool { return &c.AutocloseLoader }, asBool),
	list("runtimes", func(c *AppConfig) *[]RuntimeConfig { return &c.Runtimes }, asRuntime),
	list("packages", func(c *AppConfig) *[]string { return &c.Packages }, asString),
	list("paths", func(c *AppConfig) *[]string { return &c.Paths }, asString),
	list("plugins", func(c *AppConfig) *[]string { return &c.Plugins }, asString),
}

func fieldByKey(key string) (field, bool) {
	for _, f := range schema {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

func scalar[T any](key string, k kind, ptr func(*AppConfig) **T, conv func(any) (T, bool)) field {
	return field{
		key:  key,
		kind: k,
		decode: func(c *AppConfig, raw any) (int, bool) {
			v, ok := conv(raw)
			if !ok {
				return 0, false
			}
			*ptr(c) = &v
			return 0, true
		},
		isSet: func(c *AppConfig) bool {
			return *ptr(c) != nil
		},
		copy: func(dst, src *AppConfig) {
			p := *ptr(src)
			if p == nil {
				*ptr(dst) = nil
				return
			}
			v := *p
			*ptr(dst) = &v
		},
		value: func(c *AppConfig) any {
			if p := *ptr(c); p != nil {
				return *p
			}
			return nil
		},
	}
}

// list builds an array field. conv converts one element and reports whether
// the element is kept.
func list[T any](key string, ptr func(*AppConfig) *[]T, conv func(any) (T, bool)) field {
	return field{
		key:  key,
		kind: kindArray,
		decode: func(c *AppConfig, raw any) (int, bool) {
			elems, ok := asSequence(raw)
			if !ok {
				return 0, false
			}
			out := make([]T, 0, len(elems))
			for _, e := range elems {
				if v, ok := conv(e); ok {
					out = append(out, v)
				}
			}
			*ptr(c) = out
			return len(elems) - len(out), true
		},
		isSet: func(c *AppConfig) bool {
			return *ptr(c) != nil
		},
		copy: func(dst, src *AppConfig) {
			*ptr(dst) = cloneSlice(*ptr(src))
		},
		value: func(c *AppConfig) any {
			return *ptr(c)
		},
	}
}

func asString(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

func asBool(raw any) (bool, bool) {
	b, ok := raw.(bool)
	return b, ok
}

func asNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// asSequence accepts any slice or array, whatever its element type.
func asSequence(raw any) ([]any, bool) {
	if raw == nil {
		return nil, false
	}
	if s, ok := raw.([]any); ok {
		return s, true
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

// asRuntime keeps every entry. Fields with the wrong type are dropped one by
// one; an entry that is not an object becomes an empty RuntimeConfig.
func asRuntime(raw any) (RuntimeConfig, bool) {
	var rt RuntimeConfig
	m, ok := raw.(map[string]any)
	if !ok {
		return rt, true
	}
	if s, ok := m["src"].(string); ok {
		rt.Src = s
	}
	if s, ok := m["name"].(string); ok {
		rt.Name = s
	}
	if s, ok := m["lang"].(string); ok {
		rt.Lang = s
	}
	return rt, true
}
