package pipeline

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
)

// ParamKind is the declared type of a recognised parameter key.
type ParamKind int

const (
	ParamString ParamKind = iota + 1
	ParamInt
	ParamFloat
	ParamBool
	ParamInts
)

func (k ParamKind) String() string {
	switch k {
	case ParamString:
		return "string"
	case ParamInt:
		return "int"
	case ParamFloat:
		return "float"
	case ParamBool:
		return "bool"
	case ParamInts:
		return "[]int"
	default:
		return "unknown"
	}
}

// ParamSpec enumerates the keys a stage or operation recognises.
type ParamSpec map[string]ParamKind

// Keys returns the recognised keys, sorted.
func (s ParamSpec) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Coerce checks raw (as decoded from YAML) against the declared parameters
// and returns a typed record. Values are normalised to string, int, float64,
// bool or []int.
func (s ParamSpec) Coerce(raw map[string]any) (Params, error) {
	out := make(Params, len(raw))
	for key, value := range raw {
		kind, ok := s[key]
		if !ok {
			return nil, fmt.Errorf("unrecognised parameter %q (known: %s)", key, strings.Join(s.Keys(), ", "))
		}
		v, err := coerceValue(kind, value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

func coerceValue(kind ParamKind, value any) (any, error) {
	switch kind {
	case ParamString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case ParamBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case ParamInt:
		if v, ok := asInt(value); ok {
			return v, nil
		}
	case ParamFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		}
		if v, ok := asInt(value); ok {
			return float64(v), nil
		}
	case ParamInts:
		if v, ok := asInt(value); ok {
			return []int{v}, nil
		}
		switch list := value.(type) {
		case []int:
			return append([]int(nil), list...), nil
		case []any:
			out := make([]int, 0, len(list))
			for _, item := range list {
				v, ok := asInt(item)
				if !ok {
					return nil, fmt.Errorf("expected %s, got element %v", kind, item)
				}
				out = append(out, v)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", kind, value)
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	}
	return 0, false
}

// Params is a typed parameter record produced by ParamSpec.Coerce.
type Params map[string]any

// Clone returns a copy that shares no mutable state with p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		if ints, ok := v.([]int); ok {
			v = append([]int(nil), ints...)
		}
		out[k] = v
	}
	return out
}

// Merge returns base with overlay applied key by key; overlay wins.
func (p Params) Merge(overlay Params) Params {
	out := p.Clone()
	maps.Copy(out, overlay.Clone())
	return out
}

func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) int {
	if v, ok := p[key].(int); ok {
		return v
	}
	return def
}

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

func (p Params) Ints(key string, def []int) []int {
	if v, ok := p[key].([]int); ok {
		return v
	}
	return def
}
