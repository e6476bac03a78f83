package config

import (
	"fmt"

	"github.com/rovalabs/rova/core"
	"github.com/rovalabs/rova/event"
)

// parseTargets interprets the YAML 'target' value per mode.
//
// exists/absent take a list of targets; each element is either a map
// of field paths to expected values or {expr: "..."}:
//
//	target:
//	  - {x: 10, y: 5.5}
//	  - {x: 5.5, y: 5.5}
//	  - {expr: 'msg["linear.x"] > 0.1'}
//
// Numeric modes take a single map {field: value}, and metric mode
// additionally accepts frequency bounds, either {min: 55, max: 65}
// or the original list form [{min: 55}, {max: 65}].
func parseTargets(mode core.Mode, raw interface{}) ([]*core.Target, error) {
	if raw == nil {
		return nil, fmt.Errorf("no target")
	}

	x := normalize(raw)

	switch mode {
	case core.Exists, core.Absent:
		list, is := x.([]interface{})
		if !is {
			// A single map is a one-target list.
			list = []interface{}{x}
		}
		acc := make([]*core.Target, 0, len(list))
		for i, el := range list {
			t, err := parseMatchTarget(el)
			if err != nil {
				return nil, fmt.Errorf("target %d: %w", i, err)
			}
			acc = append(acc, t)
		}
		return acc, nil
	default:
		t, err := parseNumericTarget(x)
		if err != nil {
			return nil, err
		}
		return []*core.Target{t}, nil
	}
}

func parseMatchTarget(x interface{}) (*core.Target, error) {
	m, is := x.(map[string]interface{})
	if !is {
		return nil, fmt.Errorf("target must be a map, got %T", x)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("empty target")
	}

	if src, have := m["expr"]; have && len(m) == 1 {
		s, is := src.(string)
		if !is {
			return nil, fmt.Errorf("expr must be a string")
		}
		return &core.Target{Expr: s}, nil
	}

	return &core.Target{Equals: m}, nil
}

func parseNumericTarget(x interface{}) (*core.Target, error) {
	// The original writes frequency bounds as a list of
	// single-entry maps; fold that into one map first.
	if list, is := x.([]interface{}); is {
		merged := make(map[string]interface{}, len(list))
		for _, el := range list {
			m, is := el.(map[string]interface{})
			if !is {
				return nil, fmt.Errorf("target element must be a map, got %T", el)
			}
			for k, v := range m {
				merged[k] = v
			}
		}
		x = merged
	}

	m, is := x.(map[string]interface{})
	if !is {
		return nil, fmt.Errorf("target must be a map, got %T", x)
	}

	if hasEither(m, "min", "max") {
		if len(m) > 2 {
			return nil, fmt.Errorf("frequency target takes only min and max")
		}
		b := &core.FreqBounds{Min: 0, Max: maxRate}
		if v, have := m["min"]; have {
			n, ok := event.AsNumber(v)
			if !ok {
				return nil, fmt.Errorf("min must be numeric, got %T", v)
			}
			b.Min = n
		}
		if v, have := m["max"]; have {
			n, ok := event.AsNumber(v)
			if !ok {
				return nil, fmt.Errorf("max must be numeric, got %T", v)
			}
			b.Max = n
		}
		return &core.Target{Freq: b}, nil
	}

	if len(m) != 1 {
		return nil, fmt.Errorf("numeric target takes exactly one field, got %d", len(m))
	}
	for field, v := range m {
		n, ok := event.AsNumber(v)
		if !ok {
			// Authoring error: numeric comparison against
			// non-numeric data, reported here once, not per
			// event.
			return nil, fmt.Errorf("field '%s': numeric target value required, got %T", field, v)
		}
		return &core.Target{Field: field, Value: n, HasValue: true}, nil
	}
	return nil, fmt.Errorf("empty target")
}

// maxRate is the default upper frequency bound when only min is
// given.
const maxRate = 1e9

func hasEither(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, have := m[k]; have {
			return true
		}
	}
	return false
}

// normalize rewrites yaml.v2's map[interface{}]interface{} values as
// map[string]interface{}, recursively.
func normalize(x interface{}) interface{} {
	switch v := x.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))
		for k, val := range v {
			m[fmt.Sprintf("%v", k)] = normalize(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(v))
		for k, val := range v {
			m[k] = normalize(val)
		}
		return m
	case []interface{}:
		acc := make([]interface{}, len(v))
		for i, el := range v {
			acc[i] = normalize(el)
		}
		return acc
	}
	return x
}
