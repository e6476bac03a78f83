package event

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Event is the canonical representation of one message observed on a
// topic: the topic name, the arrival timestamp, and a flat mapping
// from dotted field paths (e.g. "linear.x") to scalar values.
//
// An Event is immutable once constructed.  Code that receives an
// Event must not modify its Fields.
type Event struct {
	Topic  string                 `json:"topic"`
	At     time.Time              `json:"at"`
	Fields map[string]interface{} `json:"fields"`
}

// New builds an Event from an already-flat field map.
func New(topic string, at time.Time, fields map[string]interface{}) *Event {
	return &Event{
		Topic:  topic,
		At:     at,
		Fields: fields,
	}
}

// Flatten builds an Event from a nested payload (as produced by
// decoding a JSON message body), flattening nested maps into dotted
// field paths.  Non-map, non-scalar values (arrays, say) are kept
// as-is under their path.
func Flatten(topic string, at time.Time, payload map[string]interface{}) *Event {
	fields := make(map[string]interface{}, len(payload))
	flattenInto(fields, "", payload)
	return New(topic, at, fields)
}

func flattenInto(acc map[string]interface{}, prefix string, m map[string]interface{}) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, is := v.(map[string]interface{}); is {
			flattenInto(acc, path, sub)
			continue
		}
		acc[path] = v
	}
}

// Field returns the value at the given dotted path.
func (e *Event) Field(path string) (interface{}, bool) {
	v, have := e.Fields[path]
	return v, have
}

// Number returns the value at the given path as a float64.  Returns
// false if the field is missing or not numeric.
func (e *Event) Number(path string) (float64, bool) {
	v, have := e.Fields[path]
	if !have {
		return 0, false
	}
	return AsNumber(v)
}

// Paths returns the sorted field paths of this Event.
func (e *Event) Paths() []string {
	acc := make([]string, 0, len(e.Fields))
	for p := range e.Fields {
		acc = append(acc, p)
	}
	sort.Strings(acc)
	return acc
}

func (e *Event) String() string {
	js, err := json.Marshal(e.Fields)
	if err != nil {
		return e.Topic + "/{*}"
	}
	return e.Topic + "/" + string(js)
}

// AsNumber coerces the usual decoded scalar types to a float64.
// JSON decoding gives float64; YAML decoding can give int or int64.
func AsNumber(x interface{}) (float64, bool) {
	switch v := x.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// ParsePath splits a dotted field path into its components.
func ParsePath(path string) []string {
	return strings.Split(path, ".")
}
