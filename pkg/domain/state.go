package domain

import (
	"reflect"
	"sort"
)

// Reserved node names. START has no incoming edges, END has no outgoing edges.
const (
	START = "__start__"
	END   = "__end__"
)

// State is the record threaded through the graph.
// The engine never interprets its fields; it only merges and persists them.
type State map[string]any

// Clone returns a copy of the state safe for independent mutation.
// Nested maps and slices are copied recursively so that a handler mutating
// its input cannot alias a persisted checkpoint.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the field names in lexical order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether two states hold deeply equal values.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(tv))
		for k, val := range tv {
			m[k] = cloneValue(val)
		}
		return m
	case State:
		return tv.Clone()
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = cloneValue(val)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && !rv.IsNil() {
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		return out.Interface()
	}
	return v
}
