package domain

import (
	"fmt"
	"reflect"
	"strings"
)

// MergeRule decides how an update to a field is folded into the state.
type MergeRule int

const (
	// Overwrite replaces the current value. It is the default for undeclared fields.
	Overwrite MergeRule = iota
	// Append concatenates updates onto an ordered sequence.
	Append
)

func (r MergeRule) String() string {
	switch r {
	case Append:
		return "append"
	default:
		return "overwrite"
	}
}

// ParseMergeRule converts "overwrite" or "append" into a MergeRule.
func ParseMergeRule(s string) (MergeRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite", "replace":
		return Overwrite, nil
	case "append":
		return Append, nil
	}
	return Overwrite, fmt.Errorf("unknown merge rule %q", s)
}

func (r MergeRule) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *MergeRule) UnmarshalText(b []byte) error {
	parsed, err := ParseMergeRule(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Fields maps field names to their declared merge rule.
type Fields map[string]MergeRule

// Rule returns the rule for a field, defaulting to Overwrite.
func (f Fields) Rule(name string) MergeRule {
	if f == nil {
		return Overwrite
	}
	return f[name]
}

// Merge folds update into current and returns a new State.
// Keys absent from update are carried over untouched; neither input is mutated.
func Merge(current, update State, fields Fields) State {
	out := current.Clone()
	for k, v := range update {
		if fields.Rule(k) == Append {
			if merged, ok := appendValue(out[k], v); ok {
				out[k] = merged
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// appendValue concatenates update onto cur when cur is a sequence (or unset).
// It reports false when cur holds a non-sequence value, in which case the
// caller falls back to overwrite.
func appendValue(cur, update any) (any, bool) {
	if cur == nil {
		if isSlice(update) {
			return cloneValue(sliceOf(reflect.ValueOf(update)).Interface()), true
		}
		return []any{cloneValue(update)}, true
	}
	if !isSlice(cur) {
		return nil, false
	}

	cv := sliceOf(reflect.ValueOf(cur))

	if isSlice(update) {
		uv := sliceOf(reflect.ValueOf(update))
		if uv.Type() == cv.Type() {
			out := reflect.MakeSlice(cv.Type(), 0, cv.Len()+uv.Len())
			out = reflect.AppendSlice(out, cv)
			out = reflect.AppendSlice(out, uv)
			return out.Interface(), true
		}
		// Mixed element types degrade to []any.
		return append(toAnySlice(cv), toAnySlice(uv)...), true
	}
	if update != nil && reflect.TypeOf(update).AssignableTo(cv.Type().Elem()) {
		out := reflect.MakeSlice(cv.Type(), 0, cv.Len()+1)
		out = reflect.AppendSlice(out, cv)
		out = reflect.Append(out, reflect.ValueOf(update))
		return out.Interface(), true
	}
	return append(toAnySlice(cv), cloneValue(update)), true
}

// sliceOf returns a fresh slice holding the elements of v, which may be an
// array. Fixed-size arrays cannot grow, so appending always yields a slice.
func sliceOf(v reflect.Value) reflect.Value {
	t := v.Type()
	if t.Kind() == reflect.Array {
		t = reflect.SliceOf(t.Elem())
	}
	out := reflect.MakeSlice(t, v.Len(), v.Len())
	reflect.Copy(out, v)
	return out
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func toAnySlice(v reflect.Value) []any {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		out = append(out, cloneValue(v.Index(i).Interface()))
	}
	return out
}
