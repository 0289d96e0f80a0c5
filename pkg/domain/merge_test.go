package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMerge_Overwrite(t *testing.T) {
	cur := State{"door_open": false, "item_inside": false}
	out := Merge(cur, State{"door_open": true}, nil)

	assert.Equal(t, State{"door_open": true, "item_inside": false}, out)
	assert.Equal(t, false, cur["door_open"], "input must not be mutated")
}

func TestMerge_Append(t *testing.T) {
	fields := Fields{"messages": Append}

	t.Run("sequence onto sequence", func(t *testing.T) {
		out := Merge(State{"messages": []any{"hi"}}, State{"messages": []any{"there", "you"}}, fields)
		assert.Equal(t, []any{"hi", "there", "you"}, out["messages"])
	})

	t.Run("single value appended as one element", func(t *testing.T) {
		out := Merge(State{"messages": []string{"hi"}}, State{"messages": "there"}, fields)
		assert.Equal(t, []string{"hi", "there"}, out["messages"])
	})

	t.Run("unset field starts a sequence", func(t *testing.T) {
		out := Merge(State{}, State{"messages": "first"}, fields)
		assert.Equal(t, []any{"first"}, out["messages"])
	})

	t.Run("mixed element types degrade to any", func(t *testing.T) {
		out := Merge(State{"messages": []string{"a"}}, State{"messages": []any{1}}, fields)
		assert.Equal(t, []any{"a", 1}, out["messages"])
	})

	t.Run("non-sequence current value is overwritten", func(t *testing.T) {
		out := Merge(State{"messages": "scalar"}, State{"messages": "next"}, fields)
		assert.Equal(t, "next", out["messages"])
	})

	t.Run("array current value grows into a slice", func(t *testing.T) {
		cur := State{"log": [2]string{"a", "b"}}
		out := Merge(cur, State{"log": "c"}, Fields{"log": Append})
		assert.Equal(t, []string{"a", "b", "c"}, out["log"])
		assert.Equal(t, [2]string{"a", "b"}, cur["log"])

		out = Merge(cur, State{"log": [1]string{"d"}}, Fields{"log": Append})
		assert.Equal(t, []string{"a", "b", "d"}, out["log"])

		out = Merge(State{}, State{"log": [2]int{1, 2}}, Fields{"log": Append})
		assert.Equal(t, []int{1, 2}, out["log"])

		out = Merge(cur, State{"log": 7}, Fields{"log": Append})
		assert.Equal(t, []any{"a", "b", 7}, out["log"])
	})

	t.Run("current sequence is not aliased", func(t *testing.T) {
		cur := State{"messages": []any{"a"}}
		out := Merge(cur, State{"messages": "b"}, fields)
		out["messages"].([]any)[0] = "mutated"
		assert.Equal(t, []any{"a"}, cur["messages"])
	})
}

func TestMerge_AbsentKeysUntouched_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := []string{"a", "b", "c", "d", "log"}
		valueGen := rapid.OneOf(
			rapid.Int().AsAny(),
			rapid.String().AsAny(),
			rapid.Bool().AsAny(),
			rapid.SliceOf(rapid.Int()).AsAny(),
		)

		cur := State(rapid.MapOf(rapid.SampledFrom(keys), valueGen).Draw(t, "current"))
		upd := State(rapid.MapOf(rapid.SampledFrom(keys), valueGen).Draw(t, "update"))
		fields := Fields{}
		for _, k := range keys {
			if rapid.Bool().Draw(t, "append_"+k) {
				fields[k] = Append
			}
		}

		out := Merge(cur, upd, fields)
		for k, v := range cur {
			if _, touched := upd[k]; touched {
				continue
			}
			if !(State{k: v}).Equal(State{k: out[k]}) {
				t.Fatalf("key %q changed from %v to %v", k, v, out[k])
			}
		}
		for k := range upd {
			if _, ok := out[k]; !ok {
				t.Fatalf("key %q from update missing in result", k)
			}
		}
	})
}

func TestMerge_DisjointUpdatesCommute_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cur := State(rapid.MapOf(rapid.SampledFrom([]string{"a", "b", "x", "y"}), rapid.Int().AsAny()).Draw(t, "current"))
		u1 := State(rapid.MapOf(rapid.SampledFrom([]string{"a", "b"}), rapid.Int().AsAny()).Draw(t, "u1"))
		u2 := State(rapid.MapOf(rapid.SampledFrom([]string{"x", "y"}), rapid.Int().AsAny()).Draw(t, "u2"))
		fields := Fields{"a": Append, "x": Append}

		left := Merge(Merge(cur, u1, fields), u2, fields)
		right := Merge(Merge(cur, u2, fields), u1, fields)
		if !left.Equal(right) {
			t.Fatalf("order dependent merge: %v vs %v", left, right)
		}
	})
}

func TestParseMergeRule(t *testing.T) {
	r, err := ParseMergeRule("append")
	require.NoError(t, err)
	assert.Equal(t, Append, r)

	r, err = ParseMergeRule("")
	require.NoError(t, err)
	assert.Equal(t, Overwrite, r)

	_, err = ParseMergeRule("sum")
	assert.Error(t, err)
}

func TestFields_JSON(t *testing.T) {
	data, err := json.Marshal(Fields{"log": Append, "x": Overwrite})
	require.NoError(t, err)
	assert.JSONEq(t, `{"log":"append","x":"overwrite"}`, string(data))

	var back Fields
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Append, back.Rule("log"))

	assert.Error(t, json.Unmarshal([]byte(`{"log":"sum"}`), &back))
}

func TestErrors_Classification(t *testing.T) {
	wrapped := &PersistenceError{Op: "load", RunID: "r1", Cause: ErrRunNotFound}
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsNotFound(&HandlerError{Node: "put", Cause: errors.New("boom")}))

	ce := &CompileError{Graph: "g", Errors: []error{errors.New("one"), ErrInvalidRunID}}
	assert.ErrorIs(t, ce, ErrInvalidRunID)
	assert.Contains(t, ce.Error(), "2 error(s)")

	re := NewRoutingError("review", "maybe", map[string]string{"yes": "a", "no": "b"}, nil)
	assert.Equal(t, []string{"no", "yes"}, re.Branches)
	assert.Contains(t, re.Error(), `"maybe"`)
}

func TestValidateRunID(t *testing.T) {
	assert.NoError(t, ValidateRunID("thread-1"))
	for _, bad := range []string{"", "  ", "a/b", "..", `a\b`} {
		assert.ErrorIs(t, ValidateRunID(bad), ErrInvalidRunID, bad)
	}
}
