// Package eval provides the recursive condition evaluator used by policy
// rules: a closed Leaf/All/Any tree evaluated against a state snapshot.
package eval

import (
	"encoding/json"
	"reflect"
	"strings"
)

// #region evaluate
// Evaluate reports whether state satisfies the condition. Evaluation is total
// and deterministic: missing fields, type mismatches, and unknown operators
// evaluate to false, never to an error.
func Evaluate(c Condition, state map[string]any) bool {
	switch {
	case c.All != nil:
		for _, child := range c.All {
			if !Evaluate(child, state) {
				return false
			}
		}
		return true
	case c.Any != nil:
		for _, child := range c.Any {
			if Evaluate(child, state) {
				return true
			}
		}
		return false
	default:
		return evalLeaf(c, state)
	}
}

func evalLeaf(c Condition, state map[string]any) bool {
	got, ok := lookup(state, c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return equal(got, c.Value)
	case OpNeq:
		return !equal(got, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ordered := order(got, c.Value)
		if !ordered {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	default:
		return false
	}
}

// #endregion evaluate

// #region lookup
// lookup resolves a dotted field path through nested objects. A missing
// segment or a non-object intermediate reports not-found.
func lookup(state map[string]any, field string) (any, bool) {
	if field == "" {
		return nil, false
	}
	var cur any = state
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// #endregion lookup

// #region compare
// equal compares two values after numeric normalization, so a YAML-decoded
// int rule value matches a JSON-decoded float64 state value.
func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// order compares two values when an ordering exists: numbers against numbers,
// strings against strings. Anything else is unordered.
func order(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// normalize maps every numeric type to float64, recursively through objects
// and arrays.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		if f, ok := toFloat(v); ok {
			return f
		}
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// #endregion compare
