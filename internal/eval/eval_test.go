package eval

import (
	"testing"
)

func leaf(field string, op Operator, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

func TestEvaluateLeafOperators(t *testing.T) {
	state := map[string]any{
		"stabilityScore": 0.3,
		"attempts":       float64(4),
		"track":          "algebra",
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq-number", leaf("stabilityScore", OpEq, 0.3), true},
		{"eq-number-miss", leaf("stabilityScore", OpEq, 0.4), false},
		{"neq-number", leaf("stabilityScore", OpNeq, 0.4), true},
		{"gt-true", leaf("attempts", OpGt, 3), true},
		{"gt-false", leaf("attempts", OpGt, 4), false},
		{"gte-boundary", leaf("attempts", OpGte, 4), true},
		{"lt-true", leaf("stabilityScore", OpLt, 0.7), true},
		{"lt-false", leaf("stabilityScore", OpLt, 0.3), false},
		{"lte-boundary", leaf("stabilityScore", OpLte, 0.3), true},
		{"eq-string", leaf("track", OpEq, "algebra"), true},
		{"neq-string", leaf("track", OpNeq, "geometry"), true},
		{"string-ordering", leaf("track", OpLt, "calculus"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.cond, state); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateMissingFieldAlwaysFalse(t *testing.T) {
	state := map[string]any{"present": 1.0}

	for _, op := range []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte} {
		if Evaluate(leaf("absent", op, 1.0), state) {
			t.Errorf("%s on missing field should be false", op)
		}
	}
	if Evaluate(leaf("absent", OpEq, nil), nil) {
		t.Error("missing field on nil state should be false")
	}
}

func TestEvaluateDottedFieldAccess(t *testing.T) {
	state := map[string]any{
		"progress": map[string]any{
			"math": map[string]any{"mastery": 0.82},
		},
		"flat": 1.0,
	}

	if !Evaluate(leaf("progress.math.mastery", OpGte, 0.8), state) {
		t.Fatal("nested lookup failed")
	}
	if Evaluate(leaf("progress.science.mastery", OpGte, 0.0), state) {
		t.Fatal("missing nested segment should be false")
	}
	// Descending through a scalar is a miss, not a panic.
	if Evaluate(leaf("flat.deeper", OpEq, 1.0), state) {
		t.Fatal("non-object intermediate should be false")
	}
}

func TestEvaluateAllSemantics(t *testing.T) {
	state := map[string]any{"a": 1.0, "b": 2.0}

	both := Condition{All: []Condition{leaf("a", OpEq, 1), leaf("b", OpEq, 2)}}
	if !Evaluate(both, state) {
		t.Fatal("all-true conjunction should hold")
	}

	oneFails := Condition{All: []Condition{leaf("a", OpEq, 1), leaf("b", OpEq, 3)}}
	if Evaluate(oneFails, state) {
		t.Fatal("conjunction with a false child should fail")
	}

	if !Evaluate(Condition{All: []Condition{}}, state) {
		t.Fatal("empty conjunction is vacuously true")
	}
}

func TestEvaluateAnySemantics(t *testing.T) {
	state := map[string]any{"a": 1.0}

	oneHits := Condition{Any: []Condition{leaf("a", OpEq, 9), leaf("a", OpEq, 1)}}
	if !Evaluate(oneHits, state) {
		t.Fatal("disjunction with a true child should hold")
	}

	noneHit := Condition{Any: []Condition{leaf("a", OpEq, 9), leaf("missing", OpEq, 1)}}
	if Evaluate(noneHit, state) {
		t.Fatal("disjunction with no true child should fail")
	}

	if Evaluate(Condition{Any: []Condition{}}, state) {
		t.Fatal("empty disjunction is false")
	}
}

func TestEvaluateNestedTree(t *testing.T) {
	state := map[string]any{
		"stabilityScore":         0.3,
		"timeSinceReinforcement": float64(100000),
		"riskFlags":              map[string]any{"integrity": true},
	}

	cond := Condition{All: []Condition{
		leaf("stabilityScore", OpLt, 0.7),
		{Any: []Condition{
			leaf("timeSinceReinforcement", OpGt, 86400),
			{All: []Condition{
				leaf("riskFlags.integrity", OpEq, true),
				leaf("stabilityScore", OpGt, 0.9),
			}},
		}},
	}}

	if !Evaluate(cond, state) {
		t.Fatal("nested tree should evaluate true")
	}
}

func TestEvaluateCrossTypeNumbers(t *testing.T) {
	// State values arrive as float64 from JSON, rule values as int from YAML.
	state := map[string]any{"count": float64(5)}

	if !Evaluate(leaf("count", OpEq, 5), state) {
		t.Fatal("int rule value should equal float64 state value")
	}
	if !Evaluate(leaf("count", OpGte, int64(5)), state) {
		t.Fatal("int64 rule value should order against float64 state value")
	}
}

func TestEvaluateUnorderedTypesFalse(t *testing.T) {
	state := map[string]any{
		"name":  "ada",
		"flag":  true,
		"items": []any{1.0, 2.0},
	}

	if Evaluate(leaf("name", OpGt, 5), state) {
		t.Error("string vs number ordering should be false")
	}
	if Evaluate(leaf("flag", OpLt, true), state) {
		t.Error("bool ordering should be false")
	}
	if Evaluate(leaf("items", OpGte, 1), state) {
		t.Error("array ordering should be false")
	}
	if !Evaluate(leaf("items", OpEq, []any{1, 2}), state) {
		t.Error("array equality should normalize element numbers")
	}
}

func TestConditionValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"valid-leaf", leaf("a", OpEq, 1), false},
		{"valid-group", Condition{All: []Condition{leaf("a", OpGt, 1)}}, false},
		{"empty-node", Condition{}, true},
		{"both-groups", Condition{All: []Condition{}, Any: []Condition{}}, true},
		{"leaf-on-group", Condition{All: []Condition{}, Field: "a", Op: OpEq}, true},
		{"unknown-op", leaf("a", Operator("like"), 1), true},
		{"bad-nested-child", Condition{Any: []Condition{{Field: "a", Op: Operator("~")}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	state := map[string]any{"x": 0.5, "nested": map[string]any{"y": "z"}}
	cond := Condition{All: []Condition{
		leaf("x", OpLte, 0.5),
		{Any: []Condition{leaf("nested.y", OpEq, "z"), leaf("x", OpGt, 2)}},
	}}

	first := Evaluate(cond, state)
	for i := 0; i < 100; i++ {
		if Evaluate(cond, state) != first {
			t.Fatal("evaluation must be deterministic")
		}
	}
}
