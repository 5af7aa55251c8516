package replay

import (
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/learner-state/internal/guard"
	"github.com/danielpatrickdp/learner-state/internal/reduce"
)

// #region types

// Result captures the outcome of replaying one fixture step.
type Result struct {
	Step     int
	SignalID string
	Match    bool
	Diff     string
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total    int
	Matched  int
	Diverged int
}

// #endregion types

// #region replay

// Run folds the fixture's steps through the reducer in order, comparing each
// checkpoint against the recorded version and state. The fold always continues
// from the recomputed state, so a reducer change surfaces at the first
// checkpoint it disturbs.
func Run(f *Fixture) []Result {
	current := f.InitialState
	if current == nil {
		current = map[string]any{}
	}
	version := f.InitialVersion
	results := make([]Result, 0, len(f.Steps))

	for i, step := range f.Steps {
		current = reduce.Reduce(current, []map[string]any{step.Payload})
		r := Result{Step: i, SignalID: step.SignalID, Match: true}

		if g := guard.Check(current); !g.OK {
			r.Match = false
			r.Diff = "guard: " + g.Violations[0].Reason
			results = append(results, r)
			continue
		}

		if step.WantVersion > 0 {
			version++
			switch {
			case version != step.WantVersion:
				r.Match = false
				r.Diff = fmt.Sprintf("version: got %d, want %d", version, step.WantVersion)
			case !statesEqual(current, step.WantState):
				r.Match = false
				r.Diff = fmt.Sprintf("state: got %s, want %s", renderState(current), renderState(step.WantState))
			}
		}
		results = append(results, r)
	}

	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Match {
			s.Matched++
		} else {
			s.Diverged++
		}
	}
	return s
}

// statesEqual compares via canonical JSON so that 1 and 1.0 agree and map
// order never matters.
func statesEqual(a, b map[string]any) bool {
	return renderState(a) == renderState(b)
}

func renderState(m map[string]any) string {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(data)
}

// #endregion replay
