// Package guard validates candidate state snapshots before they persist: the
// root must be an object and every key must stay addressable by condition
// field paths.
package guard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
)

// #region check
// Check walks the candidate state and collects every structural violation.
// A key is disallowed when empty, containing a dot (reserved by dotted field
// paths), or prefixed "$" (reserved for annotations). The walk visits keys in
// sorted order so identical input yields identical violations.
func Check(candidate any) Result {
	root, ok := candidate.(map[string]any)
	if !ok {
		return Result{Violations: []Violation{{
			Kind:   KindNonObject,
			Reason: fmt.Sprintf("state must be an object, got %T", candidate),
		}}}
	}

	var violations []Violation
	walk(root, "", &violations)
	return Result{OK: len(violations) == 0, Violations: violations}
}

func walk(obj map[string]any, prefix string, out *[]Violation) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		switch {
		case k == "":
			*out = append(*out, Violation{
				Kind: KindEmptyKey, Path: path, Reason: "empty key",
			})
		case strings.Contains(k, "."):
			*out = append(*out, Violation{
				Kind: KindDottedKey, Path: path, Reason: fmt.Sprintf("key %q must not contain '.'", k),
			})
		case strings.HasPrefix(k, "$"):
			*out = append(*out, Violation{
				Kind: KindReservedKey, Path: path, Reason: fmt.Sprintf("key %q must not start with '$'", k),
			})
		}

		if child, ok := obj[k].(map[string]any); ok {
			walk(child, path, out)
		}
	}
}

// #endregion check

// #region result-err
// Err folds the violations into one classified integrity error, nil when OK.
// The first violation supplies the field locator.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	v := r.Violations[0]
	locator := "state"
	if v.Path != "" {
		locator = "state." + v.Path
	}
	if len(r.Violations) == 1 {
		return apperr.New(apperr.CodeIntegrity, locator, "%s", v.Reason)
	}
	return apperr.New(apperr.CodeIntegrity, locator, "%s (and %d more)", v.Reason, len(r.Violations)-1)
}

// #endregion result-err
