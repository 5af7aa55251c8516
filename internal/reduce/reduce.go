// Package reduce implements the pure deep-merge reducer that folds ordered
// signal payloads onto a prior state snapshot.
package reduce

// #region reduce-function
// Reduce folds patches onto prior in order and returns the result. Merge
// semantics, applied recursively:
//
//   - nested objects merge key by key
//   - arrays replace wholesale, never concatenate
//   - an explicit null deletes the key
//   - any other value overwrites
//
// Reduce is pure: inputs are never mutated, the result shares no mutable
// structure with them, and identical inputs always produce deeply-equal
// output. Version-conflict retries re-run it verbatim against a fresh base.
func Reduce(prior map[string]any, patches []map[string]any) map[string]any {
	acc := copyObject(prior)
	for _, patch := range patches {
		mergeObject(acc, patch)
	}
	return acc
}

// #endregion reduce-function

// #region merge
// mergeObject merges patch into base. base is owned by the reducer; patch is
// caller data and is copied, never aliased.
func mergeObject(base, patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(base, k)
			continue
		}
		if pm, ok := v.(map[string]any); ok {
			if bm, ok := base[k].(map[string]any); ok {
				mergeObject(bm, pm)
				continue
			}
			base[k] = copyObject(pm)
			continue
		}
		base[k] = copyValue(v)
	}
}

// #endregion merge

// #region copy
// copyObject deep-copies an object. A nil input yields an empty object.
func copyObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyObject(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// #endregion copy
