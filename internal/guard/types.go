package guard

// #region violation-kind
// Kind enumerates structural violation categories.
type Kind string

const (
	KindNonObject   Kind = "non_object"
	KindEmptyKey    Kind = "empty_key"
	KindDottedKey   Kind = "dotted_key"
	KindReservedKey Kind = "reserved_key"
)

// #endregion violation-kind

// #region violation
// Violation pinpoints one structural problem in a candidate state.
type Violation struct {
	Kind   Kind
	Path   string // dotted location of the offending key; empty for the root
	Reason string
}

// #endregion violation

// #region result
// Result is the outcome of a structural check.
type Result struct {
	OK         bool
	Violations []Violation
}

// #endregion result
