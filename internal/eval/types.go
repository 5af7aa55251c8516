package eval

import "fmt"

// #region operator
// Operator is a leaf comparison operator.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

var knownOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
}

// #endregion operator

// #region condition
// Condition is one node of a compound rule condition. Exactly one variant is
// populated: All (conjunction), Any (disjunction), or a leaf comparing a
// dotted state field against a literal value.
type Condition struct {
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`

	Field string   `json:"field,omitempty" yaml:"field,omitempty"`
	Op    Operator `json:"op,omitempty" yaml:"op,omitempty"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// #endregion condition

// #region validate
// Validate checks that every node populates exactly one variant and that leaf
// operators are known. Run once at policy load so evaluation stays total.
func (c Condition) Validate() error {
	return c.validate("condition")
}

func (c Condition) validate(path string) error {
	hasLeaf := c.Field != "" || c.Op != "" || c.Value != nil

	switch {
	case c.All != nil && c.Any != nil:
		return fmt.Errorf("%s: all and any are mutually exclusive", path)
	case (c.All != nil || c.Any != nil) && hasLeaf:
		return fmt.Errorf("%s: leaf fields not allowed on a group node", path)
	case c.All == nil && c.Any == nil && c.Field == "":
		return fmt.Errorf("%s: leaf requires a field", path)
	}

	if c.All == nil && c.Any == nil {
		if !knownOperators[c.Op] {
			return fmt.Errorf("%s: unknown operator %q", path, c.Op)
		}
		return nil
	}

	for i, child := range c.All {
		if err := child.validate(fmt.Sprintf("%s.all[%d]", path, i)); err != nil {
			return err
		}
	}
	for i, child := range c.Any {
		if err := child.validate(fmt.Sprintf("%s.any[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// #endregion validate
