package domain

// FilterKind enumerates predicate and composition node kinds.
type FilterKind string

const (
	FilterEquals    FilterKind = "eq"
	FilterNotEquals FilterKind = "neq"
	FilterRange     FilterKind = "range"
	FilterIn        FilterKind = "in"
	FilterMatch     FilterKind = "match"
	FilterAnd       FilterKind = "and"
	FilterOr        FilterKind = "or"
	FilterNot       FilterKind = "not"
)

// Filter is a node in a route's eligibility expression tree. Leaf nodes
// reference a lead Field; composition nodes hold child Nodes. A nil *Filter
// matches every lead.
type Filter struct {
	Kind    FilterKind `json:"kind"`
	Field   string     `json:"field,omitempty"`
	Value   any        `json:"value,omitempty"`
	Values  []any      `json:"values,omitempty"`
	Min     *float64   `json:"min,omitempty"`
	Max     *float64   `json:"max,omitempty"`
	Pattern string     `json:"pattern,omitempty"`
	Nodes   []*Filter  `json:"nodes,omitempty"`
}

// Fields returns every lead field referenced anywhere in the tree.
func (f *Filter) Fields() []string {
	if f == nil {
		return nil
	}
	var out []string
	if f.Field != "" {
		out = append(out, f.Field)
	}
	for _, n := range f.Nodes {
		out = append(out, n.Fields()...)
	}
	return out
}
