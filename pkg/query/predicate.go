package query

import (
	"fmt"
	"strings"
)

// Lookup is a comparison applied to an expression.
type Lookup string

const (
	Exact     Lookup = "exact"
	In        Lookup = "in"
	IsNull    Lookup = "isnull"
	Gte       Lookup = "gte"
	Lte       Lookup = "lte"
	IContains Lookup = "icontains"
)

// Condition compares an expression with a value.
//
// Value is a scalar for Exact/Gte/Lte/IContains, a []any for In and a bool for
// IsNull. An Exact condition with a nil value matches NULL.
type Condition struct {
	Expr   Expr
	Lookup Lookup
	Value  any
}

// String implements fmt.Stringer
func (c Condition) String() string {
	return fmt.Sprintf("%s__%s=%v", c.Expr.Path(), c.Lookup, c.Value)
}

// Predicate is a boolean combination of conditions. Conditions and Groups are
// joined with AND, or with OR when Or is set; Not negates the whole group.
// The zero value matches everything.
type Predicate struct {
	Conditions []Condition
	Groups     []Predicate
	Or         bool
	Not        bool
}

// Where returns a predicate holding a single condition.
func Where(e Expr, l Lookup, v any) Predicate {
	return Predicate{Conditions: []Condition{{Expr: e, Lookup: l, Value: v}}}
}

// And joins predicates with AND, skipping empty ones.
func And(ps ...Predicate) Predicate {
	return combine(false, ps)
}

// Or joins predicates with OR, skipping empty ones.
func Or(ps ...Predicate) Predicate {
	return combine(true, ps)
}

// Not negates p. Negating an empty predicate yields an empty predicate.
func Not(p Predicate) Predicate {
	if p.IsEmpty() {
		return p
	}
	p.Not = !p.Not
	return p
}

func combine(or bool, ps []Predicate) Predicate {
	out := Predicate{Or: or}
	for _, p := range ps {
		if p.IsEmpty() {
			continue
		}
		// flatten same-kind groups and single conditions
		single := len(p.Conditions) == 1 && len(p.Groups) == 0
		if !p.Not && (p.Or == or || single) {
			out.Conditions = append(out.Conditions, p.Conditions...)
			out.Groups = append(out.Groups, p.Groups...)
			continue
		}
		out.Groups = append(out.Groups, p)
	}
	return out
}

// IsEmpty reports whether the predicate has no conditions.
func (p Predicate) IsEmpty() bool {
	if len(p.Conditions) > 0 {
		return false
	}
	for _, g := range p.Groups {
		if !g.IsEmpty() {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer
func (p Predicate) String() string {
	parts := make([]string, 0, len(p.Conditions)+len(p.Groups))
	for _, c := range p.Conditions {
		parts = append(parts, c.String())
	}
	for _, g := range p.Groups {
		parts = append(parts, "("+g.String()+")")
	}
	op := " AND "
	if p.Or {
		op = " OR "
	}
	s := strings.Join(parts, op)
	if p.Not {
		return "NOT (" + s + ")"
	}
	return s
}
