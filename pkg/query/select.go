package query

import (
	"fmt"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/model"
)

// Order sorts by an expression.
type Order struct {
	Expr Expr
	Desc bool
}

// ParseOrder parses `name` or `-name` into an Order on m.
func ParseOrder(m *model.Model, s string) (Order, error) {
	desc := strings.HasPrefix(s, "-")
	e, err := Resolve(m, strings.TrimPrefix(s, "-"))
	if err != nil {
		return Order{}, err
	}
	return Order{Expr: e, Desc: desc}, nil
}

// String implements fmt.Stringer
func (o Order) String() string {
	if o.Desc {
		return "-" + o.Expr.Path()
	}
	return o.Expr.Path()
}

// Select reads rows of a model.
type Select struct {
	Model  *model.Model
	Where  Predicate
	Order  []Order
	Limit  int // 0 means no limit
	Offset int
}

// Page is the ordering and window requested by a client.
type Page struct {
	Order  []Order
	Limit  int
	Offset int
}

// Apply sets ordering and window on sel. The primary key is appended as a
// tie-breaker so that pages are stable.
func (p Page) Apply(sel Select) Select {
	sel.Order = append(append([]Order(nil), p.Order...), Order{
		Expr: Expr{Root: sel.Model, Field: sel.Model.PrimaryKey(), path: sel.Model.PrimaryKey().Name},
	})
	sel.Limit = p.Limit
	sel.Offset = p.Offset
	return sel
}

// Aggregate computes Func over Field, optionally grouped.
//
// Result rows carry the group key values under each group expression's path
// and the aggregate under ValueKey.
type Aggregate struct {
	Func    AggFunc
	Field   Expr
	GroupBy []Expr
}

// ValueKey is the result key of an aggregated value.
const ValueKey = "value"

// Validate checks that the aggregate is well formed. It does not check whether
// the store supports Func for the field's type.
func (a Aggregate) Validate() error {
	if _, err := ParseAggFunc(string(a.Func)); err != nil {
		return err
	}
	for _, g := range a.GroupBy {
		if g.IsAggregate() {
			return fmt.Errorf("cannot group by aggregate %s", g.Path())
		}
		if g.Path() == ValueKey {
			return fmt.Errorf("group key %q is reserved", ValueKey)
		}
	}
	return nil
}

// GroupOrder returns the ordering of grouped aggregate rows: the terms of order
// that name a group key, then the remaining group keys ascending. Terms on
// other fields cannot apply to grouped rows and are dropped.
func GroupOrder(order []Order, groupBy []Expr) []Order {
	var out []Order
	seen := make(map[string]bool)
	for _, o := range order {
		for _, g := range groupBy {
			if o.Expr.Path() == g.Path() && !seen[g.Path()] {
				out = append(out, o)
				seen[g.Path()] = true
			}
		}
	}
	for _, g := range groupBy {
		if !seen[g.Path()] {
			out = append(out, Order{Expr: g})
		}
	}
	return out
}
