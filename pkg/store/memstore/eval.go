package memstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/query"
)

type row = map[string]any

// value evaluates e against r. Missing joins and NULLs evaluate to nil.
func (s *Store) value(e query.Expr, r row) any {
	for _, j := range e.Joins {
		fk := r[j.Name]
		if fk == nil {
			return nil
		}
		t := s.tables[j.Related().Name]
		if t == nil {
			return nil
		}
		next, ok := t.rows[key(fk)]
		if !ok {
			return nil
		}
		r = next
	}

	if e.IsAggregate() {
		vals := make([]any, 0)
		for _, child := range s.children(e.ToMany, r) {
			if e.Field == nil {
				vals = append(vals, child[e.ToMany.Related().PrimaryKey().Name])
			} else {
				vals = append(vals, child[e.Field.Name])
			}
		}
		var t model.FieldType
		if e.Field != nil {
			t = e.Field.Type
		}
		v, err := aggregate(e.Agg, t, vals)
		if err != nil {
			return nil
		}
		return v
	}

	v := r[e.Field.Name]
	for _, tr := range e.Transforms {
		v = transform(tr, v)
	}
	return v
}

// children returns the rows related to r through a to-many field.
func (s *Store) children(rel *model.Field, r row) []row {
	owner := rel.Model()
	pk := r[owner.PrimaryKey().Name]
	target := s.tables[rel.Related().Name]
	if pk == nil || target == nil {
		return nil
	}

	var out []row
	switch rel.Relation {
	case model.RelationOneToMany:
		rev := rel.Reverse()
		for _, k := range target.order {
			child := target.rows[k]
			if child[rev.Name] != nil && key(child[rev.Name]) == key(pk) {
				out = append(out, child)
			}
		}
	case model.RelationManyToMany:
		for _, l := range s.links[rel.Through] {
			if l[0] != key(pk) {
				continue
			}
			if child, ok := target.rows[l[1]]; ok {
				out = append(out, child)
			}
		}
	}
	return out
}

func transform(tr query.Transform, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	switch tr {
	case query.TransformDate:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case query.TransformYear:
		return int64(t.Year())
	case query.TransformQuarter:
		return int64((int(t.Month())-1)/3 + 1)
	case query.TransformMonth:
		return int64(t.Month())
	case query.TransformDay:
		return int64(t.Day())
	case query.TransformWeek:
		_, w := t.ISOWeek()
		return int64(w)
	case query.TransformWeekDay:
		// 1 = Sunday
		return int64(t.Weekday()) + 1
	}
	return nil
}

func (s *Store) match(p query.Predicate, r row) bool {
	res := s.matchGroup(p, r)
	if p.Not {
		return !res
	}
	return res
}

func (s *Store) matchGroup(p query.Predicate, r row) bool {
	if p.IsEmpty() {
		return true
	}
	// short-circuit on the first false for AND, the first true for OR
	for _, c := range p.Conditions {
		if s.cond(c, r) == p.Or {
			return p.Or
		}
	}
	for _, g := range p.Groups {
		if g.IsEmpty() {
			continue
		}
		if s.match(g, r) == p.Or {
			return p.Or
		}
	}
	return !p.Or
}

func (s *Store) cond(c query.Condition, r row) bool {
	v := s.value(c.Expr, r)
	switch c.Lookup {
	case query.Exact:
		if c.Value == nil {
			return v == nil
		}
		n, ok := compare(v, c.Value)
		return ok && n == 0
	case query.In:
		vals, _ := c.Value.([]any)
		for _, want := range vals {
			if n, ok := compare(v, want); ok && n == 0 {
				return true
			}
		}
		return false
	case query.IsNull:
		want, _ := c.Value.(bool)
		return (v == nil) == want
	case query.Gte:
		n, ok := compare(v, c.Value)
		return ok && n >= 0
	case query.Lte:
		n, ok := compare(v, c.Value)
		return ok && n <= 0
	case query.IContains:
		if v == nil {
			return false
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(c.Value)))
	}
	return false
}

// compare orders two non-nil values of compatible kinds.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case string:
		return strings.Compare(av, fmt.Sprint(b)), true
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

// nullsLast compares like compare but sorts nil after everything else.
func nullsLast(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	n, _ := compare(a, b)
	return n
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// aggregate applies fn to vals the way PostgreSQL does: NULLs are ignored, an
// empty sum/avg/min/max is NULL and count is never NULL.
func aggregate(fn query.AggFunc, t model.FieldType, vals []any) (any, error) {
	if fn != query.AggCount && t != "" && !supports(fn, t) {
		return nil, fmt.Errorf("%s(%s)", fn, t)
	}
	var (
		n    int64
		sum  float64
		best any
	)
	allInt := true
	for _, v := range vals {
		if v == nil {
			continue
		}
		n++
		switch fn {
		case query.AggSum, query.AggAvg:
			fv, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("%s over %T", fn, v)
			}
			if _, isFloat := v.(float64); isFloat {
				allInt = false
			}
			sum += fv
		case query.AggMin:
			if c, ok := compare(v, best); best == nil || (ok && c < 0) {
				best = v
			}
		case query.AggMax:
			if c, ok := compare(v, best); best == nil || (ok && c > 0) {
				best = v
			}
		}
	}

	switch fn {
	case query.AggCount:
		return n, nil
	case query.AggSum:
		if n == 0 {
			return nil, nil
		}
		if allInt && t == model.TypeInt {
			return int64(sum), nil
		}
		return sum, nil
	case query.AggAvg:
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	}
	return best, nil
}

func supports(fn query.AggFunc, t model.FieldType) bool {
	switch fn {
	case query.AggSum, query.AggAvg:
		return t == model.TypeInt || t == model.TypeDecimal
	case query.AggMin, query.AggMax:
		switch t {
		case model.TypeInt, model.TypeDecimal, model.TypeText, model.TypeDate, model.TypeDateTime:
			return true
		}
		return false
	}
	return true
}

func key(v any) string {
	return fmt.Sprint(v)
}
