// Package query holds the store-neutral query representation shared by the
// search compiler, the aggregation engine and the store implementations.
//
// Field paths use double underscores as separators, the same lookup syntax the
// HTTP surface exposes: `customer__name`, `created__year`, `items__count`,
// `items__amount__sum`.
package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/model"
)

// Sep separates the segments of a field path.
const Sep = "__"

// Transform is a date/time transformation applied to a temporal field.
type Transform string

const (
	TransformDate    Transform = "date"
	TransformYear    Transform = "year"
	TransformQuarter Transform = "quarter"
	TransformMonth   Transform = "month"
	TransformDay     Transform = "day"
	TransformWeek    Transform = "week"
	TransformWeekDay Transform = "week_day"
)

// DateParts are the transforms that extract an integer part of a date.
var DateParts = []Transform{
	TransformYear, TransformQuarter, TransformMonth, TransformDay, TransformWeek, TransformWeekDay,
}

func isDatePart(s string) bool {
	return slices.Contains(DateParts, Transform(s))
}

// AggFunc is an aggregation function.
type AggFunc string

const (
	AggAvg   AggFunc = "avg"
	AggCount AggFunc = "count"
	AggMax   AggFunc = "max"
	AggMin   AggFunc = "min"
	AggSum   AggFunc = "sum"
)

// AggFuncs lists every aggregation function in a stable order.
var AggFuncs = []AggFunc{AggAvg, AggCount, AggMax, AggMin, AggSum}

// ParseAggFunc converts a string to an AggFunc
func ParseAggFunc(s string) (AggFunc, error) {
	f := AggFunc(strings.ToLower(s))
	if slices.Contains(AggFuncs, f) {
		return f, nil
	}
	return "", fmt.Errorf("unknown aggregation function: %s", s)
}

// ErrUnknownField is returned when a field path does not resolve on a model.
var ErrUnknownField = errors.New("unknown field")

// Expr is a resolved field path rooted at a model.
//
// Joins are the many-to-one hops from the root. Field is the terminal field; for
// a to-many aggregate it is the aggregated field of the related model (nil for
// a count). ToMany and Agg are set when the path ends in an aggregate over a
// to-many relation. Transforms are applied to Field in order.
type Expr struct {
	Root       *model.Model
	Joins      []*model.Field
	Field      *model.Field
	ToMany     *model.Field
	Agg        AggFunc
	Transforms []Transform

	path string
}

// Path returns the field path the expression was resolved from.
func (e Expr) Path() string { return e.path }

// String implements fmt.Stringer
func (e Expr) String() string { return e.path }

// IsAggregate reports whether the expression aggregates over a to-many relation.
func (e Expr) IsAggregate() bool { return e.ToMany != nil }

// Owner returns the model that owns the terminal field or relation.
func (e Expr) Owner() *model.Model {
	if len(e.Joins) == 0 {
		return e.Root
	}
	return e.Joins[len(e.Joins)-1].Related()
}

// Type returns the semantic type of the value the expression produces.
func (e Expr) Type() model.FieldType {
	if e.ToMany != nil {
		switch e.Agg {
		case AggCount:
			return model.TypeInt
		case AggAvg:
			return model.TypeDecimal
		}
	}
	if len(e.Transforms) > 0 {
		if e.Transforms[len(e.Transforms)-1] == TransformDate {
			return model.TypeDate
		}
		return model.TypeInt
	}
	if e.Field == nil {
		return model.TypeInt
	}
	return e.Field.Type
}

// Resolve resolves a double-underscore separated field path on m.
//
// Grammar, segment by segment:
//   - a many-to-one field followed by more segments joins the related model;
//     `<fk>__<pk name>` and a bare `<fk>` both address the stored key;
//   - a to-many field must be followed by `count`, or by a numeric field of the
//     related model and one of sum/avg/min/max;
//   - a scalar field may be followed by `date` (timestamps only) and by one
//     date part (year, quarter, month, day, week, week_day).
func Resolve(m *model.Model, path string) (Expr, error) {
	if path == "" {
		return Expr{}, fmt.Errorf("%w: empty path", ErrUnknownField)
	}
	segs := strings.Split(path, Sep)
	e := Expr{Root: m, path: path}
	cur := m

	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		f, ok := cur.Field(seg)
		if !ok {
			return Expr{}, fmt.Errorf("%w: %s on %s", ErrUnknownField, path, cur.Name)
		}
		rest := segs[i+1:]

		switch {
		case f.Relation == model.RelationManyToOne:
			if len(rest) == 0 {
				e.Field = f
				return e, nil
			}
			target := f.Related()
			if len(rest) == 1 && rest[0] == target.PrimaryKey().Name {
				e.Field = f
				return e, nil
			}
			e.Joins = append(e.Joins, f)
			cur = target

		case f.IsToMany():
			return resolveToMany(e, f, rest)

		default:
			e.Field = f
			return resolveTransforms(e, rest)
		}
	}
	return Expr{}, fmt.Errorf("%w: %s", ErrUnknownField, path)
}

func resolveToMany(e Expr, rel *model.Field, rest []string) (Expr, error) {
	e.ToMany = rel
	switch {
	case len(rest) == 1 && rest[0] == string(AggCount):
		e.Agg = AggCount
		return e, nil
	case len(rest) == 2:
		f, ok := rel.Related().Field(rest[0])
		if !ok || !f.IsNumeric() {
			return Expr{}, fmt.Errorf("%w: %s is not a numeric field of %s", ErrUnknownField, rest[0], rel.Target)
		}
		fn, err := ParseAggFunc(rest[1])
		if err != nil || fn == AggCount {
			return Expr{}, fmt.Errorf("%w: %s", ErrUnknownField, e.path)
		}
		e.Field = f
		e.Agg = fn
		return e, nil
	default:
		return Expr{}, fmt.Errorf("%w: to-many relation %s needs an aggregate", ErrUnknownField, rel.Name)
	}
}

func resolveTransforms(e Expr, rest []string) (Expr, error) {
	if len(rest) == 0 {
		return e, nil
	}
	if !e.Field.IsTemporal() {
		return Expr{}, fmt.Errorf("%w: %s has no transforms", ErrUnknownField, e.Field.Name)
	}
	i := 0
	if rest[0] == string(TransformDate) {
		if e.Field.Type != model.TypeDateTime {
			return Expr{}, fmt.Errorf("%w: date transform needs a timestamp", ErrUnknownField)
		}
		e.Transforms = append(e.Transforms, TransformDate)
		i++
	}
	if i < len(rest) {
		if !isDatePart(rest[i]) || i != len(rest)-1 {
			return Expr{}, fmt.Errorf("%w: %s", ErrUnknownField, e.path)
		}
		e.Transforms = append(e.Transforms, Transform(rest[i]))
	}
	return e, nil
}

// MustResolve is like Resolve but panics on error. Intended for tests and
// package-level declarations.
func MustResolve(m *model.Model, path string) Expr {
	e, err := Resolve(m, path)
	if err != nil {
		panic(err)
	}
	return e
}
