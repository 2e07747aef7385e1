package resource

import (
	"strings"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/query"
)

// searchSpec maps one query parameter onto a condition.
type searchSpec struct {
	param  httputil.Param
	expr   query.Expr
	lookup query.Lookup
}

func paramType(t model.FieldType) httputil.Type {
	switch t {
	case model.TypeInt:
		return httputil.TypeInteger
	case model.TypeDecimal:
		return httputil.TypeNumber
	case model.TypeBool:
		return httputil.TypeBoolean
	case model.TypeDate:
		return httputil.TypeDate
	case model.TypeDateTime:
		return httputil.TypeDateTime
	}
	return httputil.TypeString
}

// compileSearch derives the search parameters of the model's own fields. The
// primary key, the tenant field and the key to the parent are not searchable.
func (r *Resource) compileSearch() error {
	m := r.cfg.Model
	skip := map[*model.Field]bool{m.PrimaryKey(): true}
	if tf := m.TenantField(); tf != nil {
		skip[tf] = true
	}
	if pf := r.ParentField(); pf != nil {
		skip[pf] = true
	}

	seen := make(map[string]bool)
	add := func(path string, l query.Lookup, p httputil.Param) error {
		e, err := query.Resolve(m, path)
		if err != nil {
			return apierr.Configf(r.cfg.Name, "search %s: %v", path, err)
		}
		switch {
		case p.Name != "":
		case l == query.Exact:
			p.Name = path
		default:
			p.Name = path + query.Sep + string(l)
		}
		if seen[p.Name] {
			return nil
		}
		seen[p.Name] = true
		p.In = httputil.InQuery
		r.search = append(r.search, searchSpec{param: p, expr: e, lookup: l})
		return nil
	}
	ranges := func(path string, typ httputil.Type) error {
		if err := add(path, query.Gte, httputil.Param{Type: typ}); err != nil {
			return err
		}
		return add(path, query.Lte, httputil.Param{Type: typ})
	}
	dateParts := func(path string) error {
		for _, part := range query.DateParts {
			if err := ranges(path+query.Sep+string(part), httputil.TypeInteger); err != nil {
				return err
			}
		}
		return nil
	}

	for _, f := range m.Fields {
		if skip[f] || f.Type == model.TypeJSON {
			continue
		}
		var err error
		switch {
		case f.Relation == model.RelationManyToOne:
			pk := f.Related().PrimaryKey()
			err = add(f.Name, query.In, httputil.Param{
				Name: f.Name + query.Sep + pk.Name + query.Sep + string(query.In),
				Type: paramType(pk.Type),
				List: true,
			})

		case f.IsToMany():
			if err = ranges(f.Name+query.Sep+string(query.AggCount), httputil.TypeInteger); err != nil {
				return err
			}
			for _, nf := range f.Related().Fields {
				if !nf.IsNumeric() {
					continue
				}
				for _, fn := range []query.AggFunc{query.AggSum, query.AggAvg, query.AggMin, query.AggMax} {
					if err := ranges(f.Name+query.Sep+nf.Name+query.Sep+string(fn), httputil.TypeNumber); err != nil {
						return err
					}
				}
			}
			continue

		case f.HasChoices():
			err = add(f.Name, query.In, httputil.Param{Type: httputil.TypeString, List: true, Enum: f.Choices})

		case f.Type == model.TypeText:
			if err = add(f.Name, query.Exact, httputil.Param{Type: httputil.TypeString, MaxLength: f.MaxLength}); err == nil {
				err = add(f.Name, query.IContains, httputil.Param{Type: httputil.TypeString, MaxLength: f.MaxLength})
			}

		case f.IsNumeric():
			if err = add(f.Name, query.Exact, httputil.Param{Type: paramType(f.Type)}); err == nil {
				err = ranges(f.Name, paramType(f.Type))
			}

		case f.Type == model.TypeDate:
			if err = add(f.Name, query.Exact, httputil.Param{Type: httputil.TypeDate}); err == nil {
				if err = ranges(f.Name, httputil.TypeDate); err == nil {
					err = dateParts(f.Name)
				}
			}

		case f.Type == model.TypeDateTime:
			date := f.Name + query.Sep + string(query.TransformDate)
			steps := []func() error{
				func() error { return add(f.Name, query.Exact, httputil.Param{Type: httputil.TypeDateTime}) },
				func() error { return ranges(f.Name, httputil.TypeDateTime) },
				func() error { return add(date, query.Exact, httputil.Param{Type: httputil.TypeDate}) },
				func() error { return ranges(date, httputil.TypeDate) },
				func() error { return dateParts(date) },
			}
			for _, step := range steps {
				if err = step(); err != nil {
					break
				}
			}

		case f.Type == model.TypeUUID:
			err = add(f.Name, query.Exact, httputil.Param{Type: httputil.TypeString, MinLength: 36, MaxLength: 36})

		default:
			err = add(f.Name, query.Exact, httputil.Param{Type: paramType(f.Type)})
		}
		if err != nil {
			return err
		}
		if f.Nullable && !f.IsToMany() {
			if err := add(f.Name, query.IsNull, httputil.Param{Type: httputil.TypeBoolean}); err != nil {
				return err
			}
		}
	}
	return nil
}

// SearchParams returns the query parameters of list and aggregate routes.
func (r *Resource) SearchParams() []httputil.Param {
	out := make([]httputil.Param, len(r.search))
	for i, s := range r.search {
		out[i] = s.param
	}
	return out
}

// CompileSearch turns bound search arguments into a predicate. Conditions are
// joined with AND. Unless a status filter was given, soft-deleted records are
// excluded.
func (r *Resource) CompileSearch(args httputil.Args) query.Predicate {
	var conds []query.Predicate
	statusFiltered := false
	for _, s := range r.search {
		v, ok := args[s.param.Name]
		if !ok {
			continue
		}
		conds = append(conds, query.Where(s.expr, s.lookup, v))
		if path := s.expr.Path(); path == r.cfg.StatusField || strings.HasPrefix(path, r.cfg.StatusField+query.Sep) {
			statusFiltered = true
		}
	}
	if r.cfg.DeleteStatus != "" && !statusFiltered {
		conds = append(conds, r.notDeleted())
	}
	return query.And(conds...)
}

// notDeleted matches records whose status is not the delete status.
func (r *Resource) notDeleted() query.Predicate {
	e := query.MustResolve(r.cfg.Model, r.cfg.StatusField)
	return query.Or(
		query.Where(e, query.IsNull, true),
		query.Not(query.Where(e, query.Exact, r.cfg.DeleteStatus)),
	)
}
