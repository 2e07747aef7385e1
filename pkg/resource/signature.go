package resource

import (
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/query"
)

// Names of the parameters every signature may carry besides ids and search
// parameters.
const (
	ParamAccess      = "access"
	ParamData        = "data"
	ParamAggFunction = "aggregation_function"
	ParamField       = "field"
	ParamGroupBy     = "group_by"
	ParamOrderBy     = "order_by"
	ParamLimit       = "limit"
	ParamOffset      = "offset"
)

// CodeCreateMultiDisabled is the policy error code of a list body sent to a
// create route.
const CodeCreateMultiDisabled = "create_multi_disabled"

// signature lists the parameters of op in binding order: ancestor ids, the
// object id, the caller, then operation specific parameters.
func (r *Resource) signature(op Operation) []httputil.Param {
	var ps []httputil.Param
	for _, a := range r.ancestors {
		ps = append(ps, a.idParam())
	}
	switch op {
	case OpRead, OpPatch, OpPut, OpDelete:
		ps = append(ps, r.idParam())
	}
	if r.needsAccess(op) {
		ps = append(ps, httputil.Param{
			Name:        ParamAccess,
			In:          httputil.InAccess,
			Scopes:      r.scopes[op],
			Description: "authenticated caller",
		})
	}

	switch op {
	case OpAggregate:
		funcs := make([]string, len(query.AggFuncs))
		for i, fn := range query.AggFuncs {
			funcs[i] = string(fn)
		}
		ps = append(ps,
			httputil.Param{Name: ParamAggFunction, In: httputil.InPath, Type: httputil.TypeString, Required: true, Enum: funcs},
			httputil.Param{Name: ParamField, In: httputil.InPath, Type: httputil.TypeString, Required: true, Enum: r.aggFields},
		)
		if len(r.groupBy) > 0 {
			ps = append(ps, httputil.Param{Name: ParamGroupBy, In: httputil.InQuery, Type: httputil.TypeString, List: true, Enum: r.groupBy})
		}
		ps = append(ps, r.SearchParams()...)
		ps = append(ps, r.pageParams()...)
	case OpList:
		ps = append(ps, r.SearchParams()...)
		ps = append(ps, r.pageParams()...)
	case OpCreate:
		ps = append(ps, httputil.Param{Name: ParamData, In: httputil.InBody, Required: true, Body: createDecoder{r.cfg.Create}})
	case OpPatch:
		ps = append(ps, httputil.Param{Name: ParamData, In: httputil.InBody, Required: true, Body: r.cfg.Update.Optional()})
	case OpPut:
		ps = append(ps, httputil.Param{Name: ParamData, In: httputil.InBody, Required: true, Body: r.cfg.Update})
	}
	return ps
}

// needsAccess reports whether op binds the caller: when scopes are required,
// when the model is tenant-scoped, or when the resource or an ancestor demands
// authentication.
func (r *Resource) needsAccess(op Operation) bool {
	if len(r.scopes[op]) > 0 || r.TenantScoped() || r.cfg.Security {
		return true
	}
	return slices.ContainsFunc(r.ancestors, func(a *Resource) bool { return a.cfg.Security })
}

func (r *Resource) idParam() httputil.Param {
	pk := r.cfg.Model.PrimaryKey()
	p := httputil.Param{Name: r.IDField(), In: httputil.InPath, Type: paramType(pk.Type), Required: true}
	switch pk.Type {
	case model.TypeUUID:
		n := pk.MaxLength
		if n == 0 {
			n = 36
		}
		p.Type = httputil.TypeString
		p.MinLength, p.MaxLength = n, n
	case model.TypeText:
		p.MaxLength = pk.MaxLength
	}
	return p
}

func (r *Resource) pageParams() []httputil.Param {
	pg := r.cfg.Pagination
	order := httputil.Param{Name: ParamOrderBy, In: httputil.InQuery, Type: httputil.TypeString, List: true, Enum: r.orderFields}
	if len(pg.DefaultOrder) > 0 {
		order.Default = slices.Clone(pg.DefaultOrder)
	}
	return []httputil.Param{
		order,
		{
			Name: ParamLimit, In: httputil.InQuery, Type: httputil.TypeInteger,
			Default: int64(pg.DefaultLimit), Minimum: httputil.Int64(1), Maximum: httputil.Int64(int64(pg.MaxLimit)),
		},
		{
			Name: ParamOffset, In: httputil.InQuery, Type: httputil.TypeInteger,
			Default: int64(0), Minimum: httputil.Int64(0),
		},
	}
}

// Page returns the ordering and window bound by a list or aggregate
// signature.
func (r *Resource) Page(args httputil.Args) (query.Page, error) {
	var p query.Page
	for _, s := range args.Strings(ParamOrderBy) {
		name := strings.TrimPrefix(s, "-")
		f, ok := r.Field(name)
		if !ok {
			return query.Page{}, apierr.NewValidationError(
				[]string{apierr.LocQuery, ParamOrderBy},
				"value is not a valid enumeration member", "type_error.enum")
		}
		p.Order = append(p.Order, query.Order{Expr: f.Expr, Desc: name != s})
	}
	p.Limit = args.Int(ParamLimit)
	p.Offset = args.Int(ParamOffset)
	return p, nil
}

// createDecoder rejects list bodies before decoding a single object.
type createDecoder struct{ schema *Schema }

func (d createDecoder) Decode(v any) (any, error) {
	if _, ok := v.([]any); ok {
		return nil, &apierr.PolicyError{Code: CodeCreateMultiDisabled, Message: "create accepts a single object"}
	}
	return d.schema.Decode(v)
}
