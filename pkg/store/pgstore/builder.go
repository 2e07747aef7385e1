package pgstore

import (
	"fmt"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/jackc/pgx/v5"
)

const rootAlias = "t0"

// builder accumulates bind arguments and the LEFT JOINs needed by the
// expressions rendered so far.
type builder struct {
	args    []any
	joins   []string
	aliases map[string]string
	nalias  int
}

func newBuilder() *builder {
	return &builder{aliases: make(map[string]string)}
}

func (b *builder) placeholder(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) alias(prefix string) string {
	b.nalias++
	return fmt.Sprintf("%s%d", prefix, b.nalias)
}

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func tableIdent(m *model.Model) string {
	return ident(m.Schema, m.Table)
}

func col(alias string, f *model.Field) string {
	return alias + "." + ident(f.Column)
}

// owner returns the alias of the model that owns e's terminal field, adding
// joins as needed. Joins are shared between expressions with the same path.
func (b *builder) owner(e query.Expr) string {
	alias := rootAlias
	var path []string
	for _, j := range e.Joins {
		path = append(path, j.Name)
		k := strings.Join(path, query.Sep)
		next, ok := b.aliases[k]
		if !ok {
			next = b.alias("t")
			target := j.Related()
			b.joins = append(b.joins, fmt.Sprintf("LEFT JOIN %s %s ON %s = %s",
				tableIdent(target), next, col(next, target.PrimaryKey()), col(alias, j)))
			b.aliases[k] = next
		}
		alias = next
	}
	return alias
}

// expr renders e as a SQL value expression.
func (b *builder) expr(e query.Expr) string {
	alias := b.owner(e)
	if e.IsAggregate() {
		return b.toMany(e, alias)
	}

	out := col(alias, e.Field)
	for _, tr := range e.Transforms {
		out = transform(tr, out)
	}
	return out
}

func transform(tr query.Transform, x string) string {
	switch tr {
	case query.TransformDate:
		return fmt.Sprintf("(%s)::date", x)
	case query.TransformWeekDay:
		// 1 = Sunday
		return fmt.Sprintf("(EXTRACT(DOW FROM %s)::int + 1)", x)
	default:
		return fmt.Sprintf("EXTRACT(%s FROM %s)::int", strings.ToUpper(string(tr)), x)
	}
}

// toMany renders a correlated subquery aggregating over a to-many relation so
// that filtering and ordering on it never duplicates parent rows.
func (b *builder) toMany(e query.Expr, owner string) string {
	rel := e.ToMany
	parent := rel.Model()
	target := rel.Related()
	s := b.alias("s")

	agg := "count(*)"
	if e.Field != nil {
		agg = fmt.Sprintf("%s(%s)", e.Agg, col(s, e.Field))
	}

	switch rel.Relation {
	case model.RelationOneToMany:
		return fmt.Sprintf("(SELECT %s FROM %s %s WHERE %s.%s = %s)",
			agg, tableIdent(target), s, s, ident(rel.RemoteColumn), col(owner, parent.PrimaryKey()))
	default:
		j := b.alias("j")
		through := ident(parent.Schema, rel.Through)
		if e.Field == nil {
			return fmt.Sprintf("(SELECT count(*) FROM %s %s WHERE %s.%s = %s)",
				through, j, j, ident(rel.ThroughSource), col(owner, parent.PrimaryKey()))
		}
		return fmt.Sprintf("(SELECT %s FROM %s %s JOIN %s %s ON %s = %s.%s WHERE %s.%s = %s)",
			agg, through, j, tableIdent(target), s,
			col(s, target.PrimaryKey()), j, ident(rel.ThroughTarget),
			j, ident(rel.ThroughSource), col(owner, parent.PrimaryKey()))
	}
}

// where renders p; an empty predicate renders as "".
func (b *builder) where(p query.Predicate) string {
	if p.IsEmpty() {
		return ""
	}
	parts := make([]string, 0, len(p.Conditions)+len(p.Groups))
	for _, c := range p.Conditions {
		parts = append(parts, b.cond(c))
	}
	for _, g := range p.Groups {
		if s := b.where(g); s != "" {
			parts = append(parts, "("+s+")")
		}
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

func (b *builder) cond(c query.Condition) string {
	x := b.expr(c.Expr)
	switch c.Lookup {
	case query.Exact:
		if c.Value == nil {
			return x + " IS NULL"
		}
		return fmt.Sprintf("%s = %s", x, b.placeholder(c.Value))
	case query.In:
		vals, _ := c.Value.([]any)
		if len(vals) == 0 {
			return "FALSE"
		}
		ph := make([]string, len(vals))
		for i, v := range vals {
			ph[i] = b.placeholder(v)
		}
		return fmt.Sprintf("%s IN (%s)", x, strings.Join(ph, ", "))
	case query.IsNull:
		if want, _ := c.Value.(bool); want {
			return x + " IS NULL"
		}
		return x + " IS NOT NULL"
	case query.Gte:
		return fmt.Sprintf("%s >= %s", x, b.placeholder(c.Value))
	case query.Lte:
		return fmt.Sprintf("%s <= %s", x, b.placeholder(c.Value))
	case query.IContains:
		return fmt.Sprintf("%s::text ILIKE %s", x, b.placeholder("%"+escapeLike(fmt.Sprint(c.Value))+"%"))
	}
	return "FALSE"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (b *builder) orderBy(order []query.Order, render func(query.Expr) string) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts[i] = render(o.Expr) + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (b *builder) window(limit, offset int) string {
	var sb strings.Builder
	if limit > 0 {
		sb.WriteString(" LIMIT " + b.placeholder(limit))
	}
	if offset > 0 {
		sb.WriteString(" OFFSET " + b.placeholder(offset))
	}
	return sb.String()
}

func (b *builder) from(m *model.Model, where string) string {
	var sb strings.Builder
	sb.WriteString(" FROM " + tableIdent(m) + " " + rootAlias)
	for _, j := range b.joins {
		sb.WriteString(" " + j)
	}
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	return sb.String()
}

// columns lists the stored fields of m as `alias.col AS "name"`.
func columns(m *model.Model, alias string) string {
	var cols []string
	for _, f := range m.Fields {
		if f.IsToMany() {
			continue
		}
		c := ident(f.Column)
		if alias != "" {
			c = alias + "." + c
		}
		cols = append(cols, c+" AS "+ident(f.Name))
	}
	return strings.Join(cols, ", ")
}

func buildSelect(sel query.Select) (string, []any) {
	b := newBuilder()
	where := b.where(sel.Where)
	order := b.orderBy(sel.Order, b.expr)
	sql := "SELECT " + columns(sel.Model, rootAlias) + b.from(sel.Model, where) + order
	sql += b.window(sel.Limit, sel.Offset)
	return sql, b.args
}

func buildCount(sel query.Select) (string, []any) {
	b := newBuilder()
	where := b.where(sel.Where)
	return "SELECT count(*)" + b.from(sel.Model, where), b.args
}

// buildAggregate projects group keys and the aggregated value in an inner
// query and aggregates over it, so that to-many subqueries never appear
// inside an aggregate call.
func buildAggregate(sel query.Select, agg query.Aggregate) (string, []any) {
	b := newBuilder()
	proj := make([]string, 0, len(agg.GroupBy)+1)
	for i, g := range agg.GroupBy {
		proj = append(proj, fmt.Sprintf("%s AS g%d", b.expr(g), i))
	}
	proj = append(proj, b.expr(agg.Field)+" AS v")
	where := b.where(sel.Where)
	inner := "SELECT " + strings.Join(proj, ", ") + b.from(sel.Model, where)

	outer := make([]string, 0, len(agg.GroupBy)+1)
	keys := make([]string, 0, len(agg.GroupBy))
	index := make(map[string]string, len(agg.GroupBy))
	for i, g := range agg.GroupBy {
		k := fmt.Sprintf("g%d", i)
		keys = append(keys, k)
		index[g.Path()] = k
		outer = append(outer, k+" AS "+ident(g.Path()))
	}
	outer = append(outer, fmt.Sprintf("%s(v) AS %s", agg.Func, ident(query.ValueKey)))

	sql := "SELECT " + strings.Join(outer, ", ") + " FROM (" + inner + ") q"
	if len(keys) > 0 {
		sql += " GROUP BY " + strings.Join(keys, ", ")
		sql += b.orderBy(query.GroupOrder(sel.Order, agg.GroupBy), func(e query.Expr) string {
			return index[e.Path()]
		})
		sql += b.window(sel.Limit, sel.Offset)
	}
	return sql, b.args
}

// storedFields returns the non-to-many fields of m present in values, in
// model order.
func storedFields(m *model.Model, values map[string]any, skipPK bool) []*model.Field {
	var out []*model.Field
	for _, f := range m.Fields {
		if f.IsToMany() || (skipPK && f.PrimaryKey) {
			continue
		}
		if _, ok := values[f.Name]; ok {
			out = append(out, f)
		}
	}
	return out
}

func buildInsert(m *model.Model, values map[string]any) (string, []any) {
	b := newBuilder()
	fields := storedFields(m, values, false)
	sql := "INSERT INTO " + tableIdent(m)
	if len(fields) == 0 {
		sql += " DEFAULT VALUES"
	} else {
		cols := make([]string, len(fields))
		ph := make([]string, len(fields))
		for i, f := range fields {
			cols[i] = ident(f.Column)
			ph[i] = b.placeholder(values[f.Name])
		}
		sql += " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(ph, ", ") + ")"
	}
	return sql + " RETURNING " + columns(m, ""), b.args
}

func buildUpdate(m *model.Model, values map[string]any) (string, []any) {
	b := newBuilder()
	fields := storedFields(m, values, true)
	sets := make([]string, len(fields))
	for i, f := range fields {
		sets[i] = ident(f.Column) + " = " + b.placeholder(values[f.Name])
	}
	pk := m.PrimaryKey()
	if len(sets) == 0 {
		// no-op write that still reports whether the row exists
		sets = append(sets, ident(pk.Column)+" = "+ident(pk.Column))
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING %s",
		tableIdent(m), strings.Join(sets, ", "), ident(pk.Column), b.placeholder(values[pk.Name]), columns(m, ""))
	return sql, b.args
}

func buildDelete(m *model.Model, id any) (string, []any) {
	b := newBuilder()
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		tableIdent(m), ident(m.PrimaryKey().Column), b.placeholder(id)), b.args
}
