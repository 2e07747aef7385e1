package resource

import (
	"slices"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/query"
)

// Field is an introspected, addressable field of a resource. Name is the
// double-underscore path clients use in order_by, aggregate and group_by.
type Field struct {
	Name      string
	Type      model.FieldType
	Nullable  bool
	Relation  model.RelationKind
	Choices   []string
	MaxLength int
	Expr      query.Expr
}

// introspect walks the model and its many-to-one targets. A relation back to
// the parent's model is left out; a relation to the current model or to a
// model already on the path only contributes its stored key.
func (r *Resource) introspect() {
	root := r.cfg.Model
	var parentModel *model.Model
	if r.parent != nil {
		parentModel = r.parent.cfg.Model
	}
	r.fieldIndex = make(map[string]int)

	var walk func(m *model.Model, prefix string, nullable bool, path []*model.Model)
	walk = func(m *model.Model, prefix string, nullable bool, path []*model.Model) {
		for _, f := range m.Fields {
			name := prefix + f.Name
			switch {
			case f.IsToMany():
				r.addField(root, Field{Name: name + query.Sep + string(query.AggCount), Type: model.TypeInt, Relation: f.Relation})

			case f.Relation == model.RelationManyToOne:
				target := f.Related()
				if target == parentModel {
					continue
				}
				if target == m || slices.Contains(path, target) {
					r.addField(root, Field{
						Name:     name + query.Sep + target.PrimaryKey().Name,
						Type:     f.Type,
						Nullable: nullable || f.Nullable,
						Relation: model.RelationManyToOne,
					})
					continue
				}
				walk(target, name+query.Sep, nullable || f.Nullable, append(slices.Clip(path), target))

			default:
				r.addField(root, Field{
					Name:      name,
					Type:      f.Type,
					Nullable:  nullable || f.Nullable,
					Choices:   f.Choices,
					MaxLength: f.MaxLength,
				})
			}
		}
	}
	walk(root, "", false, []*model.Model{root})

	for _, f := range r.fields {
		r.orderFields = append(r.orderFields, f.Name, "-"+f.Name)
	}
}

func (r *Resource) addField(root *model.Model, f Field) {
	e, err := query.Resolve(root, f.Name)
	if err != nil {
		return
	}
	if _, dup := r.fieldIndex[f.Name]; dup {
		return
	}
	if e.Field != nil && e.Field.Relation == model.RelationManyToOne {
		f.Relation = model.RelationManyToOne
	}
	f.Expr = e
	r.fieldIndex[f.Name] = len(r.fields)
	r.fields = append(r.fields, f)
}

// aggregateCandidates are the fields sum/avg/min/max/count may target.
func (r *Resource) aggregateCandidates() []string {
	pk := r.cfg.Model.PrimaryKey().Name
	var out []string
	for _, f := range r.fields {
		switch {
		case f.Name == pk,
			f.Relation != model.RelationManyToOne && (f.Type == model.TypeInt || f.Type == model.TypeDecimal):
			out = append(out, f.Name)
		}
	}
	return out
}

// groupByCandidates are choice fields, relation keys and dates with their
// truncations and parts.
func (r *Resource) groupByCandidates() []string {
	var out []string
	for _, f := range r.fields {
		switch {
		case f.Relation == model.RelationManyToOne:
			out = append(out, f.Name)
		case f.Type == model.TypeText && len(f.Choices) > 0:
			out = append(out, f.Name)
		case f.Type == model.TypeDate:
			out = append(out, f.Name)
			for _, p := range query.DateParts {
				out = append(out, f.Name+query.Sep+string(p))
			}
		case f.Type == model.TypeDateTime:
			out = append(out, f.Name, f.Name+query.Sep+string(query.TransformDate))
			for _, p := range query.DateParts {
				out = append(out, f.Name+query.Sep+string(p))
			}
		}
	}
	return out
}

func (r *Resource) selectAggregates() error {
	var err error
	if r.aggFields, err = r.pick("aggregate field", r.cfg.AggregateFields, r.aggregateCandidates()); err != nil {
		return err
	}
	if len(r.aggFields) == 0 {
		return nil
	}
	r.groupBy, err = r.pick("group by field", r.cfg.AggregateGroupBy, r.groupByCandidates())
	return err
}

func (r *Resource) pick(what string, names, candidates []string) ([]string, error) {
	if slices.Contains(names, All) {
		return candidates, nil
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if !slices.Contains(candidates, name) {
			return nil, apierr.Configf(r.cfg.Name, "%s %q is not available; candidates: %v", what, name, candidates)
		}
		out = append(out, name)
	}
	return out, nil
}

// Fields returns every introspected field in model order.
func (r *Resource) Fields() []Field { return r.fields }

// Field returns an introspected field by name.
func (r *Resource) Field(name string) (Field, bool) {
	i, ok := r.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return r.fields[i], true
}

// OrderFields lists the accepted order_by values: every field name and its
// descending `-name` variant.
func (r *Resource) OrderFields() []string { return r.orderFields }

// AggregateFields lists the fields accepted by the aggregate route.
func (r *Resource) AggregateFields() []string { return r.aggFields }

// GroupByFields lists the accepted group_by values.
func (r *Resource) GroupByFields() []string { return r.groupBy }
