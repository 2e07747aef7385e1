package schema

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/model"
)

// ModelOptions adjusts the models built by Models.
type ModelOptions struct {
	// Tables restricts the result to these tables (by name or schema.name).
	// Tables referenced by a foreign key of a selected table are included too.
	Tables []string
	// Choices declares the allowed values of text columns, keyed by
	// "table.column".
	Choices map[string][]string
}

// FieldType maps a PostgreSQL data type as reported by information_schema to
// a model field type.
func FieldType(dataType string) model.FieldType {
	switch dt := strings.ToLower(dataType); {
	case dt == "smallint", dt == "integer", dt == "bigint":
		return model.TypeInt
	case dt == "numeric", dt == "real", dt == "double precision", dt == "money":
		return model.TypeDecimal
	case dt == "boolean":
		return model.TypeBool
	case dt == "date":
		return model.TypeDate
	case strings.HasPrefix(dt, "timestamp"):
		return model.TypeDateTime
	case dt == "uuid":
		return model.TypeUUID
	case dt == "json", dt == "jsonb":
		return model.TypeJSON
	default:
		return model.TypeText
	}
}

// Models converts cached tables into models named after their tables. A
// foreign key column `x_id` becomes the many-to-one field `x` (the column name
// itself when it has no `_id` suffix); the referenced model gets the reverse
// one-to-many field `<table>_set`. Tables without a single-column primary key
// are skipped, as are foreign keys pointing at them.
func Models(tables map[string]Table, opts ModelOptions) ([]*model.Model, error) {
	selected, err := selectTables(tables, opts.Tables)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*model.Model, len(selected))
	var models []*model.Model
	for _, t := range selected {
		if len(t.PrimaryKeys) != 1 {
			continue
		}
		if _, ok := byName[t.Name]; ok {
			return nil, fmt.Errorf("schema: table name %q is ambiguous across schemas", t.Name)
		}
		m := &model.Model{Name: t.Name, Table: t.Name, Schema: t.Schema}
		byName[t.Name] = m
		models = append(models, m)
	}

	for _, t := range selected {
		m, ok := byName[t.Name]
		if !ok {
			continue
		}
		fks := make(map[string]ForeignKey, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			fks[fk.Column] = fk
		}

		for _, col := range t.Columns {
			f := &model.Field{
				Name:       col.Name,
				Column:     col.Name,
				Type:       FieldType(col.DataType),
				Nullable:   col.IsNullable,
				PrimaryKey: col.IsPrimaryKey,
				MaxLength:  col.MaxLength,
				Choices:    opts.Choices[t.Name+"."+col.Name],
			}
			if fk, ok := fks[col.Name]; ok && !col.IsPrimaryKey {
				if target, ok := byName[fk.ReferencedTable]; ok {
					f.Name = strings.TrimSuffix(col.Name, "_id")
					f.Relation = model.RelationManyToOne
					f.Target = target.Name
					f.Type = ""
					f.Choices = nil
					f.MaxLength = 0
					target.Fields = append(target.Fields, &model.Field{
						Name:         m.Name + "_set",
						Relation:     model.RelationOneToMany,
						Target:       m.Name,
						RemoteColumn: col.Name,
					})
				}
			}
			m.Fields = append(m.Fields, f)
		}
	}

	// reverse fields were appended out of column order
	for _, m := range models {
		slices.SortStableFunc(m.Fields, func(a, b *model.Field) int {
			return boolCmp(a.Relation == model.RelationOneToMany, b.Relation == model.RelationOneToMany)
		})
	}
	return models, nil
}

func boolCmp(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

// selectTables returns the requested tables plus the tables they reference,
// sorted by full name.
func selectTables(tables map[string]Table, names []string) ([]Table, error) {
	keys := make(map[string]bool)
	if len(names) == 0 {
		for k := range tables {
			keys[k] = true
		}
	}
	for _, name := range names {
		key, ok := lookup(tables, name)
		if !ok {
			return nil, fmt.Errorf("schema: table %q not found", name)
		}
		keys[key] = true
	}

	queue := make([]string, 0, len(keys))
	for k := range keys {
		queue = append(queue, k)
	}
	for len(queue) > 0 {
		t := tables[queue[0]]
		queue = queue[1:]
		for _, fk := range t.ForeignKeys {
			ref := fk.ReferencedSchema + "." + fk.ReferencedTable
			if _, ok := tables[ref]; ok && !keys[ref] {
				keys[ref] = true
				queue = append(queue, ref)
			}
		}
	}

	out := make([]Table, 0, len(keys))
	for _, k := range slices.Sorted(maps.Keys(keys)) {
		out = append(out, tables[k])
	}
	return out, nil
}

func lookup(tables map[string]Table, name string) (string, bool) {
	if _, ok := tables[name]; ok {
		return name, true
	}
	if _, ok := tables["public."+name]; ok {
		return "public." + name, true
	}
	for k, t := range tables {
		if t.Name == name {
			return k, true
		}
	}
	return "", false
}
