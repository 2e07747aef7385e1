// Package model describes the relational models a resource is generated from:
// tables, their fields and the relations between them.
//
// Models are plain data. A Registry links relation targets by name and freezes the
// result; after NewRegistry returns, models are safe for concurrent reads.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// TenantField is the field name that marks a model as tenant-scoped.
const TenantField = "tenant_id"

// FieldType is the semantic type of a field.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeInt      FieldType = "int"
	TypeDecimal  FieldType = "decimal"
	TypeBool     FieldType = "bool"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
	TypeUUID     FieldType = "uuid"
	TypeJSON     FieldType = "json"
)

// ParseFieldType converts a string to a FieldType
func ParseFieldType(s string) (FieldType, error) {
	switch t := FieldType(strings.ToLower(s)); t {
	case TypeText, TypeInt, TypeDecimal, TypeBool, TypeDate, TypeDateTime, TypeUUID, TypeJSON:
		return t, nil
	default:
		return "", fmt.Errorf("unknown field type: %s", s)
	}
}

// RelationKind tells whether and how a field points to another model.
type RelationKind int

const (
	RelationNone RelationKind = iota
	RelationManyToOne
	RelationOneToMany
	RelationManyToMany
)

// String returns the string representation of the relation kind
func (k RelationKind) String() string {
	switch k {
	case RelationNone:
		return "none"
	case RelationManyToOne:
		return "many_to_one"
	case RelationOneToMany:
		return "one_to_many"
	case RelationManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// Field is a single field of a model.
//
// A many-to-one field stores the referenced primary key in Column (default
// "<name>_id"). A one-to-many field is the reverse side of a many-to-one field
// on Target whose column is RemoteColumn. A many-to-many field goes through the
// join table Through, with ThroughSource pointing at this model and
// ThroughTarget at Target.
type Field struct {
	Name       string
	Column     string
	Type       FieldType
	Nullable   bool
	PrimaryKey bool
	MaxLength  int
	Choices    []string

	Relation      RelationKind
	Target        string
	RemoteColumn  string
	Through       string
	ThroughSource string
	ThroughTarget string

	model  *Model
	target *Model
}

// Model returns the model the field belongs to.
func (f *Field) Model() *Model { return f.model }

// Related returns the target model of a relation field, or nil.
func (f *Field) Related() *Model { return f.target }

// IsRelation reports whether the field points to another model.
func (f *Field) IsRelation() bool { return f.Relation != RelationNone }

// IsToMany reports whether the field is the many side of a relation.
func (f *Field) IsToMany() bool {
	return f.Relation == RelationOneToMany || f.Relation == RelationManyToMany
}

// IsNumeric reports whether sum/avg/min/max apply to the field.
func (f *Field) IsNumeric() bool {
	return f.Relation == RelationNone && (f.Type == TypeInt || f.Type == TypeDecimal)
}

// IsTemporal reports whether the field holds a date or a timestamp.
func (f *Field) IsTemporal() bool {
	return f.Relation == RelationNone && (f.Type == TypeDate || f.Type == TypeDateTime)
}

// HasChoices reports whether the field is a text field with a fixed choice set.
func (f *Field) HasChoices() bool {
	return f.Relation == RelationNone && f.Type == TypeText && len(f.Choices) > 0
}

// Reverse returns the many-to-one field on the target model that backs a
// one-to-many field.
func (f *Field) Reverse() *Field {
	if f.Relation != RelationOneToMany || f.target == nil {
		return nil
	}
	for _, rf := range f.target.Fields {
		if rf.Relation == RelationManyToOne && rf.Column == f.RemoteColumn {
			return rf
		}
	}
	return nil
}

// Model is a relational model backed by a single table.
type Model struct {
	Name   string
	Table  string
	Schema string
	Fields []*Field

	pk     *Field
	byName map[string]*Field
}

// Field looks a field up by name.
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// PrimaryKey returns the primary key field.
func (m *Model) PrimaryKey() *Field { return m.pk }

// TenantField returns the tenant scoping field, or nil if the model is not
// tenant-scoped.
func (m *Model) TenantField() *Field {
	return m.byName[TenantField]
}

// RelationTo returns the first many-to-one field that points at target.
func (m *Model) RelationTo(target *Model) *Field {
	for _, f := range m.Fields {
		if f.Relation == RelationManyToOne && f.target == target {
			return f
		}
	}
	return nil
}

// QualifiedTable returns schema.table.
func (m *Model) QualifiedTable() string {
	return fmt.Sprintf("%s.%s", m.Schema, m.Table)
}

var (
	ErrModelNotFound = errors.New("model not found")
	ErrNoPrimaryKey  = errors.New("model has no primary key")
)

// Registry holds a closed set of linked models.
type Registry struct {
	models map[string]*Model
	order  []string
}

// NewRegistry fills in defaults, indexes fields and links every relation target.
func NewRegistry(models ...*Model) (*Registry, error) {
	reg := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if m.Name == "" {
			return nil, fmt.Errorf("model: empty name")
		}
		if _, ok := reg.models[m.Name]; ok {
			return nil, fmt.Errorf("model %q registered twice", m.Name)
		}
		if err := m.index(); err != nil {
			return nil, err
		}
		reg.models[m.Name] = m
		reg.order = append(reg.order, m.Name)
	}

	for _, m := range models {
		for _, f := range m.Fields {
			if !f.IsRelation() {
				continue
			}
			target, ok := reg.models[f.Target]
			if !ok {
				return nil, fmt.Errorf("%s.%s: target %q: %w", m.Name, f.Name, f.Target, ErrModelNotFound)
			}
			f.target = target
			if f.Relation == RelationManyToOne && f.Type == "" {
				f.Type = target.pk.Type
			}
		}
	}

	for _, m := range models {
		for _, f := range m.Fields {
			if f.Relation == RelationOneToMany && f.Reverse() == nil {
				return nil, fmt.Errorf("%s.%s: no many-to-one field on %s with column %q",
					m.Name, f.Name, f.Target, f.RemoteColumn)
			}
		}
	}
	return reg, nil
}

func (m *Model) index() error {
	if m.Table == "" {
		m.Table = m.Name
	}
	if m.Schema == "" {
		m.Schema = "public"
	}
	m.byName = make(map[string]*Field, len(m.Fields))
	m.pk = nil
	for _, f := range m.Fields {
		if _, ok := m.byName[f.Name]; ok {
			return fmt.Errorf("%s: duplicate field %q", m.Name, f.Name)
		}
		f.model = m
		if f.Column == "" {
			switch f.Relation {
			case RelationManyToOne:
				f.Column = f.Name + "_id"
			case RelationNone:
				f.Column = f.Name
			}
		}
		if f.PrimaryKey {
			if m.pk != nil {
				return fmt.Errorf("%s: composite primary keys are not supported", m.Name)
			}
			m.pk = f
		}
		m.byName[f.Name] = f
	}
	if m.pk == nil {
		return fmt.Errorf("%s: %w", m.Name, ErrNoPrimaryKey)
	}
	return nil
}

// Get returns a registered model by name.
func (r *Registry) Get(name string) (*Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Models returns the registered models in registration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.models[name])
	}
	return out
}
