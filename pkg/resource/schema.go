package resource

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/store"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// RefKey is the key of the self reference added by Schema.WithReference.
const RefKey = "$ref"

// SchemaField is one field of a payload or response schema. Field names match
// the model's field names.
type SchemaField struct {
	Name      string
	Type      model.FieldType
	Required  bool
	Nullable  bool
	MaxLength int
	Choices   []string
	// List marks a list of scalars, the target keys of a many-to-many field.
	List bool
	// Object is the schema of one-to-many sub-objects.
	Object *Schema
}

// Schema declares the fields accepted in a request body or rendered in a
// response.
type Schema struct {
	Name   string
	Fields []SchemaField

	reference bool
}

// Payload is a decoded request body. It holds only the keys the client sent.
type Payload map[string]any

// Field returns a field by name.
func (s *Schema) Field(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

// Optional returns a copy of s in which no field is required.
func (s *Schema) Optional() *Schema {
	out := *s
	out.Name = s.Name + "Optional"
	out.Fields = slices.Clone(s.Fields)
	for i := range out.Fields {
		out.Fields[i].Required = false
	}
	return &out
}

// WithReference returns a copy of s whose rendered objects carry a RefKey
// entry with the object's URL path.
func (s *Schema) WithReference() *Schema {
	out := *s
	out.reference = true
	return &out
}

// HasReference reports whether rendered objects carry a RefKey entry.
func (s *Schema) HasReference() bool { return s.reference }

// ModelSchema derives a schema from m. With no names every field except the
// tenant field is included. Primary keys are optional and fields are required
// unless nullable. One-to-many fields nest the target's schema without the
// reverse key.
func ModelSchema(m *model.Model, names ...string) (*Schema, error) {
	return modelSchema(m, nil, names)
}

func modelSchema(m *model.Model, skip *model.Field, names []string) (*Schema, error) {
	s := &Schema{Name: m.Name}
	fields := m.Fields
	if len(names) > 0 {
		fields = make([]*model.Field, 0, len(names))
		for _, name := range names {
			f, ok := m.Field(name)
			if !ok {
				return nil, fmt.Errorf("%s has no field %q", m.Name, name)
			}
			fields = append(fields, f)
		}
	}

	for _, f := range fields {
		if f == skip || (len(names) == 0 && f.Name == model.TenantField) {
			continue
		}
		sf := SchemaField{
			Name:      f.Name,
			Type:      f.Type,
			Required:  !f.Nullable && !f.PrimaryKey && !f.IsToMany(),
			Nullable:  f.Nullable,
			MaxLength: f.MaxLength,
			Choices:   f.Choices,
		}
		switch f.Relation {
		case model.RelationManyToMany:
			sf.Type = f.Related().PrimaryKey().Type
			sf.List = true
		case model.RelationOneToMany:
			sub, err := modelSchema(f.Related(), f.Reverse(), nil)
			if err != nil {
				return nil, err
			}
			sf.Type = ""
			sf.Object = sub
		}
		s.Fields = append(s.Fields, sf)
	}
	return s, nil
}

// SchemaFor derives a schema from the json tags of struct T. Pointer fields and
// fields tagged omitempty are optional; slices of structs are sub-objects and
// other slices are key lists. A `type` tag overrides the inferred field type,
// e.g. `type:"date"`.
func SchemaFor[T any]() *Schema {
	var zero T
	return schemaOf(reflect.TypeOf(zero))
}

var timeType = reflect.TypeOf(time.Time{})

func schemaOf(t reflect.Type) *Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s := &Schema{Name: t.Name()}
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}

		ft := sf.Type
		f := SchemaField{Name: name, Required: !strings.Contains(opts, "omitempty")}
		if ft.Kind() == reflect.Pointer {
			f.Required = false
			f.Nullable = true
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Slice && ft.Elem() != reflect.TypeOf(byte(0)) {
			elem := ft.Elem()
			for elem.Kind() == reflect.Pointer {
				elem = elem.Elem()
			}
			if elem.Kind() == reflect.Struct && elem != timeType {
				f.Object = schemaOf(elem)
			} else {
				f.List = true
				f.Type = kindType(elem)
			}
		} else {
			f.Type = kindType(ft)
		}
		if tag := sf.Tag.Get("type"); tag != "" {
			if typ, err := model.ParseFieldType(tag); err == nil {
				f.Type = typ
			}
		}
		s.Fields = append(s.Fields, f)
	}
	return s
}

func kindType(t reflect.Type) model.FieldType {
	if t == timeType {
		return model.TypeDateTime
	}
	switch t.Kind() {
	case reflect.String:
		return model.TypeText
	case reflect.Bool:
		return model.TypeBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return model.TypeInt
	case reflect.Float32, reflect.Float64:
		return model.TypeDecimal
	}
	return model.TypeJSON
}

// Decode validates a JSON-decoded body against s and coerces its values. It
// returns a Payload and implements httputil.Decoder.
func (s *Schema) Decode(v any) (any, error) {
	verr := &apierr.ValidationError{}
	p := s.decode(v, []string{apierr.LocBody}, verr)
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Schema) decode(v any, loc []string, verr *apierr.ValidationError) Payload {
	obj, ok := v.(map[string]any)
	if !ok {
		verr.Add(loc, "value is not a valid dict", "type_error.dict")
		return nil
	}

	p := make(Payload, len(obj))
	for _, f := range s.Fields {
		floc := append(slices.Clip(loc), f.Name)
		raw, present := obj[f.Name]
		if !present {
			if f.Required {
				verr.Add(floc, "field required", "value_error.missing")
			}
			continue
		}
		if raw == nil {
			if !f.Nullable {
				verr.Add(floc, "none is not an allowed value", "type_error.none.not_allowed")
				continue
			}
			p[f.Name] = nil
			continue
		}

		switch {
		case f.Object != nil:
			items, ok := raw.([]any)
			if !ok {
				verr.Add(floc, "value is not a valid list", "type_error.list")
				continue
			}
			subs := make([]Payload, 0, len(items))
			for i, item := range items {
				subs = append(subs, f.Object.decode(item, append(slices.Clip(floc), fmt.Sprint(i)), verr))
			}
			p[f.Name] = subs
		case f.List:
			items, ok := raw.([]any)
			if !ok {
				verr.Add(floc, "value is not a valid list", "type_error.list")
				continue
			}
			vals := make([]any, 0, len(items))
			for i, item := range items {
				val, err := f.coerce(item)
				if err != nil {
					verr.Add(append(slices.Clip(floc), fmt.Sprint(i)), err.msg, err.typ)
					continue
				}
				vals = append(vals, val)
			}
			p[f.Name] = vals
		default:
			val, err := f.coerce(raw)
			if err != nil {
				verr.Add(floc, err.msg, err.typ)
				continue
			}
			p[f.Name] = val
		}
	}
	return p
}

type coerceError struct{ msg, typ string }

// coerce converts a JSON scalar to the Go type stored for f.Type.
func (f SchemaField) coerce(v any) (any, *coerceError) {
	switch f.Type {
	case model.TypeInt:
		var n int64
		if err := decodeStrict(v, &n); err != nil {
			return nil, &coerceError{"value is not a valid integer", "type_error.integer"}
		}
		return n, nil
	case model.TypeDecimal:
		var x float64
		if err := decodeStrict(v, &x); err != nil {
			return nil, &coerceError{"value is not a valid decimal", "type_error.decimal"}
		}
		return x, nil
	case model.TypeBool:
		var b bool
		if err := decodeStrict(v, &b); err != nil {
			return nil, &coerceError{"value could not be parsed to a boolean", "type_error.bool"}
		}
		return b, nil
	case model.TypeDate, model.TypeDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, &coerceError{"invalid datetime format", "value_error.datetime"}
		}
		layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly}
		if f.Type == model.TypeDate {
			layouts = []string{time.DateOnly}
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, &coerceError{"invalid " + string(f.Type) + " format", "value_error." + string(f.Type)}
	case model.TypeUUID:
		s, ok := v.(string)
		if !ok {
			return nil, &coerceError{"value is not a valid uuid", "type_error.uuid"}
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, &coerceError{"value is not a valid uuid", "type_error.uuid"}
		}
		return id.String(), nil
	case model.TypeJSON:
		return v, nil
	}

	var s string
	if err := decodeStrict(v, &s); err != nil {
		return nil, &coerceError{"str type expected", "type_error.str"}
	}
	if f.MaxLength > 0 && len(s) > f.MaxLength {
		return nil, &coerceError{fmt.Sprintf("ensure this value has at most %d characters", f.MaxLength), "value_error.any_str.max_length"}
	}
	if len(f.Choices) > 0 && !slices.Contains(f.Choices, s) {
		return nil, &coerceError{"value is not a valid enumeration member; permitted: " + strings.Join(f.Choices, ", "), "type_error.enum"}
	}
	return s, nil
}

// decodeStrict decodes a single JSON value into out without weak typing, so
// that "1" is not accepted for an integer.
func decodeStrict(v any, out any) error {
	if n, ok := v.(json.Number); ok {
		switch out.(type) {
		case *string, *bool:
			return fmt.Errorf("unexpected number %s", n)
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: out})
	if err != nil {
		return err
	}
	return dec.Decode(v)
}

// Render returns the response object of rec. Sub-objects are read from
// rec.Related and many-to-many keys from rec.Links; ref is the object's URL
// path, used when s carries references. Dates render as YYYY-MM-DD.
func (s *Schema) Render(rec *store.Record, ref string) map[string]any {
	out := make(map[string]any, len(s.Fields)+1)
	for _, f := range s.Fields {
		switch {
		case f.Object != nil:
			subs := rec.Related[f.Name]
			items := make([]map[string]any, len(subs))
			for i, sub := range subs {
				items[i] = f.Object.Render(sub, "")
			}
			out[f.Name] = items
		case f.List:
			keys := rec.Links[f.Name]
			if keys == nil {
				keys = []any{}
			}
			out[f.Name] = keys
		case f.Type == model.TypeDate:
			v := rec.Get(f.Name)
			if t, ok := v.(time.Time); ok {
				v = t.Format(time.DateOnly)
			}
			out[f.Name] = v
		default:
			out[f.Name] = rec.Get(f.Name)
		}
	}
	if s.reference && ref != "" {
		out[RefKey] = ref
	}
	return out
}
