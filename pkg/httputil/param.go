package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/apierr"
)

// Source is where a parameter is read from.
type Source string

const (
	InPath   Source = "path"
	InQuery  Source = "query"
	InBody   Source = "body"
	InAccess Source = "access" // resolved from the authenticated caller
)

// Type is the scalar type of a path or query parameter.
type Type string

const (
	TypeString   Type = "string"
	TypeInteger  Type = "integer"
	TypeNumber   Type = "number"
	TypeBoolean  Type = "boolean"
	TypeDate     Type = "date"
	TypeDateTime Type = "date-time"
)

// Decoder converts a JSON-decoded request body into the value handed to a
// handler.
type Decoder interface {
	Decode(v any) (any, error)
}

// Param specifies one bound request parameter.
type Param struct {
	Name string
	In   Source
	Type Type
	// List accepts either one comma separated value or the key repeated once
	// per value. Repeated values are taken verbatim and may contain commas.
	List     bool
	Required bool
	Default  any
	Enum     []string
	// MinLength and MaxLength bound string values when non-zero.
	MinLength int
	MaxLength int
	Minimum   *int64
	Maximum   *int64
	// Scopes required of the caller; InAccess only.
	Scopes []string
	// Body decodes the payload; InBody only.
	Body        Decoder
	Description string
}

// Int64 returns a pointer to v, for Param.Minimum and Param.Maximum.
func Int64(v int64) *int64 { return &v }

// Args are the bound values of a request, keyed by parameter name. Absent
// optional parameters without a default are not present.
type Args map[string]any

// Has reports whether name was bound.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns a bound string parameter.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Strings returns a bound list parameter as strings.
func (a Args) Strings(name string) []string {
	switch v := a[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, x := range v {
			out[i] = fmt.Sprint(x)
		}
		return out
	}
	return nil
}

// Int returns a bound integer parameter.
func (a Args) Int(name string) int {
	n, _ := a[name].(int64)
	return int(n)
}

// Access returns the bound caller, if any.
func (a Args) Access() *access.Access {
	for _, v := range a {
		if acc, ok := v.(*access.Access); ok {
			return acc
		}
	}
	return nil
}

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 4 << 20

// Bind reads every param from r. Access parameters are checked first so that
// unauthenticated callers never learn about validation rules; every other
// problem is collected into a single *apierr.ValidationError.
func Bind(r *http.Request, params []Param) (Args, error) {
	args := make(Args, len(params))

	for _, p := range params {
		if p.In != InAccess {
			continue
		}
		acc, ok := access.FromContext(r.Context())
		if !ok {
			return nil, apierr.ErrUnauthorized
		}
		if !acc.HasScopes(p.Scopes...) {
			return nil, fmt.Errorf("%w: requires %s", apierr.ErrForbidden, strings.Join(p.Scopes, " "))
		}
		args[p.Name] = acc
	}

	verr := &apierr.ValidationError{}
	query := r.URL.Query()
	for _, p := range params {
		loc := []string{string(p.In), p.Name}
		switch p.In {
		case InPath:
			raw := r.PathValue(p.Name)
			if raw == "" {
				verr.Add(loc, "field required", "value_error.missing")
				continue
			}
			v, err := p.parse(raw)
			if err != nil {
				verr.Add(loc, err.Error(), errType(err))
				continue
			}
			args[p.Name] = v

		case InQuery:
			raws := queryValues(query[p.Name], p.List)
			if len(raws) == 0 {
				if p.Required {
					verr.Add(loc, "field required", "value_error.missing")
				} else if p.Default != nil {
					args[p.Name] = p.Default
				}
				continue
			}
			if !p.List {
				v, err := p.parse(raws[len(raws)-1])
				if err != nil {
					verr.Add(loc, err.Error(), errType(err))
					continue
				}
				args[p.Name] = v
				continue
			}
			vals := make([]any, 0, len(raws))
			for i, raw := range raws {
				v, err := p.parse(raw)
				if err != nil {
					verr.Add(append(loc, strconv.Itoa(i)), err.Error(), errType(err))
					continue
				}
				vals = append(vals, v)
			}
			args[p.Name] = vals

		case InBody:
			v, err := decodeBody(r)
			if err != nil {
				verr.Add([]string{apierr.LocBody}, err.Error(), "value_error.jsondecode")
				continue
			}
			if p.Body != nil {
				if v, err = p.Body.Decode(v); err != nil {
					var bodyErr *apierr.ValidationError
					if errors.As(err, &bodyErr) {
						verr.Errors = append(verr.Errors, bodyErr.Errors...)
						continue
					}
					return nil, err
				}
			}
			args[p.Name] = v
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return args, nil
}

// queryValues drops empty values. A list given as a single value is split on
// commas; a list given as repeated keys is not.
func queryValues(raws []string, list bool) []string {
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		if raw != "" {
			out = append(out, raw)
		}
	}
	if !list || len(out) != 1 {
		return out
	}
	parts := strings.Split(out[0], ",")
	out = out[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func decodeBody(r *http.Request) (any, error) {
	if r.Body == nil {
		return nil, errors.New("field required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("field required")
		}
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

type paramError struct {
	msg string
	typ string
}

func (e *paramError) Error() string { return e.msg }

func errType(err error) string {
	var pe *paramError
	if errors.As(err, &pe) {
		return pe.typ
	}
	return "value_error"
}

// parse converts a single raw value per p's type and constraints.
func (p Param) parse(raw string) (any, error) {
	if len(p.Enum) > 0 && !slices.Contains(p.Enum, raw) {
		return nil, &paramError{
			msg: fmt.Sprintf("value is not a valid enumeration member; permitted: %s", strings.Join(p.Enum, ", ")),
			typ: "type_error.enum",
		}
	}

	switch p.Type {
	case TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &paramError{"value is not a valid integer", "type_error.integer"}
		}
		if p.Minimum != nil && n < *p.Minimum {
			return nil, &paramError{fmt.Sprintf("ensure this value is greater than or equal to %d", *p.Minimum), "value_error.number.not_ge"}
		}
		if p.Maximum != nil && n > *p.Maximum {
			return nil, &paramError{fmt.Sprintf("ensure this value is less than or equal to %d", *p.Maximum), "value_error.number.not_le"}
		}
		return n, nil
	case TypeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &paramError{"value is not a valid number", "type_error.float"}
		}
		return f, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &paramError{"value could not be parsed to a boolean", "type_error.bool"}
		}
		return b, nil
	case TypeDate:
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, &paramError{"invalid date format", "value_error.date"}
		}
		return t, nil
	case TypeDateTime:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return nil, &paramError{"invalid datetime format", "value_error.datetime"}
	}

	if p.MinLength > 0 && len(raw) < p.MinLength {
		return nil, &paramError{fmt.Sprintf("ensure this value has at least %d characters", p.MinLength), "value_error.any_str.min_length"}
	}
	if p.MaxLength > 0 && len(raw) > p.MaxLength {
		return nil, &paramError{fmt.Sprintf("ensure this value has at most %d characters", p.MaxLength), "value_error.any_str.max_length"}
	}
	return raw, nil
}
