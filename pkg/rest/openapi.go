package rest

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/resource"
)

// OpenAPIInfo contains API metadata for the OpenAPI document
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// OpenAPIPath is the path the API serves its OpenAPI document on.
const OpenAPIPath = "/openapi.json"

// GenerateOpenAPI builds an OpenAPI 3.1 document from the route parameters.
func GenerateOpenAPI(info OpenAPIInfo, routes []Route) map[string]any {
	paths := make(map[string]map[string]any)
	schemas := make(map[string]any)
	secured := false

	for _, rt := range routes {
		item, ok := paths[rt.Pattern]
		if !ok {
			item = make(map[string]any)
			paths[rt.Pattern] = item
		}
		item[strings.ToLower(rt.Method)] = buildOperation(rt, schemas)
		if !rt.Public() {
			secured = true
		}
	}

	components := map[string]any{"schemas": schemas}
	if secured {
		components["securitySchemes"] = map[string]any{
			"bearerAuth": map[string]any{
				"type":         "http",
				"scheme":       "bearer",
				"bearerFormat": "JWT",
				"description":  "JWT token authentication. Use format: Bearer <token>",
			},
			"basicAuth": map[string]any{
				"type":        "http",
				"scheme":      "basic",
				"description": "Basic HTTP authentication using username and password",
			},
		}
	}

	return map[string]any{
		"openapi":    "3.1.0",
		"info":       info,
		"paths":      paths,
		"components": components,
	}
}

func operationID(rt Route) string {
	parts := []string{string(rt.Op)}
	for _, a := range rt.Resource.Ancestors() {
		parts = append(parts, a.Name())
	}
	parts = append(parts, rt.Resource.Name())
	return strings.Join(parts, "_")
}

func buildOperation(rt Route, schemas map[string]any) map[string]any {
	res := rt.Resource
	op := map[string]any{
		"operationId": operationID(rt),
		"summary":     fmt.Sprintf("%s %s", rt.Op, res.Name()),
		"tags":        []string{res.Path()},
	}

	var (
		params []map[string]any
		scopes []string
		authed bool
	)
	for _, p := range rt.Params {
		switch p.In {
		case httputil.InAccess:
			authed, scopes = true, p.Scopes
		case httputil.InBody:
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{"schema": bodySchema(rt, schemas)},
				},
			}
		default:
			params = append(params, buildParameter(p))
		}
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	if authed {
		if scopes == nil {
			scopes = []string{}
		}
		op["security"] = []map[string][]string{{"bearerAuth": scopes}, {"basicAuth": scopes}}
	}

	responses := map[string]any{
		"422": map[string]string{"description": "Validation Error"},
	}
	if authed {
		responses["401"] = map[string]string{"description": "Unauthorized"}
		responses["403"] = map[string]string{"description": "Forbidden"}
	}
	if len(res.Ancestors()) > 0 || rt.Op != resource.OpList && rt.Op != resource.OpCreate && rt.Op != resource.OpAggregate {
		responses["404"] = map[string]string{"description": "Not Found"}
	}

	status := strconv.Itoa(rt.Status)
	switch rt.Op {
	case resource.OpDelete:
		responses[status] = map[string]string{"description": "No Content"}
	case resource.OpList:
		responses[status] = jsonResponse("Success", map[string]any{
			"type":       "object",
			"properties": map[string]any{"items": map[string]any{"type": "array", "items": readRef(res, schemas)}},
			"required":   []string{"items"},
		})
	case resource.OpAggregate:
		responses[status] = jsonResponse("Success", map[string]any{
			"type": "object",
			"properties": map[string]any{"values": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object", "additionalProperties": true},
			}},
		})
	default:
		responses[status] = jsonResponse(http.StatusText(rt.Status), readRef(res, schemas))
	}
	op["responses"] = responses
	return op
}

func jsonResponse(desc string, schema any) map[string]any {
	return map[string]any{
		"description": desc,
		"content":     map[string]any{"application/json": map[string]any{"schema": schema}},
	}
}

func buildParameter(p httputil.Param) map[string]any {
	schema := paramSchema(p)
	if p.List {
		schema = map[string]any{"type": "array", "items": schema}
	}
	if p.Default != nil {
		schema["default"] = p.Default
	}
	out := map[string]any{
		"name":     p.Name,
		"in":       string(p.In),
		"required": p.Required || p.In == httputil.InPath,
		"schema":   schema,
	}
	if p.List {
		out["explode"] = true
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	return out
}

func paramSchema(p httputil.Param) map[string]any {
	s := make(map[string]any)
	switch p.Type {
	case httputil.TypeInteger, httputil.TypeNumber, httputil.TypeBoolean:
		s["type"] = string(p.Type)
	case httputil.TypeDate, httputil.TypeDateTime:
		s["type"], s["format"] = "string", string(p.Type)
	default:
		s["type"] = "string"
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.MinLength > 0 {
		s["minLength"] = p.MinLength
	}
	if p.MaxLength > 0 {
		s["maxLength"] = p.MaxLength
	}
	if p.Minimum != nil {
		s["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		s["maximum"] = *p.Maximum
	}
	return s
}

func readRef(res *resource.Resource, schemas map[string]any) map[string]any {
	return schemaRef(componentName(res, "Read"), res.ReadSchema(), schemas)
}

func bodySchema(rt Route, schemas map[string]any) map[string]any {
	cfg := rt.Resource.Config()
	switch rt.Op {
	case resource.OpCreate:
		return schemaRef(componentName(rt.Resource, "Create"), cfg.Create, schemas)
	case resource.OpPatch:
		return schemaRef(componentName(rt.Resource, "Patch"), cfg.Update.Optional(), schemas)
	default:
		return schemaRef(componentName(rt.Resource, "Update"), cfg.Update, schemas)
	}
}

func componentName(res *resource.Resource, suffix string) string {
	var b strings.Builder
	for _, a := range slices.Concat(res.Ancestors(), []*resource.Resource{res}) {
		name := a.Name()
		b.WriteString(strings.ToUpper(name[:1]) + name[1:])
	}
	b.WriteString(suffix)
	return b.String()
}

func schemaRef(name string, s *resource.Schema, schemas map[string]any) map[string]any {
	if _, ok := schemas[name]; !ok {
		schemas[name] = objectSchema(s)
	}
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func objectSchema(s *resource.Schema) map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []string
	for _, f := range s.Fields {
		props[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	if s.HasReference() {
		props[resource.RefKey] = map[string]any{"type": "string", "readOnly": true}
	}
	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func fieldSchema(f resource.SchemaField) map[string]any {
	if f.Object != nil {
		return map[string]any{"type": "array", "items": objectSchema(f.Object)}
	}
	s := typeSchema(f.Type)
	if len(f.Choices) > 0 {
		s["enum"] = f.Choices
	}
	if f.MaxLength > 0 {
		s["maxLength"] = f.MaxLength
	}
	if f.Nullable {
		s["type"] = []any{s["type"], "null"}
	}
	if f.List {
		return map[string]any{"type": "array", "items": s}
	}
	return s
}

// typeSchema maps field types to OpenAPI schema types.
func typeSchema(t model.FieldType) map[string]any {
	switch t {
	case model.TypeInt:
		return map[string]any{"type": "integer", "format": "int64"}
	case model.TypeDecimal:
		return map[string]any{"type": "number"}
	case model.TypeBool:
		return map[string]any{"type": "boolean"}
	case model.TypeDate:
		return map[string]any{"type": "string", "format": "date"}
	case model.TypeDateTime:
		return map[string]any{"type": "string", "format": "date-time"}
	case model.TypeUUID:
		return map[string]any{"type": "string", "format": "uuid"}
	case model.TypeJSON:
		return map[string]any{"type": "object", "additionalProperties": true}
	default:
		return map[string]any{"type": "string"}
	}
}
