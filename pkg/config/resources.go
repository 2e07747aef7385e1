package config

import (
	"fmt"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/resource"
)

// ResourceConfig declares a resource in configuration files. It mirrors
// resource.Config with models and schemas referenced by name.
//
//	resources:
//	  - name: customer
//	    read: {reference: true}
//	    create: {fields: [name, email]}
//	    scopes: {list: [customer:read], read: [customer:read]}
//	    children:
//	      - name: invoice
//	        read: {}
//	        deleteStatus: void
//	        aggregateFields: ["*"]
type ResourceConfig struct {
	Name string `mapstructure:"name"`
	// Model defaults to Name.
	Model string `mapstructure:"model"`

	Read   *SchemaConfig `mapstructure:"read"`
	Create *SchemaConfig `mapstructure:"create"`
	Update *SchemaConfig `mapstructure:"update"`
	Delete bool          `mapstructure:"delete"`

	CreateMulti  bool   `mapstructure:"createMulti"`
	DeleteStatus string `mapstructure:"deleteStatus"`
	StatusField  string `mapstructure:"statusField"`

	Pagination PaginationConfig `mapstructure:"pagination"`

	Security bool                `mapstructure:"security"`
	Scopes   map[string][]string `mapstructure:"scopes"`

	AggregateFields  []string `mapstructure:"aggregateFields"`
	AggregateGroupBy []string `mapstructure:"aggregateGroupBy"`
	CacheControl     string   `mapstructure:"cacheControl"`

	Children []ResourceConfig `mapstructure:"children"`
}

// SchemaConfig enables a route and selects the model fields of its schema.
// No fields selects every field but the tenant field.
type SchemaConfig struct {
	Fields    []string `mapstructure:"fields"`
	Reference bool     `mapstructure:"reference"`
}

type PaginationConfig struct {
	DefaultLimit int      `mapstructure:"defaultLimit"`
	MaxLimit     int      `mapstructure:"maxLimit"`
	DefaultOrder []string `mapstructure:"defaultOrder"`
}

// BuildResources resolves models in reg and builds one resource tree per
// entry of cfgs.
func BuildResources(reg *model.Registry, cfgs []ResourceConfig) ([]*resource.Resource, error) {
	roots := make([]*resource.Resource, 0, len(cfgs))
	for _, c := range cfgs {
		rc, err := c.resourceConfig(reg)
		if err != nil {
			return nil, err
		}
		res, err := resource.New(rc)
		if err != nil {
			return nil, err
		}
		roots = append(roots, res)
	}
	return roots, nil
}

func (c ResourceConfig) resourceConfig(reg *model.Registry) (resource.Config, error) {
	name := c.Model
	if name == "" {
		name = c.Name
	}
	m, ok := reg.Get(name)
	if !ok {
		return resource.Config{}, apierr.Configf(c.Name, "%s: %v", name, model.ErrModelNotFound)
	}

	rc := resource.Config{
		Name:         c.Name,
		Model:        m,
		Delete:       c.Delete,
		CreateMulti:  c.CreateMulti,
		DeleteStatus: c.DeleteStatus,
		StatusField:  c.StatusField,
		Pagination: resource.Pagination{
			DefaultLimit: c.Pagination.DefaultLimit,
			MaxLimit:     c.Pagination.MaxLimit,
			DefaultOrder: c.Pagination.DefaultOrder,
		},
		Security:         c.Security,
		AggregateFields:  c.AggregateFields,
		AggregateGroupBy: c.AggregateGroupBy,
		CacheControl:     c.CacheControl,
	}

	var err error
	if rc.Read, err = c.Read.schema(c.Name, m); err != nil {
		return rc, err
	}
	if rc.Create, err = c.Create.schema(c.Name, m); err != nil {
		return rc, err
	}
	if rc.Update, err = c.Update.schema(c.Name, m); err != nil {
		return rc, err
	}

	if len(c.Scopes) > 0 {
		rc.Scopes = make(map[resource.Operation][]string, len(c.Scopes))
		for op, scopes := range c.Scopes {
			o, err := operation(op)
			if err != nil {
				return rc, apierr.Configf(c.Name, "scopes: %v", err)
			}
			rc.Scopes[o] = scopes
		}
	}

	for _, cc := range c.Children {
		child, err := cc.resourceConfig(reg)
		if err != nil {
			return rc, err
		}
		rc.Children = append(rc.Children, child)
	}
	return rc, nil
}

func (s *SchemaConfig) schema(res string, m *model.Model) (*resource.Schema, error) {
	if s == nil {
		return nil, nil
	}
	schema, err := resource.ModelSchema(m, s.Fields...)
	if err != nil {
		return nil, apierr.Configf(res, "%v", err)
	}
	if s.Reference {
		schema = schema.WithReference()
	}
	return schema, nil
}

func operation(s string) (resource.Operation, error) {
	for _, op := range resource.Operations {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}
