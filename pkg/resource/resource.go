// Package resource turns declarative resource configurations into immutable
// descriptors: introspected fields, search parameters, route signatures and
// resolved security scopes.
//
// Everything is computed once in New; a *Resource is safe for concurrent use.
package resource

import (
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/model"
)

// Operation is a route kind.
type Operation string

const (
	OpList      Operation = "list"
	OpAggregate Operation = "aggregate"
	OpCreate    Operation = "create"
	OpRead      Operation = "read"
	OpPatch     Operation = "patch"
	OpPut       Operation = "put"
	OpDelete    Operation = "delete"
)

// Operations lists every operation in route registration order.
var Operations = []Operation{OpList, OpAggregate, OpCreate, OpRead, OpPatch, OpPut, OpDelete}

// IsWrite reports whether op modifies data.
func (op Operation) IsWrite() bool {
	switch op {
	case OpCreate, OpPatch, OpPut, OpDelete:
		return true
	}
	return false
}

// All selects every introspected field in AggregateFields and AggregateGroupBy.
const All = "*"

// Pagination holds list defaults.
type Pagination struct {
	DefaultLimit int
	MaxLimit     int
	DefaultOrder []string
}

const (
	defaultLimit    = 50
	defaultMaxLimit = 1000
	defaultStatus   = "status"
)

// Config declares a resource.
type Config struct {
	// Name is the URL segment. Defaults to the model name.
	Name  string
	Model *model.Model

	// Read enables list and read routes; Create, Update and Delete enable the
	// matching write routes.
	Read   *Schema
	Create *Schema
	Update *Schema
	Delete bool

	// CreateMulti would accept a list body on create. It is not supported and
	// New rejects it.
	CreateMulti bool

	// DeleteStatus turns delete into setting StatusField to this value. Lists
	// exclude such records unless the status is filtered explicitly.
	DeleteStatus string
	StatusField  string

	Pagination Pagination

	// Security requires an authenticated caller on every route of the resource
	// and its children, even where no scope applies.
	Security bool

	// Scopes required per operation. Missing entries are inherited from the
	// nearest ancestor; writes inherit the ancestor's patch scopes.
	Scopes map[Operation][]string

	// AggregateFields enables the aggregate route for the listed fields (All
	// for every candidate). AggregateGroupBy lists the allowed group keys.
	AggregateFields  []string
	AggregateGroupBy []string

	// CacheControl is sent with GET responses when set.
	CacheControl string

	Children []Config
}

// Resource is a built, immutable resource descriptor.
type Resource struct {
	cfg       Config
	parent    *Resource
	children  []*Resource
	ancestors []*Resource

	fields      []Field
	fieldIndex  map[string]int
	orderFields []string
	aggFields   []string
	groupBy     []string
	search      []searchSpec
	scopes      map[Operation][]string
	signatures  map[Operation][]httputil.Param
}

// New validates cfg and builds the resource tree rooted at it.
func New(cfg Config) (*Resource, error) {
	return build(cfg, nil)
}

func build(cfg Config, parent *Resource) (*Resource, error) {
	if cfg.Model == nil {
		return nil, apierr.Configf(cfg.Name, "model is required")
	}
	if cfg.Name == "" {
		cfg.Name = strings.ToLower(cfg.Model.Name)
	}
	if cfg.CreateMulti {
		return nil, apierr.Configf(cfg.Name, "create_multi is not supported")
	}
	if cfg.Model.PrimaryKey() == nil {
		return nil, apierr.Configf(cfg.Name, "model %s has no primary key", cfg.Model.Name)
	}
	if cfg.StatusField == "" {
		cfg.StatusField = defaultStatus
	}
	if cfg.DeleteStatus != "" {
		if _, ok := cfg.Model.Field(cfg.StatusField); !ok {
			return nil, apierr.Configf(cfg.Name, "delete status needs field %q on %s", cfg.StatusField, cfg.Model.Name)
		}
	}
	if cfg.Pagination.DefaultLimit <= 0 {
		cfg.Pagination.DefaultLimit = defaultLimit
	}
	if cfg.Pagination.MaxLimit <= 0 {
		cfg.Pagination.MaxLimit = max(defaultMaxLimit, cfg.Pagination.DefaultLimit)
	}
	if (cfg.Create != nil || cfg.Update != nil) && cfg.Read == nil {
		return nil, apierr.Configf(cfg.Name, "write routes need a read schema to render results")
	}

	r := &Resource{cfg: cfg, parent: parent}
	if parent != nil {
		if cfg.Model.RelationTo(parent.cfg.Model) == nil {
			return nil, apierr.Configf(cfg.Name, "%s has no many-to-one field to %s", cfg.Model.Name, parent.cfg.Model.Name)
		}
		r.ancestors = append(slices.Clone(parent.ancestors), parent)
		for _, a := range r.ancestors {
			if a.IDField() == r.IDField() {
				return nil, apierr.Configf(cfg.Name, "path parameter %s is already used by %s", r.IDField(), a.Path())
			}
		}
	}

	r.introspect()
	if err := r.selectAggregates(); err != nil {
		return nil, err
	}
	if err := r.compileSearch(); err != nil {
		return nil, err
	}
	for _, o := range cfg.Pagination.DefaultOrder {
		if !slices.Contains(r.orderFields, o) {
			return nil, apierr.Configf(cfg.Name, "default order %q is not an order field", o)
		}
	}
	r.resolveScopes()
	r.signatures = make(map[Operation][]httputil.Param, len(Operations))
	for _, op := range Operations {
		if r.Enabled(op) {
			r.signatures[op] = r.signature(op)
		}
	}

	seen := make(map[string]bool, len(cfg.Children))
	for _, cc := range cfg.Children {
		child, err := build(cc, r)
		if err != nil {
			return nil, err
		}
		if seen[child.Name()] {
			return nil, apierr.Configf(cfg.Name, "duplicate child %q", child.Name())
		}
		seen[child.Name()] = true
		r.children = append(r.children, child)
	}
	return r, nil
}

// Name returns the URL segment of the resource.
func (r *Resource) Name() string { return r.cfg.Name }

// Model returns the exposed model.
func (r *Resource) Model() *model.Model { return r.cfg.Model }

// Parent returns the enclosing resource, nil for roots.
func (r *Resource) Parent() *Resource { return r.parent }

// Children returns the nested resources.
func (r *Resource) Children() []*Resource { return r.children }

// Ancestors returns the parent chain, root first.
func (r *Resource) Ancestors() []*Resource { return r.ancestors }

// Config returns the normalized configuration.
func (r *Resource) Config() Config { return r.cfg }

// Singular is the lower-cased model name.
func (r *Resource) Singular() string { return strings.ToLower(r.cfg.Model.Name) }

// IDField is the path parameter naming one object, e.g. `invoice_id`. A
// child drops its parent's singular as prefix: `invoiceitem` under `invoice`
// becomes `item_id`. Names are unique along a path; New rejects trees where
// they are not.
func (r *Resource) IDField() string {
	name := r.Singular()
	if r.parent != nil {
		if trimmed := strings.TrimPrefix(name, r.parent.Singular()); trimmed != "" {
			name = trimmed
		}
	}
	return name + "_id"
}

// Path returns the collection path template, e.g.
// `/customer/{customer_id}/invoice`.
func (r *Resource) Path() string {
	if r.parent == nil {
		return "/" + r.cfg.Name
	}
	return r.parent.ItemPath() + "/" + r.cfg.Name
}

// ItemPath returns the object path template.
func (r *Resource) ItemPath() string {
	return r.Path() + "/{" + r.IDField() + "}"
}

// Enabled reports whether op has a route.
func (r *Resource) Enabled(op Operation) bool {
	switch op {
	case OpList, OpRead:
		return r.cfg.Read != nil
	case OpAggregate:
		return len(r.aggFields) > 0
	case OpCreate:
		return r.cfg.Create != nil
	case OpPatch, OpPut:
		return r.cfg.Update != nil
	case OpDelete:
		return r.cfg.Delete
	}
	return false
}

// Signature returns the bound parameters of op in binding order, nil when op
// is disabled.
func (r *Resource) Signature(op Operation) []httputil.Param {
	return r.signatures[op]
}

// ReadSchema returns the response schema.
func (r *Resource) ReadSchema() *Schema { return r.cfg.Read }

// TenantScoped reports whether queries are filtered by the caller's tenant.
func (r *Resource) TenantScoped() bool { return r.cfg.Model.TenantField() != nil }

// ParentField returns the many-to-one field of the model referencing the
// parent's model, nil for roots.
func (r *Resource) ParentField() *model.Field {
	if r.parent == nil {
		return nil
	}
	return r.cfg.Model.RelationTo(r.parent.cfg.Model)
}

// Walk calls fn for r and every descendant, parents first.
func (r *Resource) Walk(fn func(*Resource)) {
	fn(r)
	for _, c := range r.children {
		c.Walk(fn)
	}
}
