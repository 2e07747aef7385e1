package rest

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/resource"
	"github.com/edgeflare/pgcrud/pkg/store"
	"go.uber.org/zap"
)

// AggregatePath is appended to a collection path for the aggregate route.
const AggregatePath = "/aggregate/{" + resource.ParamAggFunction + "}/{" + resource.ParamField + "}"

// Route is one generated endpoint.
type Route struct {
	Method   string
	Pattern  string
	Status   int
	Resource *resource.Resource
	Op       resource.Operation
	// Params are bound in order before the handler runs.
	Params []httputil.Param

	handler http.Handler
}

// String returns `METHOD /pattern`.
func (rt Route) String() string { return rt.Method + " " + rt.Pattern }

// Handler returns the route's handler. It expects path values to be set on
// the request, as done by the API's matcher.
func (rt Route) Handler() http.Handler { return rt.handler }

// Public reports whether the route can be called without authentication.
func (rt Route) Public() bool {
	return !slices.ContainsFunc(rt.Params, func(p httputil.Param) bool { return p.In == httputil.InAccess })
}

// Table is the ordered route list of a resource tree. It is immutable once
// built.
type Table struct {
	routes []Route
}

// Routes returns a copy of the routes in registration order.
func (t *Table) Routes() []Route { return slices.Clone(t.routes) }

// Len returns the number of routes.
func (t *Table) Len() int { return len(t.routes) }

type options struct {
	logger    *zap.Logger
	publisher events.Publisher
	info      OpenAPIInfo
}

// Option configures Build and NewAPI.
type Option func(*options)

// WithLogger sets the logger of route building and request errors.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPublisher sets the publisher receiving change events of writes.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithInfo sets the metadata of the generated OpenAPI document.
func WithInfo(info OpenAPIInfo) Option {
	return func(o *options) { o.info = info }
}

func newOptions(opts []Option) options {
	o := options{
		logger:    zap.NewNop(),
		publisher: events.Nop{},
		info:      OpenAPIInfo{Title: "pgcrud", Version: "0.1.0"},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Build generates the routes of res and its descendants. For every resource
// the order is list, aggregate, create, read, patch, put, delete, followed by
// the children's routes; disabled operations are skipped.
func Build(res *resource.Resource, st store.Store, opts ...Option) (*Table, error) {
	if res == nil {
		return nil, apierr.Configf("", "no resource")
	}
	if st == nil {
		return nil, apierr.Configf(res.Name(), "no store")
	}
	o := newOptions(opts)
	m := &mediator{store: st, publisher: o.publisher, logger: o.logger}

	t := &Table{}
	var err error
	res.Walk(func(r *resource.Resource) {
		if err != nil {
			return
		}
		for _, op := range resource.Operations {
			if !r.Enabled(op) {
				continue
			}
			rt := newRoute(r, op)
			rt.handler = endpointFor(m, o.logger, rt)
			if e := t.add(rt); e != nil {
				err = e
				return
			}
			if rt.Public() {
				o.logger.Warn("route registered without authentication", zap.String("route", rt.String()))
			} else {
				o.logger.Debug("route registered", zap.String("route", rt.String()),
					zap.Strings("scopes", r.Scopes(op)))
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newRoute(r *resource.Resource, op resource.Operation) Route {
	rt := Route{Resource: r, Op: op, Params: r.Signature(op), Status: http.StatusOK}
	switch op {
	case resource.OpList:
		rt.Method, rt.Pattern = http.MethodGet, r.Path()
	case resource.OpAggregate:
		rt.Method, rt.Pattern = http.MethodGet, r.Path()+AggregatePath
	case resource.OpCreate:
		rt.Method, rt.Pattern, rt.Status = http.MethodPost, r.Path(), http.StatusCreated
	case resource.OpRead:
		rt.Method, rt.Pattern = http.MethodGet, r.ItemPath()
	case resource.OpPatch:
		rt.Method, rt.Pattern = http.MethodPatch, r.ItemPath()
	case resource.OpPut:
		rt.Method, rt.Pattern = http.MethodPut, r.ItemPath()
	case resource.OpDelete:
		rt.Method, rt.Pattern, rt.Status = http.MethodDelete, r.ItemPath(), http.StatusNoContent
	}
	return rt
}

// add appends rt unless a route with the same method and path shape exists.
func (t *Table) add(rt Route) error {
	shape := routeShape(rt.Pattern)
	for _, other := range t.routes {
		if other.Method == rt.Method && routeShape(other.Pattern) == shape {
			return apierr.Configf(rt.Resource.Name(), "route %s conflicts with %s", rt, other)
		}
	}
	t.routes = append(t.routes, rt)
	return nil
}

// routeShape replaces wildcard names so that patterns differing only in
// parameter names compare equal.
func routeShape(pattern string) string {
	segs := strings.Split(pattern, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, "{") {
			segs[i] = "{}"
		}
	}
	return strings.Join(segs, "/")
}

// merge concatenates tables, failing on conflicting routes.
func merge(tables ...*Table) (*Table, error) {
	out := &Table{}
	for _, t := range tables {
		for _, rt := range t.routes {
			if err := out.add(rt); err != nil {
				return nil, fmt.Errorf("merge routes: %w", err)
			}
		}
	}
	return out, nil
}
