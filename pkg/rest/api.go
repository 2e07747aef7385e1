package rest

import (
	"net/http"
	"strings"
	"sync"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/resource"
	"github.com/edgeflare/pgcrud/pkg/store"
	"go.uber.org/zap"
)

// API serves the routes of one or more root resources. Routes are built once,
// on the first call to any method; concurrent first requests wait for the
// same build.
type API struct {
	store store.Store
	roots []*resource.Resource
	opts  []Option

	logger  *zap.Logger
	once    sync.Once
	table   *Table
	handler http.Handler
	openapi map[string]any
	err     error
}

var _ http.Handler = (*API)(nil)

// NewAPI returns an API over st exposing roots.
func NewAPI(st store.Store, roots []*resource.Resource, opts ...Option) *API {
	return &API{store: st, roots: roots, opts: opts}
}

func (a *API) build() {
	a.once.Do(func() {
		o := newOptions(a.opts)
		a.logger = o.logger
		if len(a.roots) == 0 {
			a.err = apierr.Configf("", "no resources")
			return
		}
		tables := make([]*Table, 0, len(a.roots))
		for _, root := range a.roots {
			t, err := Build(root, a.store, a.opts...)
			if err != nil {
				a.err = err
				return
			}
			tables = append(tables, t)
		}
		table, err := merge(tables...)
		if err != nil {
			a.err = err
			return
		}

		a.table = table
		a.openapi = GenerateOpenAPI(o.info, table.routes)
		m := &mux{}
		for _, rt := range table.routes {
			m.handle(rt.Method, rt.Pattern, rt.handler)
		}
		m.handle(http.MethodGet, OpenAPIPath, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httputil.JSON(w, http.StatusOK, a.openapi)
		}))
		a.handler = m
		o.logger.Info("routes built", zap.Int("routes", table.Len()), zap.Int("resources", len(a.roots)))
	})
}

// Init builds the routes and reports configuration errors. Calling it at
// startup surfaces errors before the first request.
func (a *API) Init() error {
	a.build()
	return a.err
}

// Routes returns the built routes in registration order.
func (a *API) Routes() ([]Route, error) {
	if err := a.Init(); err != nil {
		return nil, err
	}
	return a.table.Routes(), nil
}

// OpenAPI returns the OpenAPI document of the built routes.
func (a *API) OpenAPI() (map[string]any, error) {
	if err := a.Init(); err != nil {
		return nil, err
	}
	return a.openapi, nil
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := a.Init(); err != nil {
		httputil.WriteError(w, r, err, a.logger)
		return
	}
	a.handler.ServeHTTP(w, r)
}

// Mount registers api on router below prefix. Requests reach the API with
// the group and mount prefixes stripped.
func Mount(router *httputil.Router, prefix string, api *API) {
	prefix = strings.TrimSuffix(prefix, "/")
	var h http.Handler = api
	if full := router.Prefix() + prefix; full != "" {
		h = http.StripPrefix(full, api)
	}
	router.Mount(prefix, h)
}
