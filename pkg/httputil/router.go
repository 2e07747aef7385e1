package httputil

import (
	"cmp"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// RouterOptions configures a Router.
type RouterOptions func(*Router)

// Router registers routes on an http.ServeMux. Middleware added to the router
// returned by NewRouter wraps every request, including ones that match no
// route. Middleware added to a group wraps only the routes registered on that
// group (and its subgroups) afterwards.
type Router struct {
	*server
	prefix     string
	group      bool
	middleware []Middleware
}

// server is shared by a router and its groups.
type server struct {
	mu       sync.RWMutex
	mux      *http.ServeMux
	srv      *http.Server
	certFile string
	keyFile  string
	tls      bool
	logger   *zap.Logger
}

const (
	defaultCertFile          = "./tls/tls.crt"
	defaultKeyFile           = "./tls/tls.key"
	defaultReadHeaderTimeout = 10 * time.Second
)

// NewRouter creates a Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{server: &server{
		mux:    http.NewServeMux(),
		srv:    &http.Server{ReadHeaderTimeout: defaultReadHeaderTimeout},
		logger: zap.L(),
	}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions applies opts to the underlying http.Server.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.srv)
		}
	}
}

// WithTLS serves HTTPS from the key pair at certFile and keyFile. Empty paths
// default to ./tls/tls.crt and ./tls/tls.key; a missing pair is replaced by a
// generated self-signed certificate.
func WithTLS(certFile, keyFile string) RouterOptions {
	return func(r *Router) {
		r.tls = true
		r.certFile = cmp.Or(certFile, defaultCertFile)
		r.keyFile = cmp.Or(keyFile, defaultKeyFile)
	}
}

// WithLogger sets the logger for server lifecycle messages.
func WithLogger(logger *zap.Logger) RouterOptions {
	return func(r *Router) { r.logger = logger }
}

// Use appends middleware to r.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group returns a router registering routes below prefix. A group of a group
// starts with its parent's group middleware.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := &Router{server: r.server, prefix: r.prefix + prefix, group: true}
	if r.group {
		g.middleware = slices.Clone(r.middleware)
	}
	return g
}

// Handle registers handler for a "METHOD /pattern" route below the router's
// prefix. It panics when methodPattern has no method, as http.ServeMux does
// for malformed patterns.
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, ok := strings.Cut(methodPattern, " ")
	if !ok {
		panic(fmt.Sprintf("httputil: route %q needs a method", methodPattern))
	}
	r.mux.Handle(method+" "+r.prefix+pattern, r.wrap(handler))
}

// Mount registers handler for every method on prefix and everything below it.
// The handler does its own routing of the remaining path.
func (r *Router) Mount(prefix string, handler http.Handler) {
	full := r.prefix + strings.TrimSuffix(prefix, "/")
	h := r.wrap(handler)
	if full != "" {
		r.mux.Handle(full, h)
	}
	r.mux.Handle(full+"/", h)
}

// Prefix returns the path prefix of the router group.
func (r *Router) Prefix() string {
	return r.prefix
}

// wrap applies group middleware; the top-level router's middleware is
// applied once around the mux instead.
func (r *Router) wrap(h http.Handler) http.Handler {
	if !r.group {
		return h
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return chain(h, r.middleware)
}

// Handler returns the mux wrapped in the top-level middleware, for use with
// httptest or an externally managed server. Call it on the router returned
// by NewRouter.
func (r *Router) Handler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.group {
		return r.mux
	}
	return chain(r.mux, r.middleware)
}

// ListenAndServe serves on addr, over TLS when WithTLS was given.
func (r *Router) ListenAndServe(addr string) error {
	r.srv.Addr = addr
	r.srv.Handler = r.Handler()

	if !r.tls {
		r.logger.Info("listening", zap.String("addr", addr))
		return r.srv.ListenAndServe()
	}
	cert, err := LoadOrGenerateCert(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	r.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	r.logger.Info("listening", zap.String("addr", addr), zap.Bool("tls", true))
	return r.srv.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down")
	return r.srv.Shutdown(ctx)
}

// chain makes mws[0] the outermost handler.
func chain(h http.Handler, mws []Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
