package httputil

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

// counting returns middleware that appends name to *calls on every request.
func counting(name string, calls *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*calls = append(*calls, name)
			next.ServeHTTP(w, r)
		})
	}
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestRouterHandle(t *testing.T) {
	r := NewRouter()
	r.Handle("GET /test", http.HandlerFunc(ok))

	assert.Equal(t, http.StatusOK, serve(r.Handler(), http.MethodGet, "/test").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(r.Handler(), http.MethodPost, "/test").Code)
	assert.Panics(t, func() { r.Handle("/nomethod", http.HandlerFunc(ok)) })
}

func TestRouterMiddlewareOrder(t *testing.T) {
	var calls []string
	r := NewRouter()
	r.Use(counting("outer", &calls), counting("inner", &calls))
	r.Handle("GET /test", http.HandlerFunc(ok))

	serve(r.Handler(), http.MethodGet, "/test")
	assert.Equal(t, []string{"outer", "inner"}, calls, "top-level middleware runs once per request")

	calls = nil
	assert.Equal(t, http.StatusNotFound, serve(r.Handler(), http.MethodGet, "/missing").Code)
	assert.Equal(t, []string{"outer", "inner"}, calls, "unmatched requests pass the top-level middleware")
}

func TestRouterGroup(t *testing.T) {
	var calls []string
	r := NewRouter()
	r.Use(counting("root", &calls))

	api := r.Group("/api")
	api.Use(counting("api", &calls))
	api.Handle("GET /v1/test", http.HandlerFunc(ok))

	admin := api.Group("/admin")
	admin.Use(counting("admin", &calls))
	admin.Handle("GET /stats", http.HandlerFunc(ok))

	r.Handle("GET /healthz", http.HandlerFunc(ok))

	tests := []struct {
		target string
		calls  []string
	}{
		{"/api/v1/test", []string{"root", "api"}},
		{"/api/admin/stats", []string{"root", "api", "admin"}},
		{"/healthz", []string{"root"}},
	}
	for _, tt := range tests {
		calls = nil
		assert.Equal(t, http.StatusOK, serve(r.Handler(), http.MethodGet, tt.target).Code, tt.target)
		assert.Equal(t, tt.calls, calls, tt.target)
	}
	assert.Equal(t, "/api/admin", admin.Prefix())
}

func TestRouterMount(t *testing.T) {
	r := NewRouter()
	var seen []string
	r.Group("/api").Mount("/customer/", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen = append(seen, req.Method+" "+req.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	r.Handle("GET /healthz", http.HandlerFunc(ok))

	for _, target := range []string{"/api/customer", "/api/customer/1/invoice", "/api/customer/aggregate/sum/credit"} {
		assert.Equal(t, http.StatusNoContent, serve(r.Handler(), http.MethodDelete, target).Code, target)
	}
	assert.Equal(t, []string{
		"DELETE /api/customer",
		"DELETE /api/customer/1/invoice",
		"DELETE /api/customer/aggregate/sum/credit",
	}, seen)
	assert.Equal(t, http.StatusOK, serve(r.Handler(), http.MethodGet, "/healthz").Code)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRouterListenAndServe(t *testing.T) {
	addr := freeAddr(t)
	r := NewRouter()
	r.Handle("GET /test", http.HandlerFunc(ok))

	done := make(chan error, 1)
	go func() { done <- r.ListenAndServe(addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/test")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.ErrorIs(t, <-done, http.ErrServerClosed)
}

func TestRouterListenAndServeTLSError(t *testing.T) {
	dir := t.TempDir()
	// A directory where the key file should be cannot be read or written.
	r := NewRouter(WithTLS(filepath.Join(dir, "tls.crt"), dir))
	err := r.ListenAndServe(freeAddr(t))
	assert.Error(t, err)
}

func BenchmarkRouterServeHTTP(b *testing.B) {
	r := NewRouter()
	r.Handle("GET /test", http.HandlerFunc(ok))
	h := r.Handler()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.ServeHTTP(w, req)
	}
}
