package middleware

import (
	"net/http"
	"slices"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

// Chain wraps h so that middlewares run in order, the first outermost.
func Chain(h http.Handler, middlewares ...httputil.Middleware) http.Handler {
	for i := range slices.Backward(middlewares) {
		h = middlewares[i](h)
	}
	return h
}
