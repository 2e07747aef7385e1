package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// CORSOptions defines configuration for CORS.
type CORSOptions struct {
	// AllowedOrigins lists exact origins; "*" allows any.
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
}

// DefaultCORSOptions returns the options CORSWithOptions(nil) uses.
func DefaultCORSOptions() *CORSOptions {
	return &CORSOptions{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Cache-Control", "X-Requested-With", "X-Request-Id", "Prefer"},
		ExposedHeaders:   []string{"Content-Range", "Location", "Preference-Applied", "X-Request-Id"},
		AllowCredentials: true,
	}
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when it is not allowed. Credentialed responses echo the origin since
// browsers reject a wildcard.
func (o *CORSOptions) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if slices.Contains(o.AllowedOrigins, "*") {
		if o.AllowCredentials {
			return origin
		}
		return "*"
	}
	if slices.Contains(o.AllowedOrigins, origin) {
		return origin
	}
	return ""
}

// CORSWithOptions creates a CORS middleware with the provided configuration.
// If options is nil, it will use the default CORS settings. Requests without
// an allowed Origin pass through untouched; preflight requests from an
// allowed origin are answered with 204.
func CORSWithOptions(options *CORSOptions) func(http.Handler) http.Handler {
	if options == nil {
		options = DefaultCORSOptions()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			allow := options.allowOrigin(r.Header.Get("Origin"))
			if allow == "" {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allow)
			if options.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if len(options.ExposedHeaders) > 0 {
				h.Set("Access-Control-Expose-Headers", strings.Join(options.ExposedHeaders, ","))
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if len(options.AllowedMethods) > 0 {
					h.Set("Access-Control-Allow-Methods", strings.Join(options.AllowedMethods, ","))
				}
				if len(options.AllowedHeaders) > 0 {
					h.Set("Access-Control-Allow-Headers", strings.Join(options.AllowedHeaders, ","))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
