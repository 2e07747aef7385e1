package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/httputil"
)

// AccessFunc resolves the caller of a request from what an authentication
// middleware left in its context. It returns nil, nil when it does not apply.
type AccessFunc func(r *http.Request) (*access.Access, error)

// ResolveAccess places the caller resolved by the first applicable fn into the
// request context. Requests no fn applies to pass through without a caller;
// routes that need one answer 401. A resolver error is answered with 401.
func ResolveAccess(fns ...AccessFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, fn := range fns {
				acc, err := fn(r)
				if err != nil {
					httputil.Error(w, http.StatusUnauthorized, err.Error())
					return
				}
				if acc == nil {
					continue
				}
				if md := GetLogEntryMetadata(r.Context()); md != nil {
					md["sub"] = acc.Subject
					if acc.TenantID != "" {
						md["tenant_id"] = acc.TenantID
					}
				}
				r = r.WithContext(access.NewContext(r.Context(), acc))
				break
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithOIDCAccess maps the claims of an introspected OIDC token.
func WithOIDCAccess(m access.ClaimMapping) AccessFunc {
	return func(r *http.Request) (*access.Access, error) {
		user, ok := httputil.OIDCUser(r)
		if !ok {
			return nil, nil
		}
		claims := make(map[string]any, len(user.Claims)+2)
		for k, v := range user.Claims {
			claims[k] = v
		}
		if user.Subject != "" {
			claims["sub"] = user.Subject
		}
		if len(user.Scope) > 0 {
			claims["scope"] = strings.Join(user.Scope, " ")
		}
		return access.FromClaims(claims, m)
	}
}

// WithJWTAccess maps the claims of a token verified by VerifyJWT.
func WithJWTAccess(m access.ClaimMapping) AccessFunc {
	return func(r *http.Request) (*access.Access, error) {
		claims, ok := httputil.JWTClaims(r)
		if !ok {
			return nil, nil
		}
		return access.FromClaims(claims, m)
	}
}

// WithBasicAccess turns a user authenticated by VerifyBasicAuth into a caller
// with the tenant and scopes configured for that user.
func WithBasicAccess(config *BasicAuthConfig) AccessFunc {
	return func(r *http.Request) (*access.Access, error) {
		user, ok := httputil.BasicAuthUser(r)
		if !ok {
			return nil, nil
		}
		if config == nil {
			return nil, errors.New("basic auth is not configured")
		}
		return &access.Access{
			Subject:  user,
			TenantID: config.Tenants[user],
			Scopes:   config.Scopes[user],
		}, nil
	}
}

// WithAnonAccess resolves every request to an anonymous caller. Put it last.
func WithAnonAccess(tenant string, scopes ...string) AccessFunc {
	return func(*http.Request) (*access.Access, error) {
		return &access.Access{Subject: "anonymous", TenantID: tenant, Scopes: scopes}, nil
	}
}
