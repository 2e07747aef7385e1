package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

// BasicAuthConfig holds the username-password pairs for basic authentication,
// and the tenant and scopes WithBasicAccess grants each user.
type BasicAuthConfig struct {
	Credentials map[string]string   `mapstructure:"credentials"`
	Tenants     map[string]string   `mapstructure:"tenants"`
	Scopes      map[string][]string `mapstructure:"scopes"`
	// Realm is announced in WWW-Authenticate (default "pgcrud").
	Realm string `mapstructure:"realm"`
}

// BasicAuthCreds creates a new instance of BasicAuthConfig with multiple username/password pairs.
func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{
		Credentials: credentials,
	}
}

func (c *BasicAuthConfig) verify(user, password string) bool {
	want, ok := c.Credentials[user]
	// compared even for unknown users so timing does not reveal them
	match := subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1
	return ok && match
}

func (c *BasicAuthConfig) challenge(w http.ResponseWriter, msg string) {
	realm := c.Realm
	if realm == "" {
		realm = "pgcrud"
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// VerifyBasicAuth is a middleware function for basic authentication. Like
// OIDCProvider.VerifyToken, passing send401Unauthorized=false lets requests without
// Basic credentials through; wrong credentials are always rejected.
func VerifyBasicAuth(config *BasicAuthConfig, send401Unauthorized ...bool) func(http.Handler) http.Handler {
	send401 := true
	if len(send401Unauthorized) > 0 {
		send401 = send401Unauthorized[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authHeader), "basic ") {
				switch {
				case !send401:
					next.ServeHTTP(w, r)
				case authHeader == "":
					config.challenge(w, "Authorization header missing")
				default:
					config.challenge(w, "Invalid authorization format")
				}
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				http.Error(w, "Invalid credentials format", http.StatusUnauthorized)
				return
			}
			if !config.verify(username, password) {
				config.challenge(w, "Invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), httputil.BasicAuthCtxKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
