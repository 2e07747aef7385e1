package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/zitadel/oidc/v3/pkg/client/rs"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// OIDCProviderConfig holds the resource server credentials used for token
// introspection.
type OIDCProviderConfig struct {
	ClientID     string        `json:"client_id" mapstructure:"client_id"`
	ClientSecret string        `json:"client_secret" mapstructure:"client_secret"`
	Issuer       string        `json:"issuer" mapstructure:"issuer"`
	CacheTTL     time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
}

// DefaultIntrospectionTTL bounds how long an active token is trusted without
// asking the issuer again.
const DefaultIntrospectionTTL = time.Minute

func (c OIDCProviderConfig) validate() error {
	var missing []string
	if c.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("oidc: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// OIDCProvider verifies bearer tokens by introspection against an OIDC
// issuer.
type OIDCProvider struct {
	cache      *Cache[*oidc.IntrospectionResponse]
	introspect func(ctx context.Context, token string) (*oidc.IntrospectionResponse, error)
}

// NewOIDCProvider discovers the issuer in cfg and returns a provider
// authenticated with its client credentials.
func NewOIDCProvider(ctx context.Context, cfg OIDCProviderConfig) (*OIDCProvider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	server, err := rs.NewResourceServerClientCredentials(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("oidc: resource server for %s: %w", cfg.Issuer, err)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultIntrospectionTTL
	}
	return &OIDCProvider{
		cache: NewCache[*oidc.IntrospectionResponse](ttl),
		introspect: func(ctx context.Context, token string) (*oidc.IntrospectionResponse, error) {
			return rs.Introspect[*oidc.IntrospectionResponse](ctx, server, token)
		},
	}, nil
}

// User returns the introspection response of an active token.
func (p *OIDCProvider) User(ctx context.Context, token string) (*oidc.IntrospectionResponse, error) {
	if user, ok := p.cache.Get(token); ok {
		return user, nil
	}
	user, err := p.introspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, errors.New("token is not active")
	}
	p.cache.Set(token, user)
	return user, nil
}

// VerifyToken is middleware that introspects bearer tokens and stores the
// response in the request context. Requests without a bearer token get 401
// unless send401Unauthorized is false, in which case they continue for the
// next authenticator. Inactive or unknown tokens are always rejected.
func (p *OIDCProvider) VerifyToken(send401Unauthorized ...bool) func(http.Handler) http.Handler {
	send401 := len(send401Unauthorized) == 0 || send401Unauthorized[0]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, _ := strings.Cut(r.Header.Get("Authorization"), " ")
			if !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				if send401 {
					httputil.Error(w, http.StatusUnauthorized, "bearer token required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			user, err := p.User(r.Context(), strings.TrimSpace(token))
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), httputil.OIDCUserCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
