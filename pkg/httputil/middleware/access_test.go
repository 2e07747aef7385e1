package middleware

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// echoAccess writes the resolved caller as `sub/tenant`, or 204 without one.
var echoAccess = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	acc, ok := access.FromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_, _ = w.Write([]byte(acc.Subject + "/" + acc.TenantID))
})

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifyJWT(t *testing.T) {
	cfg := JWTConfig{Secret: "s3cret", Issuer: "https://auth.example.com"}
	h := Chain(echoAccess, VerifyJWT(cfg), ResolveAccess(WithJWTAccess(access.ClaimMapping{Tenant: "org.id"})))
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"basic", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + signed(t, "s3cret", jwt.MapClaims{
			"sub": "u1", "iss": cfg.Issuer, "exp": exp, "org": map[string]any{"id": "t1"},
		}), http.StatusOK, "u1/t1"},
		{"lowercase scheme", "bearer " + signed(t, "s3cret", jwt.MapClaims{
			"sub": "u1", "iss": cfg.Issuer, "exp": exp,
		}), http.StatusOK, "u1/"},
		{"wrong secret", "Bearer " + signed(t, "other", jwt.MapClaims{
			"sub": "u1", "iss": cfg.Issuer, "exp": exp,
		}), http.StatusUnauthorized, ""},
		{"wrong issuer", "Bearer " + signed(t, "s3cret", jwt.MapClaims{
			"sub": "u1", "iss": "https://evil.example.com", "exp": exp,
		}), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signed(t, "s3cret", jwt.MapClaims{
			"sub": "u1", "iss": cfg.Issuer, "exp": time.Now().Add(-time.Hour).Unix(),
		}), http.StatusUnauthorized, ""},
		{"no expiry", "Bearer " + signed(t, "s3cret", jwt.MapClaims{
			"sub": "u1", "iss": cfg.Issuer,
		}), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + signed(t, "s3cret", jwt.MapClaims{
			"iss": cfg.Issuer, "exp": exp,
		}), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "iss": cfg.Issuer, "exp": exp})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = cfg.ParseJWT(unsigned)
	assert.Error(t, err)
}

func TestVerifyJWTPassThrough(t *testing.T) {
	h := Chain(echoAccess, VerifyJWT(JWTConfig{Secret: "s3cret"}, false), ResolveAccess(WithJWTAccess(access.ClaimMapping{})))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestResolveAccess(t *testing.T) {
	basic := BasicAuthCreds(map[string]string{"alice": "pw"})
	basic.Tenants = map[string]string{"alice": "t1"}
	basic.Scopes = map[string][]string{"alice": {"customer:read"}}

	withOIDC := func(r *http.Request) *http.Request {
		user := &oidc.IntrospectionResponse{
			Active:  true,
			Subject: "u-oidc",
			Scope:   oidc.SpaceDelimitedArray{"invoice:read", "invoice:write"},
			Claims:  map[string]any{"urn:tenant": "t9"},
		}
		return r.WithContext(context.WithValue(r.Context(), httputil.OIDCUserCtxKey, user))
	}

	t.Run("oidc", func(t *testing.T) {
		var got *access.Access
		h := ResolveAccess(WithOIDCAccess(access.ClaimMapping{Tenant: "urn:tenant"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = access.FromContext(r.Context())
		}))
		h.ServeHTTP(httptest.NewRecorder(), withOIDC(httptest.NewRequest(http.MethodGet, "/", nil)))
		require.NotNil(t, got)
		assert.Equal(t, "u-oidc", got.Subject)
		assert.Equal(t, "t9", got.TenantID)
		assert.Equal(t, []string{"invoice:read", "invoice:write"}, got.Scopes)
	})

	t.Run("basic", func(t *testing.T) {
		var got *access.Access
		h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = access.FromContext(r.Context())
		}), VerifyBasicAuth(basic), ResolveAccess(WithBasicAccess(basic)))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:pw")))
		h.ServeHTTP(httptest.NewRecorder(), req)
		require.NotNil(t, got)
		assert.Equal(t, &access.Access{Subject: "alice", TenantID: "t1", Scopes: []string{"customer:read"}}, got)
	})

	t.Run("logged", func(t *testing.T) {
		logger, logs := newTestLogger()
		h := Chain(echoAccess, LoggerWithOptions(&LoggerOptions{Logger: logger}), ResolveAccess(WithAnonAccess("public")))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, 1, logs.Len())
		fields := logs.All()[0].ContextMap()
		assert.Equal(t, "anonymous", fields["sub"])
		assert.Equal(t, "public", fields["tenant_id"])
	})

	t.Run("first applicable wins", func(t *testing.T) {
		h := ResolveAccess(WithJWTAccess(access.ClaimMapping{}), WithOIDCAccess(access.ClaimMapping{}), WithAnonAccess("public"))(echoAccess)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, withOIDC(httptest.NewRequest(http.MethodGet, "/", nil)))
		assert.Equal(t, "u-oidc/", w.Body.String())

		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "anonymous/public", w.Body.String())
	})

	t.Run("no caller", func(t *testing.T) {
		h := ResolveAccess(WithOIDCAccess(access.ClaimMapping{}))(echoAccess)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("resolver error", func(t *testing.T) {
		h := ResolveAccess(WithJWTAccess(access.ClaimMapping{}))(echoAccess)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), httputil.JWTClaimsCtxKey, map[string]any{"scope": "x"}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
