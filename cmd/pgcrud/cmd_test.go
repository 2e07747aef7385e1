package pgcrud

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edgeflare/pgcrud/internal/testutil"
	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/config"
	mw "github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/edgeflare/pgcrud/pkg/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		chain, err := authMiddleware(ctx, config.AuthConfig{})
		require.NoError(t, err)
		assert.Empty(t, chain)
	})

	t.Run("jwt and oidc", func(t *testing.T) {
		_, err := authMiddleware(ctx, config.AuthConfig{
			JWT:  &mw.JWTConfig{Secret: "s"},
			OIDC: &mw.OIDCProviderConfig{Issuer: "https://issuer.example.com"},
		})
		assert.ErrorContains(t, err, "enable one")
	})

	t.Run("oidc without credentials", func(t *testing.T) {
		_, err := authMiddleware(ctx, config.AuthConfig{
			OIDC: &mw.OIDCProviderConfig{Issuer: "https://issuer.example.com"},
		})
		assert.ErrorContains(t, err, "oidc: missing client_id")
	})

	t.Run("jwt without secret", func(t *testing.T) {
		_, err := authMiddleware(ctx, config.AuthConfig{JWT: &mw.JWTConfig{}})
		assert.ErrorContains(t, err, "jwt.secret")
	})

	t.Run("jwt and basic", func(t *testing.T) {
		chain, err := authMiddleware(ctx, config.AuthConfig{
			JWT:   &mw.JWTConfig{Secret: "s"},
			Basic: mw.BasicAuthCreds(map[string]string{"alice": "pw"}),
		})
		require.NoError(t, err)
		assert.Len(t, chain, 3)
	})

	t.Run("anonymous", func(t *testing.T) {
		chain, err := authMiddleware(ctx, config.AuthConfig{
			Anonymous: &config.AnonConfig{Tenant: "public", Scopes: []string{"customer:read"}},
		})
		require.NoError(t, err)
		require.Len(t, chain, 1)

		var got *access.Access
		h := chain[0](http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = access.FromContext(r.Context())
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotNil(t, got)
		assert.Equal(t, "public", got.TenantID)
		assert.Equal(t, []string{"customer:read"}, got.Scopes)
	})
}

func TestPrintRoutes(t *testing.T) {
	roots, err := config.BuildResources(testutil.Billing(), []config.ResourceConfig{{
		Name:   "customer",
		Read:   &config.SchemaConfig{},
		Scopes: map[string][]string{"list": {"customer:read"}},
	}})
	require.NoError(t, err)
	routes, err := rest.NewAPI(memstore.New(), roots).Routes()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printRoutes(&buf, "/api/", routes))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(routes)+1)
	assert.Equal(t, []string{"METHOD", "PATH", "OPERATION", "SCOPES"}, strings.Fields(lines[0]))
	assert.Contains(t, buf.String(), "/api/customer")
	assert.Contains(t, buf.String(), "customer:read")
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("none")
	require.NoError(t, err)
	assert.NotNil(t, l)

	l, err = newLogger("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = newLogger("loud")
	assert.Error(t, err)
}
