package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/internal/testutil"
	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
rest:
  listenAddr: ":8181"
  pg:
    connString: postgres://localhost/billing
    maxConns: 8
    schemas: [public]
auth:
  jwt:
    secret: s3cret
    issuer: https://auth.example.com
  anonymous:
    tenant: public
    scopes: [customer:read]
  claims:
    tenant: org.id
models:
  choices:
    invoice.status: [draft, sent, paid, void]
events:
  - name: audit
    type: log
    config:
      level: debug
replication:
  tables: [customer, invoice]
  standbyUpdateInterval: 5s
metrics:
  enabled: true
resources:
  - name: customer
    read: {reference: true}
    create: {fields: [name, email, status, credit]}
    update: {}
    delete: true
    security: true
    scopes:
      list: [customer:read]
      patch: [customer:write]
    pagination:
      defaultLimit: 10
      maxLimit: 100
      defaultOrder: [name]
    children:
      - name: invoice
        read: {}
        deleteStatus: void
        delete: true
        aggregateFields: ["*"]
        aggregateGroupBy: [status]
        cacheControl: max-age=60
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgcrud.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("PGCRUD_REST_BASEPATH", "/v1")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, ":8181", cfg.REST.ListenAddr)
	assert.Equal(t, "/v1", cfg.REST.BasePath, "environment overrides defaults")
	assert.Equal(t, "postgres://localhost/billing", cfg.REST.PG.ConnString)
	assert.Equal(t, []string{"public"}, cfg.REST.PG.Schemas)
	assert.Equal(t, 30*time.Second, cfg.REST.PG.ConnectTimeout)
	assert.Equal(t, int32(8), cfg.REST.PG.MaxConns)
	assert.Equal(t, 10*time.Second, cfg.REST.ShutdownWait)

	require.NotNil(t, cfg.Auth.JWT)
	assert.Equal(t, "s3cret", cfg.Auth.JWT.Secret)
	assert.Nil(t, cfg.Auth.OIDC)
	require.NotNil(t, cfg.Auth.Anonymous)
	assert.Equal(t, []string{"customer:read"}, cfg.Auth.Anonymous.Scopes)
	assert.Equal(t, "org.id", cfg.Auth.Claims.Tenant)
	assert.True(t, cfg.Auth.Enabled())

	require.Len(t, cfg.Events, 1)
	assert.Equal(t, "log", cfg.Events[0].Type)
	assert.Equal(t, "debug", cfg.Events[0].Config["level"])
	require.NotNil(t, cfg.Replication)
	assert.Equal(t, []string{"customer", "invoice"}, cfg.Replication.Tables)
	assert.Equal(t, 5*time.Second, cfg.Replication.StandbyUpdateInterval)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)

	require.Len(t, cfg.Resources, 1)
	c := cfg.Resources[0]
	require.NotNil(t, c.Read)
	assert.True(t, c.Read.Reference)
	require.NotNil(t, c.Update)
	assert.Empty(t, c.Update.Fields)
	assert.Equal(t, []string{"name", "email", "status", "credit"}, c.Create.Fields)
	assert.Equal(t, 10, c.Pagination.DefaultLimit)
	require.Len(t, c.Children, 1)
	assert.Equal(t, "void", c.Children[0].DeleteStatus)
	assert.Nil(t, c.Children[0].Create)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rest: {}\n"))
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.REST.ListenAddr, cfg.REST.ListenAddr)
	assert.Equal(t, "/api", cfg.REST.BasePath)
	assert.False(t, cfg.Auth.Enabled())
	assert.Empty(t, cfg.Resources)
	assert.Nil(t, cfg.Replication)

	_, err = Load(writeConfig(t, "rest: [unclosed\n"))
	assert.Error(t, err)
}

func TestBuildResources(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	roots, err := BuildResources(testutil.Billing(), cfg.Resources)
	require.NoError(t, err)
	require.Len(t, roots, 1)

	customer := roots[0]
	assert.True(t, customer.ReadSchema().HasReference())
	assert.True(t, customer.Enabled(resource.OpPut))
	assert.False(t, customer.Enabled(resource.OpAggregate))
	assert.Equal(t, []string{"customer:read"}, customer.Scopes(resource.OpList))
	assert.Equal(t, 10, customer.Config().Pagination.DefaultLimit)

	require.Len(t, customer.Children(), 1)
	invoice := customer.Children()[0]
	assert.Equal(t, "/customer/{customer_id}/invoice", invoice.Path())
	assert.True(t, invoice.Enabled(resource.OpAggregate))
	assert.False(t, invoice.Enabled(resource.OpCreate))
	assert.Equal(t, []string{"customer:write"}, invoice.Scopes(resource.OpDelete), "writes inherit the parent's patch scopes")
}

func TestBuildResourcesErrors(t *testing.T) {
	reg := testutil.Billing()
	tests := []struct {
		name string
		cfg  ResourceConfig
		want string
	}{
		{"unknown model", ResourceConfig{Name: "nope", Read: &SchemaConfig{}}, "model not found"},
		{"unknown field", ResourceConfig{Name: "customer", Read: &SchemaConfig{Fields: []string{"nope"}}}, `no field "nope"`},
		{"unknown operation", ResourceConfig{Name: "customer", Read: &SchemaConfig{}, Scopes: map[string][]string{"fetch": {"x"}}}, "unknown operation"},
		{"create multi", ResourceConfig{Name: "customer", Read: &SchemaConfig{}, CreateMulti: true}, "create_multi"},
		{"child without relation", ResourceConfig{Name: "customer", Read: &SchemaConfig{},
			Children: []ResourceConfig{{Name: "tag", Read: &SchemaConfig{}}}}, "no many-to-one field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildResources(reg, []ResourceConfig{tt.cfg})
			var cerr *apierr.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
