package schema

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/internal/testutil/pgtest"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func billingTables() map[string]Table {
	return map[string]Table{
		"public.customer": {
			Schema: "public", Name: "customer", Type: TypeTable,
			Columns: []Column{
				{Name: "id", DataType: "uuid", IsPrimaryKey: true},
				{Name: "tenant_id", DataType: "text"},
				{Name: "name", DataType: "character varying", MaxLength: 100},
				{Name: "status", DataType: "text"},
				{Name: "referrer_id", DataType: "uuid", IsNullable: true},
			},
			PrimaryKeys: []string{"id"},
			ForeignKeys: []ForeignKey{{Column: "referrer_id", ReferencedSchema: "public", ReferencedTable: "customer", ReferencedColumn: "id"}},
		},
		"public.invoice": {
			Schema: "public", Name: "invoice", Type: TypeTable,
			Columns: []Column{
				{Name: "id", DataType: "uuid", IsPrimaryKey: true},
				{Name: "customer_id", DataType: "uuid"},
				{Name: "total", DataType: "numeric"},
				{Name: "issued", DataType: "date", IsNullable: true},
				{Name: "created", DataType: "timestamp with time zone"},
			},
			PrimaryKeys: []string{"id"},
			ForeignKeys: []ForeignKey{{Column: "customer_id", ReferencedSchema: "public", ReferencedTable: "customer", ReferencedColumn: "id"}},
		},
		"public.invoice_tag": {
			Schema: "public", Name: "invoice_tag", Type: TypeTable,
			Columns: []Column{
				{Name: "invoice_id", DataType: "uuid", IsPrimaryKey: true},
				{Name: "tag_id", DataType: "uuid", IsPrimaryKey: true},
			},
			PrimaryKeys: []string{"invoice_id", "tag_id"},
		},
		"audit.event": {
			Schema: "audit", Name: "event", Type: TypeTable,
			Columns:     []Column{{Name: "id", DataType: "bigint", IsPrimaryKey: true}, {Name: "payload", DataType: "jsonb"}},
			PrimaryKeys: []string{"id"},
		},
	}
}

func TestFieldType(t *testing.T) {
	tests := map[string]model.FieldType{
		"integer":                     model.TypeInt,
		"bigint":                      model.TypeInt,
		"numeric":                     model.TypeDecimal,
		"double precision":            model.TypeDecimal,
		"boolean":                     model.TypeBool,
		"date":                        model.TypeDate,
		"timestamp without time zone": model.TypeDateTime,
		"uuid":                        model.TypeUUID,
		"jsonb":                       model.TypeJSON,
		"character varying":           model.TypeText,
		"USER-DEFINED":                model.TypeText,
	}
	for in, want := range tests {
		assert.Equal(t, want, FieldType(in), in)
	}
}

func TestModels(t *testing.T) {
	models, err := Models(billingTables(), ModelOptions{
		Choices: map[string][]string{"customer.status": {"active", "archived"}},
	})
	require.NoError(t, err)

	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	// invoice_tag has a composite key
	assert.Equal(t, []string{"event", "customer", "invoice"}, names)

	reg, err := model.NewRegistry(models...)
	require.NoError(t, err)

	customer, _ := reg.Get("customer")
	assert.Equal(t, "public.customer", customer.QualifiedTable())
	status, ok := customer.Field("status")
	require.True(t, ok)
	assert.Equal(t, []string{"active", "archived"}, status.Choices)

	name, _ := customer.Field("name")
	assert.Equal(t, 100, name.MaxLength)

	referrer, ok := customer.Field("referrer")
	require.True(t, ok)
	assert.Equal(t, model.RelationManyToOne, referrer.Relation)
	assert.Equal(t, model.TypeUUID, referrer.Type)
	assert.True(t, referrer.Nullable)

	invoices, ok := customer.Field("invoice_set")
	require.True(t, ok)
	assert.Equal(t, model.RelationOneToMany, invoices.Relation)
	assert.Equal(t, "customer_id", invoices.RemoteColumn)
	assert.Equal(t, "invoice_set", customer.Fields[len(customer.Fields)-1].Name)

	invoice, _ := reg.Get("invoice")
	fk, ok := invoice.Field("customer")
	require.True(t, ok)
	assert.Equal(t, "customer_id", fk.Column)
	assert.Same(t, customer, fk.Related())
	assert.Same(t, fk, invoices.Reverse())

	event, _ := reg.Get("event")
	assert.Equal(t, "audit", event.Schema)
	assert.Equal(t, model.TypeInt, event.PrimaryKey().Type)
}

func TestModelsSelection(t *testing.T) {
	models, err := Models(billingTables(), ModelOptions{Tables: []string{"invoice"}})
	require.NoError(t, err)
	require.Len(t, models, 2, "referenced customer is included")
	assert.Equal(t, "customer", models[0].Name)
	assert.Equal(t, "invoice", models[1].Name)

	_, err = Models(billingTables(), ModelOptions{Tables: []string{"missing"}})
	assert.ErrorContains(t, err, "not found")

	tables := billingTables()
	tables["other.customer"] = Table{Schema: "other", Name: "customer", PrimaryKeys: []string{"id"},
		Columns: []Column{{Name: "id", DataType: "uuid", IsPrimaryKey: true}}}
	_, err = Models(tables, ModelOptions{})
	assert.ErrorContains(t, err, "ambiguous")
}

func TestIsSystem(t *testing.T) {
	for _, s := range []string{"pg_catalog", "information_schema", "pg_toast", "pg_temp_3", "pg_toast_temp_3"} {
		assert.True(t, isSystem(s), s)
	}
	assert.False(t, isSystem("public"))
	assert.False(t, isSystem("pg_app"))
}

func TestCacheReload(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool := pgtest.Billing(ctx, t)

	cache, err := NewCache(ctx, pool, zaptest.NewLogger(t), "public")
	require.NoError(t, err)
	defer cache.Close()
	require.NoError(t, cache.Init(ctx))

	initial := <-cache.Watch()
	require.Contains(t, initial, "public.invoice")
	invoice := initial["public.invoice"]
	assert.Equal(t, TypeTable, invoice.Type)
	assert.Equal(t, []string{"id"}, invoice.PrimaryKeys)
	assert.Equal(t, "id", invoice.Columns[0].Name)
	assert.Equal(t, []ForeignKey{{Column: "customer_id", ReferencedSchema: "public", ReferencedTable: "customer", ReferencedColumn: "id"}}, invoice.ForeignKeys)
	assert.Equal(t, []string{"invoice_id", "tag_id"}, initial["public.invoice_tag"].PrimaryKeys)

	cols := make(map[string]Column)
	for _, col := range initial["public.customer"].Columns {
		cols[col.Name] = col
	}
	assert.Equal(t, Column{Name: "name", DataType: "character varying", MaxLength: 100}, cols["name"])
	assert.Equal(t, Column{Name: "status", DataType: "text", HasDefault: true}, cols["status"])
	assert.Equal(t, "timestamp with time zone", cols["created"].DataType)
	assert.True(t, cols["email"].IsNullable)
	assert.True(t, cols["id"].IsPrimaryKey)

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS test_watch (id serial PRIMARY KEY, name text)`)
	require.NoError(t, err)
	defer pool.Exec(context.Background(), "DROP TABLE IF EXISTS test_watch")

	_, err = pool.Exec(ctx, "NOTIFY "+reloadChannel+", '"+reloadPayload+"'")
	require.NoError(t, err)

	select {
	case tables := <-cache.Watch():
		assert.Contains(t, tables, "public.test_watch")
	case <-ctx.Done():
		t.Fatal("timeout waiting for schema change notification")
	}

	models, err := Models(cache.Snapshot(), ModelOptions{Tables: []string{"invoiceitem"}})
	require.NoError(t, err)
	_, err = model.NewRegistry(models...)
	require.NoError(t, err)
}
