package transfer

import (
	"testing"

	"github.com/edgeflare/pgcrud/internal/testutil"
	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/resource"
	"github.com/edgeflare/pgcrud/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceSchema(t *testing.T) (*model.Model, *resource.Schema) {
	t.Helper()
	reg := testutil.Billing()
	invoice := testutil.MustModel(reg, "invoice")
	s, err := resource.ModelSchema(invoice, "id", "number", "status", "issued", "items", "tags")
	require.NoError(t, err)
	return invoice, s
}

func TestTransfer(t *testing.T) {
	invoice, s := invoiceSchema(t)
	acc := &access.Access{Subject: "u1", TenantID: "t1"}

	payload := resource.Payload{
		"id":     "i9",
		"number": "A-1",
		"items": []resource.Payload{
			{"id": "x1", "description": "kept", "quantity": int64(1), "amount": 2.0},
			{"description": "new", "quantity": int64(2), "amount": 1.0},
		},
		"tags": []any{"t1", "t2"},
	}

	tests := []struct {
		name         string
		mode         Mode
		excludeUnset bool
		existing     map[string]any
		check        func(t *testing.T, rec *store.Record)
	}{
		{
			name: "create",
			mode: Create,
			check: func(t *testing.T, rec *store.Record) {
				assert.Equal(t, "i9", rec.Get("id"))
				assert.Equal(t, "A-1", rec.Get("number"))
				assert.NotContains(t, rec.Values, "status", "absent fields keep store defaults")
				require.Len(t, rec.Related["items"], 2)
				assert.Equal(t, "t1", rec.Related["items"][0].Get(model.TenantField))
				assert.Equal(t, "x1", rec.Related["items"][0].Get("id"))
				assert.Nil(t, rec.Related["items"][1].Get("id"))
				assert.Equal(t, []any{"t1", "t2"}, rec.Links["tags"])
			},
		},
		{
			name:         "patch",
			mode:         NoSubobjects,
			excludeUnset: true,
			existing:     map[string]any{"id": "i1", "number": "OLD", "status": "paid"},
			check: func(t *testing.T, rec *store.Record) {
				assert.Equal(t, "i1", rec.Get("id"), "existing key is kept")
				assert.Equal(t, "A-1", rec.Get("number"))
				assert.Equal(t, "paid", rec.Get("status"), "unset field untouched")
				assert.Nil(t, rec.Related)
				assert.Nil(t, rec.Links)
			},
		},
		{
			name:     "put",
			mode:     Sync,
			existing: map[string]any{"id": "i1", "number": "OLD", "status": "paid", "issued": "2024-01-01"},
			check: func(t *testing.T, rec *store.Record) {
				assert.Equal(t, "i1", rec.Get("id"))
				assert.Contains(t, rec.Values, "status")
				assert.Nil(t, rec.Get("status"), "absent field is cleared")
				assert.Nil(t, rec.Get("issued"))
				assert.Len(t, rec.Related["items"], 2)
				assert.Equal(t, []any{"t1", "t2"}, rec.Links["tags"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := store.NewRecord()
			for k, v := range tt.existing {
				rec.Set(k, v)
			}
			require.NoError(t, Transfer(s, invoice, payload, rec, tt.mode, tt.excludeUnset, acc))
			tt.check(t, rec)
		})
	}
}

func TestTransferSyncClearsRelations(t *testing.T) {
	invoice, s := invoiceSchema(t)
	rec := &store.Record{Values: map[string]any{"id": "i1"}}

	require.NoError(t, Transfer(s, invoice, resource.Payload{"number": "A-1", "status": "sent"}, rec, Sync, false, nil))
	assert.Contains(t, rec.Related, "items")
	assert.Empty(t, rec.Related["items"])
	assert.Equal(t, []any{}, rec.Links["tags"])
}

func TestTransferUnknownField(t *testing.T) {
	invoice, _ := invoiceSchema(t)
	s := &resource.Schema{Fields: []resource.SchemaField{{Name: "nope", Type: model.TypeText}}}
	err := Transfer(s, invoice, resource.Payload{"nope": "x"}, store.NewRecord(), Create, false, nil)
	assert.ErrorContains(t, err, "no field")
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "CREATE", Create.String())
	assert.Equal(t, "SYNC", Sync.String())
	assert.Equal(t, "NO_SUBOBJECTS", NoSubobjects.String())
}
