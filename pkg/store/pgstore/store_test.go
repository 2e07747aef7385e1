package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/edgeflare/pgcrud/internal/testutil"
	"github.com/edgeflare/pgcrud/internal/testutil/pgtest"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Billing(ctx, t)
	s := New(pool, WithLogger(zaptest.NewLogger(t)))

	reg := testutil.Billing()
	customer := testutil.MustModel(reg, "customer")
	invoice := testutil.MustModel(reg, "invoice")
	tag := testutil.MustModel(reg, "tag")

	c := store.NewRecord()
	c.Set("tenant_id", "t1")
	c.Set("name", "Acme")
	require.NoError(t, s.Insert(ctx, customer, c))
	require.NotNil(t, c.Get("id"))
	assert.Equal(t, "active", c.Get("status"), "column default is returned")

	tg := store.NewRecord()
	tg.Set("tenant_id", "t1")
	tg.Set("name", "urgent")
	require.NoError(t, s.Insert(ctx, tag, tg))

	inv := store.NewRecord()
	inv.Set("tenant_id", "t1")
	inv.Set("customer", c.Get("id"))
	inv.Set("number", "A-1")
	inv.Set("total", 10)
	item := func(desc string, amount float64) *store.Record {
		r := store.NewRecord()
		r.Set("tenant_id", "t1")
		r.Set("description", desc)
		r.Set("amount", amount)
		return r
	}
	inv.SetRelated("items", []*store.Record{item("a", 3), item("b", 4)})
	inv.SetLinks("tags", []any{tg.Get("id")})
	require.NoError(t, s.Insert(ctx, invoice, inv))

	t.Run("find with to-many filter", func(t *testing.T) {
		recs, err := s.Find(ctx, query.Select{
			Model: customer,
			Where: query.Where(query.MustResolve(customer, "invoices__count"), query.Gte, 1),
		})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "Acme", recs[0].Get("name"))
	})

	t.Run("aggregate", func(t *testing.T) {
		rows, err := s.Aggregate(ctx, query.Select{Model: invoice}, query.Aggregate{
			Func:  query.AggSum,
			Field: query.MustResolve(invoice, "items__amount__sum"),
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		sum, ok := rows[0][query.ValueKey].(json.Number)
		require.True(t, ok, "numeric sums are exact")
		f, err := sum.Float64()
		require.NoError(t, err)
		assert.InDelta(t, 7.0, f, 0.001)

		rows, err = s.Aggregate(ctx, query.Select{Model: invoice}, query.Aggregate{
			Func:    query.AggCount,
			Field:   query.MustResolve(invoice, "id"),
			GroupBy: []query.Expr{query.MustResolve(invoice, "tags__count")},
		})
		require.Error(t, err, "grouping by an aggregate is rejected")

		_, err = s.Aggregate(ctx, query.Select{Model: invoice}, query.Aggregate{
			Func:  query.AggSum,
			Field: query.MustResolve(invoice, "number"),
		})
		require.ErrorIs(t, err, store.ErrUnsupported)
	})

	t.Run("put replaces sub-objects", func(t *testing.T) {
		upd := store.NewRecord()
		upd.Set("id", inv.Get("id"))
		upd.Set("status", "sent")
		upd.SetRelated("items", []*store.Record{item("c", 1)})
		upd.SetLinks("tags", []any{})
		require.NoError(t, s.Update(ctx, invoice, upd))

		n, err := s.Count(ctx, query.Select{
			Model: testutil.MustModel(reg, "invoiceitem"),
			Where: query.Where(query.MustResolve(testutil.MustModel(reg, "invoiceitem"), "invoice"), query.Exact, inv.Get("id")),
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("missing rows", func(t *testing.T) {
		ghost := store.NewRecord()
		ghost.Set("id", "00000000-0000-0000-0000-000000000000")
		ghost.Set("name", "x")
		assert.ErrorIs(t, s.Update(ctx, customer, ghost), store.ErrNoRows)
		assert.ErrorIs(t, s.Delete(ctx, customer, ghost), store.ErrNoRows)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, invoice, inv))
		n, err := s.Count(ctx, query.Select{Model: invoice})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestClassify(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "42883", Message: "function lower(integer) does not exist"})
	assert.NotErrorIs(t, err, store.ErrUnsupported, "only aggregates are unsupported")

	assert.ErrorIs(t, classify(pgx.ErrNoRows), store.ErrNoRows)
}

func TestUnsupported(t *testing.T) {
	reg := testutil.Billing()
	invoice := testutil.MustModel(reg, "invoice")
	sum := query.Aggregate{Func: query.AggSum, Field: query.MustResolve(invoice, "number")}
	nested := query.Aggregate{Func: query.AggMax, Field: query.MustResolve(invoice, "items__amount__avg")}

	tests := []struct {
		name string
		agg  query.Aggregate
		err  error
		want bool
	}{
		{"sum over text", sum, &pgconn.PgError{Code: "42883", Message: "function sum(text) does not exist"}, true},
		{"nested aggregate", nested, &pgconn.PgError{Code: "42883", Message: "function avg(boolean) does not exist"}, true},
		{"filter function", sum, &pgconn.PgError{Code: "42883", Message: "function lower(integer) does not exist"}, false},
		{"datatype mismatch", sum, &pgconn.PgError{Code: "42804", Message: "argument of WHERE must be type boolean"}, false},
		{"unique violation", sum, &pgconn.PgError{Code: "23505"}, false},
		{"not a pg error", sum, errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := unsupported(tt.err, tt.agg)
			assert.Equal(t, tt.want, errors.Is(err, store.ErrUnsupported))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
