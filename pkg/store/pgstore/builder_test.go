package pgstore

import (
	"testing"

	"github.com/edgeflare/pgcrud/internal/testutil"
	"github.com/edgeflare/pgcrud/pkg/query"
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertParses(t *testing.T, sql string) {
	t.Helper()
	_, err := pg_query.Parse(sql)
	require.NoError(t, err, sql)
}

func TestBuildSelect(t *testing.T) {
	reg := testutil.Billing()
	invoice := testutil.MustModel(reg, "invoice")
	customer := testutil.MustModel(reg, "customer")

	tests := []struct {
		name     string
		sel      query.Select
		contains []string
		args     []any
	}{
		{
			name:     "plain",
			sel:      query.Select{Model: invoice},
			contains: []string{`FROM "public"."invoice" t0`, `t0."customer_id" AS "customer"`},
		},
		{
			name: "join and window",
			sel: query.Select{
				Model: invoice,
				Where: query.Where(query.MustResolve(invoice, "customer__name"), query.IContains, "a_b"),
				Order: []query.Order{{Expr: query.MustResolve(invoice, "customer__name"), Desc: true}},
				Limit: 10, Offset: 20,
			},
			contains: []string{
				`LEFT JOIN "public"."customer" t1 ON t1."id" = t0."customer_id"`,
				`t1."name"::text ILIKE $1`,
				`ORDER BY t1."name" DESC`,
				`LIMIT $2 OFFSET $3`,
			},
			args: []any{`%a\_b%`, 10, 20},
		},
		{
			name: "soft delete predicate",
			sel: query.Select{
				Model: invoice,
				Where: query.Or(
					query.Where(query.MustResolve(invoice, "status"), query.IsNull, true),
					query.Not(query.Where(query.MustResolve(invoice, "status"), query.Exact, "void")),
				),
			},
			contains: []string{`t0."status" IS NULL OR (NOT (t0."status" = $1))`},
			args:     []any{"void"},
		},
		{
			name: "empty in",
			sel: query.Select{
				Model: invoice,
				Where: query.Where(query.MustResolve(invoice, "id"), query.In, []any{}),
			},
			contains: []string{"WHERE FALSE"},
		},
		{
			name: "one-to-many aggregate",
			sel: query.Select{
				Model: customer,
				Where: query.Where(query.MustResolve(customer, "invoices__total__sum"), query.Gte, 100),
			},
			contains: []string{`(SELECT sum(s1."total") FROM "public"."invoice" s1 WHERE s1."customer_id" = t0."id") >= $1`},
			args:     []any{100},
		},
		{
			name: "many-to-many count",
			sel: query.Select{
				Model: invoice,
				Order: []query.Order{{Expr: query.MustResolve(invoice, "tags__count")}},
			},
			contains: []string{`(SELECT count(*) FROM "public"."invoice_tag" j2 WHERE j2."invoice_id" = t0."id") ASC`},
		},
		{
			name: "date parts",
			sel: query.Select{
				Model: invoice,
				Where: query.And(
					query.Where(query.MustResolve(invoice, "created__year"), query.Exact, 2024),
					query.Where(query.MustResolve(invoice, "issued__week_day"), query.Exact, 1),
				),
			},
			contains: []string{
				`EXTRACT(YEAR FROM t0."created")::int = $1`,
				`(EXTRACT(DOW FROM t0."issued")::int + 1) = $2`,
			},
			args: []any{2024, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildSelect(tt.sel)
			assertParses(t, sql)
			for _, c := range tt.contains {
				assert.Contains(t, sql, c)
			}
			if tt.args != nil {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestBuildJoinsShared(t *testing.T) {
	reg := testutil.Billing()
	item := testutil.MustModel(reg, "invoiceitem")

	sel := query.Select{
		Model: item,
		Where: query.And(
			query.Where(query.MustResolve(item, "invoice__customer__name"), query.Exact, "acme"),
			query.Where(query.MustResolve(item, "invoice__number"), query.Exact, "1"),
		),
	}
	sql, _ := buildSelect(sel)
	assertParses(t, sql)
	assert.Contains(t, sql, `LEFT JOIN "public"."invoice" t1 ON t1."id" = t0."invoice_id"`)
	assert.Contains(t, sql, `LEFT JOIN "public"."customer" t2 ON t2."id" = t1."customer_id"`)
	assert.Equal(t, 1, countOf(sql, `"public"."invoice" t`))
}

func countOf(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}
	return n
}

func TestBuildCount(t *testing.T) {
	reg := testutil.Billing()
	invoice := testutil.MustModel(reg, "invoice")

	sql, args := buildCount(query.Select{
		Model: invoice,
		Where: query.Where(query.MustResolve(invoice, "customer"), query.Exact, "c1"),
		Limit: 5,
	})
	assertParses(t, sql)
	assert.Equal(t, `SELECT count(*) FROM "public"."invoice" t0 WHERE t0."customer_id" = $1`, sql)
	assert.Equal(t, []any{"c1"}, args)
}

func TestBuildAggregate(t *testing.T) {
	reg := testutil.Billing()
	invoice := testutil.MustModel(reg, "invoice")

	t.Run("ungrouped", func(t *testing.T) {
		sql, _ := buildAggregate(query.Select{Model: invoice}, query.Aggregate{
			Func:  query.AggSum,
			Field: query.MustResolve(invoice, "total"),
		})
		assertParses(t, sql)
		assert.Equal(t, `SELECT sum(v) AS "value" FROM (SELECT t0."total" AS v FROM "public"."invoice" t0) q`, sql)
	})

	t.Run("grouped", func(t *testing.T) {
		sel := query.Select{
			Model: invoice,
			Order: []query.Order{
				{Expr: query.MustResolve(invoice, "number")},
				{Expr: query.MustResolve(invoice, "created__month"), Desc: true},
			},
			Limit: 3,
		}
		sql, args := buildAggregate(sel, query.Aggregate{
			Func:    query.AggAvg,
			Field:   query.MustResolve(invoice, "items__amount__sum"),
			GroupBy: []query.Expr{query.MustResolve(invoice, "status"), query.MustResolve(invoice, "created__month")},
		})
		assertParses(t, sql)
		assert.Contains(t, sql, `g0 AS "status", g1 AS "created__month", avg(v) AS "value"`)
		assert.Contains(t, sql, `GROUP BY g0, g1 ORDER BY g1 DESC, g0 ASC LIMIT $1`)
		assert.NotContains(t, sql, "number")
		assert.Equal(t, []any{3}, args)
	})
}

func TestBuildWrites(t *testing.T) {
	reg := testutil.Billing()
	invoice := testutil.MustModel(reg, "invoice")

	t.Run("insert", func(t *testing.T) {
		sql, args := buildInsert(invoice, map[string]any{"id": "i1", "number": "A-1", "customer": "c1", "items": nil})
		assertParses(t, sql)
		assert.Contains(t, sql, `INSERT INTO "public"."invoice" ("id", "customer_id", "number") VALUES ($1, $2, $3) RETURNING`)
		assert.Equal(t, []any{"i1", "c1", "A-1"}, args)
	})

	t.Run("insert defaults", func(t *testing.T) {
		sql, args := buildInsert(invoice, map[string]any{})
		assertParses(t, sql)
		assert.Contains(t, sql, "DEFAULT VALUES")
		assert.Empty(t, args)
	})

	t.Run("update", func(t *testing.T) {
		sql, args := buildUpdate(invoice, map[string]any{"id": "i1", "status": "paid"})
		assertParses(t, sql)
		assert.Contains(t, sql, `UPDATE "public"."invoice" SET "status" = $1 WHERE "id" = $2 RETURNING`)
		assert.Equal(t, []any{"paid", "i1"}, args)
	})

	t.Run("update without values", func(t *testing.T) {
		sql, _ := buildUpdate(invoice, map[string]any{"id": "i1"})
		assertParses(t, sql)
		assert.Contains(t, sql, `SET "id" = "id"`)
	})

	t.Run("delete", func(t *testing.T) {
		sql, args := buildDelete(invoice, "i1")
		assertParses(t, sql)
		assert.Equal(t, `DELETE FROM "public"."invoice" WHERE "id" = $1`, sql)
		assert.Equal(t, []any{"i1"}, args)
	})
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}
