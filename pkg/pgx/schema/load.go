package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/jackc/pgx/v5"
)

// Relations of these kinds become tables: ordinary and partitioned tables,
// views and materialized views. Partitions are reached through their parent.
const relationsSQL = `
SELECT n.nspname::text,
       c.relname::text,
       CASE c.relkind WHEN 'v' THEN 'VIEW' WHEN 'm' THEN 'MATERIALIZED VIEW' ELSE 'TABLE' END
  FROM pg_class c
  JOIN pg_namespace n ON n.oid = c.relnamespace
 WHERE c.relkind IN ('r', 'p', 'v', 'm')
   AND NOT c.relispartition
   AND n.nspname::text = ANY($1)
 ORDER BY 1, 2`

const columnsSQL = `
SELECT n.nspname::text,
       c.relname::text,
       a.attname::text,
       format_type(CASE WHEN t.typtype = 'd' THEN t.typbasetype ELSE a.atttypid END, NULL),
       NOT a.attnotnull,
       COALESCE(a.attnum = ANY(pk.conkey), false),
       a.atthasdef OR a.attidentity <> '' OR a.attgenerated <> '',
       CASE WHEN a.atttypid IN ('varchar'::regtype, 'bpchar'::regtype) AND a.atttypmod > 4
            THEN a.atttypmod - 4 ELSE 0 END
  FROM pg_attribute a
  JOIN pg_class c ON c.oid = a.attrelid
  JOIN pg_namespace n ON n.oid = c.relnamespace
  JOIN pg_type t ON t.oid = a.atttypid
  LEFT JOIN pg_constraint pk ON pk.conrelid = c.oid AND pk.contype = 'p'
 WHERE a.attnum > 0
   AND NOT a.attisdropped
   AND c.relkind IN ('r', 'p', 'v', 'm')
   AND NOT c.relispartition
   AND n.nspname::text = ANY($1)
 ORDER BY n.nspname, c.relname, a.attnum`

const foreignKeysSQL = `
SELECT n.nspname::text,
       c.relname::text,
       a.attname::text,
       rn.nspname::text,
       rc.relname::text,
       ra.attname::text
  FROM pg_constraint con
  JOIN pg_class c ON c.oid = con.conrelid
  JOIN pg_namespace n ON n.oid = c.relnamespace
  JOIN pg_class rc ON rc.oid = con.confrelid
  JOIN pg_namespace rn ON rn.oid = rc.relnamespace
 CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(col, ref, pos)
  JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.col
  JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.ref
 WHERE con.contype = 'f'
   AND n.nspname::text = ANY($1)
 ORDER BY n.nspname, c.relname, con.conname, k.pos`

type columnRow struct {
	Schema, Table string
	Column
}

type foreignKeyRow struct {
	Schema, Table string
	ForeignKey
}

// load reads the tables of schemas (every non-system schema when empty) in
// three catalog queries.
func load(ctx context.Context, conn pg.Conn, schemas []string) (map[string]Table, error) {
	if len(schemas) == 0 {
		var err error
		if schemas, err = allSchemas(ctx, conn); err != nil {
			return nil, fmt.Errorf("list schemas: %w", err)
		}
	}
	schemas = slices.DeleteFunc(slices.Clone(schemas), isSystem)

	rows, _ := conn.Query(ctx, relationsSQL, schemas)
	tables, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Table, error) {
		var t Table
		err := row.Scan(&t.Schema, &t.Name, &t.Type)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("relations: %w", err)
	}
	byName := make(map[string]*Table, len(tables))
	for i := range tables {
		byName[tables[i].FullName()] = &tables[i]
	}

	rows, _ = conn.Query(ctx, columnsSQL, schemas)
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (columnRow, error) {
		var r columnRow
		err := row.Scan(&r.Schema, &r.Table, &r.Name, &r.DataType, &r.IsNullable, &r.IsPrimaryKey, &r.HasDefault, &r.MaxLength)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	for _, r := range cols {
		t, ok := byName[r.Schema+"."+r.Table]
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, r.Column)
		if r.IsPrimaryKey {
			t.PrimaryKeys = append(t.PrimaryKeys, r.Name)
		}
	}

	rows, _ = conn.Query(ctx, foreignKeysSQL, schemas)
	fks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (foreignKeyRow, error) {
		var r foreignKeyRow
		err := row.Scan(&r.Schema, &r.Table, &r.Column, &r.ReferencedSchema, &r.ReferencedTable, &r.ReferencedColumn)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	for _, r := range fks {
		if t, ok := byName[r.Schema+"."+r.Table]; ok {
			t.ForeignKeys = append(t.ForeignKeys, r.ForeignKey)
		}
	}

	out := make(map[string]Table, len(tables))
	for _, t := range tables {
		out[t.FullName()] = t
	}
	return out, nil
}

func allSchemas(ctx context.Context, conn pg.Conn) ([]string, error) {
	rows, _ := conn.Query(ctx, `SELECT nspname::text FROM pg_namespace ORDER BY 1`)
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func isSystem(schema string) bool {
	switch schema {
	case "information_schema", "pg_catalog", "pg_toast":
		return true
	}
	return strings.HasPrefix(schema, "pg_temp_") || strings.HasPrefix(schema, "pg_toast_temp_")
}
