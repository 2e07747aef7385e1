// Package pgstore implements store.Store on PostgreSQL using pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/model"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// querier is satisfied by both pg.Conn and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store runs queries on a connection or pool.
type Store struct {
	conn   pg.Conn
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger logs every statement at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns a Store using conn, typically a *pgxpool.Pool.
func New(conn pg.Conn, opts ...Option) *Store {
	s := &Store{conn: conn, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) query(ctx context.Context, q querier, sql string, args []any) ([]map[string]any, error) {
	s.logger.Debug("query", zap.String("sql", sql), zap.Int("args", len(args)))
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Find implements store.Store.
func (s *Store) Find(ctx context.Context, sel query.Select) ([]*store.Record, error) {
	sql, args := buildSelect(sel)
	rows, err := s.query(ctx, s.conn, sql, args)
	if err != nil {
		return nil, fmt.Errorf("pgstore: find %s: %w", sel.Model.Name, err)
	}
	recs := make([]*store.Record, len(rows))
	for i, r := range rows {
		recs[i] = &store.Record{Values: r}
	}
	return recs, nil
}

// Count implements store.Store.
func (s *Store) Count(ctx context.Context, sel query.Select) (int64, error) {
	sql, args := buildCount(sel)
	var n int64
	if err := s.conn.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgstore: count %s: %w", sel.Model.Name, classify(err))
	}
	return n, nil
}

// Aggregate implements store.Store. Functions PostgreSQL cannot apply to the
// field's type are reported as store.ErrUnsupported.
func (s *Store) Aggregate(ctx context.Context, sel query.Select, agg query.Aggregate) ([]map[string]any, error) {
	if err := agg.Validate(); err != nil {
		return nil, err
	}
	sql, args := buildAggregate(sel, agg)
	rows, err := s.query(ctx, s.conn, sql, args)
	if err != nil {
		return nil, fmt.Errorf("pgstore: aggregate %s: %w", sel.Model.Name, unsupported(err, agg))
	}
	if len(rows) == 0 && len(agg.GroupBy) == 0 {
		rows = []map[string]any{{query.ValueKey: nil}}
	}
	return rows, nil
}

// Insert implements store.Store. Text and uuid primary keys are generated
// client side when missing; integer keys are left to the column default.
func (s *Store) Insert(ctx context.Context, m *model.Model, rec *store.Record) error {
	return s.inTx(ctx, func(tx pgx.Tx) error { return s.insert(ctx, tx, m, rec) })
}

func (s *Store) insert(ctx context.Context, q querier, m *model.Model, rec *store.Record) error {
	pk := m.PrimaryKey()
	if rec.Get(pk.Name) == nil {
		if pk.Type == model.TypeUUID || pk.Type == model.TypeText {
			rec.Set(pk.Name, uuid.NewString())
		} else {
			delete(rec.Values, pk.Name)
		}
	}

	sql, args := buildInsert(m, rec.Values)
	rows, err := s.query(ctx, q, sql, args)
	if err != nil {
		return fmt.Errorf("pgstore: insert %s: %w", m.Name, err)
	}
	if len(rows) == 1 {
		for k, v := range rows[0] {
			rec.Set(k, v)
		}
	}
	return s.reconcile(ctx, q, m, rec)
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, m *model.Model, rec *store.Record) error {
	return s.inTx(ctx, func(tx pgx.Tx) error { return s.update(ctx, tx, m, rec) })
}

func (s *Store) update(ctx context.Context, q querier, m *model.Model, rec *store.Record) error {
	sql, args := buildUpdate(m, rec.Values)
	rows, err := s.query(ctx, q, sql, args)
	if err != nil {
		return fmt.Errorf("pgstore: update %s: %w", m.Name, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("pgstore: update %s %v: %w", m.Name, rec.Get(m.PrimaryKey().Name), store.ErrNoRows)
	}
	for k, v := range rows[0] {
		rec.Set(k, v)
	}
	return s.reconcile(ctx, q, m, rec)
}

// Delete implements store.Store. Dependent rows are handled by the schema's
// foreign key actions.
func (s *Store) Delete(ctx context.Context, m *model.Model, rec *store.Record) error {
	id := rec.Get(m.PrimaryKey().Name)
	sql, args := buildDelete(m, id)
	s.logger.Debug("exec", zap.String("sql", sql))
	tag, err := s.conn.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", m.Name, classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: delete %s %v: %w", m.Name, id, store.ErrNoRows)
	}
	return nil
}

// inTx runs fn in a transaction so that a row and its sub-objects are written
// together.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// reconcile makes the stored to-many relations of rec match Related and Links.
func (s *Store) reconcile(ctx context.Context, q querier, m *model.Model, rec *store.Record) error {
	pk := rec.Get(m.PrimaryKey().Name)

	for name, subs := range rec.Related {
		f, ok := m.Field(name)
		if !ok || f.Relation != model.RelationOneToMany {
			return fmt.Errorf("pgstore: %s.%s is not a one-to-many field", m.Name, name)
		}
		target := f.Related()
		tpk := target.PrimaryKey()
		rev := f.Reverse()

		existing, err := s.childKeys(ctx, q, f, pk)
		if err != nil {
			return err
		}
		keep := make([]string, 0, len(subs))
		for _, sub := range subs {
			sub.Set(rev.Name, pk)
			id := sub.Get(tpk.Name)
			if id != nil && existing[fmt.Sprint(id)] {
				err = s.update(ctx, q, target, sub)
			} else {
				err = s.insert(ctx, q, target, sub)
			}
			if err != nil {
				return err
			}
			keep = append(keep, fmt.Sprint(sub.Get(tpk.Name)))
		}

		b := newBuilder()
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			tableIdent(target), ident(rev.Column), b.placeholder(pk))
		if len(keep) > 0 {
			sql += fmt.Sprintf(" AND %s::text <> ALL(%s::text[])", ident(tpk.Column), b.placeholder(keep))
		}
		if _, err := q.Exec(ctx, sql, b.args...); err != nil {
			return fmt.Errorf("pgstore: reconcile %s.%s: %w", m.Name, name, classify(err))
		}
	}

	for name, targets := range rec.Links {
		f, ok := m.Field(name)
		if !ok || f.Relation != model.RelationManyToMany {
			return fmt.Errorf("pgstore: %s.%s is not a many-to-many field", m.Name, name)
		}
		through := ident(m.Schema, f.Through)
		if _, err := q.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1", through, ident(f.ThroughSource)), pk); err != nil {
			return fmt.Errorf("pgstore: reconcile %s.%s: %w", m.Name, name, classify(err))
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			through, ident(f.ThroughSource), ident(f.ThroughTarget))
		for _, t := range targets {
			if _, err := q.Exec(ctx, sql, pk, t); err != nil {
				return fmt.Errorf("pgstore: link %s.%s: %w", m.Name, name, classify(err))
			}
		}
	}
	return nil
}

func (s *Store) childKeys(ctx context.Context, q querier, rel *model.Field, pk any) (map[string]bool, error) {
	target := rel.Related()
	sql := fmt.Sprintf("SELECT %s AS %s FROM %s WHERE %s = $1",
		ident(target.PrimaryKey().Column), ident("id"), tableIdent(target), ident(rel.RemoteColumn))
	rows, err := s.query(ctx, q, sql, []any{pk})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[fmt.Sprint(r["id"])] = true
	}
	return out, nil
}

// LinkedKeys implements store.Store.
func (s *Store) LinkedKeys(ctx context.Context, rel *model.Field, source any) ([]any, error) {
	sql := fmt.Sprintf("SELECT %s AS %s FROM %s WHERE %s = $1 ORDER BY 1",
		ident(rel.ThroughTarget), ident("id"), ident(rel.Model().Schema, rel.Through), ident(rel.ThroughSource))
	rows, err := s.query(ctx, s.conn, sql, []any{source})
	if err != nil {
		return nil, fmt.Errorf("pgstore: links %s.%s: %w", rel.Model().Name, rel.Name, err)
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["id"]
	}
	return out, nil
}

// codeUndefinedFunction is the SQLSTATE of a function applied to operand types
// it has no overload for.
const codeUndefinedFunction = "42883"

func classify(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNoRows
	}
	return err
}

// unsupported reports an aggregate function PostgreSQL cannot apply to its
// field's type as store.ErrUnsupported. Other errors are returned as is.
func unsupported(err error, agg query.Aggregate) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUndefinedFunction {
		return err
	}
	for _, fn := range []query.AggFunc{agg.Func, agg.Field.Agg} {
		if fn != "" && strings.Contains(pgErr.Message, "function "+string(fn)+"(") {
			return fmt.Errorf("%s: %w", pgErr.Message, store.ErrUnsupported)
		}
	}
	return err
}
