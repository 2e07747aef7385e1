// Package memstore is an in-memory store.Store. It evaluates the same query
// representation as pgstore and backs the engine tests.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/store"
	"github.com/google/uuid"
)

type table struct {
	rows  map[string]row
	order []string
	seq   int64
}

// Store keeps rows per model name. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	// join table name -> [source key, target key] pairs
	links map[string][][2]string
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		tables: make(map[string]*table),
		links:  make(map[string][][2]string),
	}
}

func (s *Store) table(m *model.Model) *table {
	t, ok := s.tables[m.Name]
	if !ok {
		t = &table{rows: make(map[string]row)}
		s.tables[m.Name] = t
	}
	return t
}

func (s *Store) filter(sel query.Select) []row {
	t := s.tables[sel.Model.Name]
	if t == nil {
		return nil
	}
	out := make([]row, 0, len(t.order))
	for _, k := range t.order {
		r := t.rows[k]
		if s.match(sel.Where, r) {
			out = append(out, r)
		}
	}
	return out
}

// Find implements store.Store.
func (s *Store) Find(_ context.Context, sel query.Select) ([]*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.filter(sel)
	if len(sel.Order) > 0 {
		slices.SortStableFunc(rows, func(a, b row) int {
			for _, o := range sel.Order {
				n := nullsLast(s.value(o.Expr, a), s.value(o.Expr, b))
				if o.Desc {
					n = -n
				}
				if n != 0 {
					return n
				}
			}
			return 0
		})
	}
	rows = window(rows, sel.Limit, sel.Offset)

	recs := make([]*store.Record, len(rows))
	for i, r := range rows {
		recs[i] = &store.Record{Values: maps.Clone(r)}
	}
	return recs, nil
}

// Count implements store.Store.
func (s *Store) Count(_ context.Context, sel query.Select) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filter(sel))), nil
}

// Aggregate implements store.Store.
func (s *Store) Aggregate(_ context.Context, sel query.Select, agg query.Aggregate) ([]map[string]any, error) {
	if err := agg.Validate(); err != nil {
		return nil, err
	}
	if agg.Func != query.AggCount && !supports(agg.Func, agg.Field.Type()) {
		return nil, fmt.Errorf("memstore: %s(%s): %w", agg.Func, agg.Field.Type(), store.ErrUnsupported)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.filter(sel)
	if len(agg.GroupBy) == 0 {
		v, err := s.aggregateRows(agg, rows)
		if err != nil {
			return nil, err
		}
		return []map[string]any{{query.ValueKey: v}}, nil
	}

	type group struct {
		keys []any
		rows []row
	}
	var groups []*group
	index := make(map[string]*group)
	for _, r := range rows {
		keys := make([]any, len(agg.GroupBy))
		parts := make([]string, len(agg.GroupBy))
		for i, g := range agg.GroupBy {
			keys[i] = s.value(g, r)
			parts[i] = fmt.Sprintf("%T:%v", keys[i], keys[i])
		}
		k := strings.Join(parts, "\x00")
		grp, ok := index[k]
		if !ok {
			grp = &group{keys: keys}
			index[k] = grp
			groups = append(groups, grp)
		}
		grp.rows = append(grp.rows, r)
	}

	out := make([]map[string]any, 0, len(groups))
	for _, grp := range groups {
		v, err := s.aggregateRows(agg, grp.rows)
		if err != nil {
			return nil, err
		}
		res := map[string]any{query.ValueKey: v}
		for i, g := range agg.GroupBy {
			res[g.Path()] = grp.keys[i]
		}
		out = append(out, res)
	}

	order := query.GroupOrder(sel.Order, agg.GroupBy)
	slices.SortStableFunc(out, func(a, b map[string]any) int {
		for _, o := range order {
			n := nullsLast(a[o.Expr.Path()], b[o.Expr.Path()])
			if o.Desc {
				n = -n
			}
			if n != 0 {
				return n
			}
		}
		return 0
	})
	return window(out, sel.Limit, sel.Offset), nil
}

func (s *Store) aggregateRows(agg query.Aggregate, rows []row) (any, error) {
	vals := make([]any, len(rows))
	for i, r := range rows {
		vals[i] = s.value(agg.Field, r)
	}
	t := agg.Field.Type()
	if agg.Func == query.AggCount {
		t = ""
	}
	v, err := aggregate(agg.Func, t, vals)
	if err != nil {
		return nil, fmt.Errorf("memstore: %v: %w", err, store.ErrUnsupported)
	}
	return v, nil
}

// Insert implements store.Store.
func (s *Store) Insert(_ context.Context, m *model.Model, rec *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(m, rec)
}

func (s *Store) insert(m *model.Model, rec *store.Record) error {
	t := s.table(m)
	pk := m.PrimaryKey()
	if rec.Get(pk.Name) == nil {
		switch pk.Type {
		case model.TypeInt:
			t.seq++
			rec.Set(pk.Name, t.seq)
		default:
			rec.Set(pk.Name, uuid.NewString())
		}
	}
	k := key(rec.Get(pk.Name))
	if _, exists := t.rows[k]; exists {
		return fmt.Errorf("memstore: %s %s already exists", m.Name, k)
	}

	r := make(row, len(m.Fields))
	for _, f := range m.Fields {
		if f.IsToMany() {
			continue
		}
		r[f.Name] = rec.Get(f.Name)
	}
	t.rows[k] = r
	t.order = append(t.order, k)
	maps.Copy(rec.Values, r)

	return s.reconcile(m, rec)
}

// Update implements store.Store.
func (s *Store) Update(_ context.Context, m *model.Model, rec *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(m, rec)
}

func (s *Store) update(m *model.Model, rec *store.Record) error {
	t := s.table(m)
	k := key(rec.Get(m.PrimaryKey().Name))
	r, ok := t.rows[k]
	if !ok {
		return fmt.Errorf("memstore: %s %s: %w", m.Name, k, store.ErrNoRows)
	}
	for name, v := range rec.Values {
		if f, ok := m.Field(name); ok && !f.IsToMany() {
			r[name] = v
		}
	}
	maps.Copy(rec.Values, r)
	return s.reconcile(m, rec)
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, m *model.Model, rec *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(m)
	k := key(rec.Get(m.PrimaryKey().Name))
	if _, ok := t.rows[k]; !ok {
		return fmt.Errorf("memstore: %s %s: %w", m.Name, k, store.ErrNoRows)
	}
	delete(t.rows, k)
	t.order = slices.DeleteFunc(t.order, func(o string) bool { return o == k })
	for _, f := range m.Fields {
		if f.Relation == model.RelationManyToMany {
			s.links[f.Through] = slices.DeleteFunc(s.links[f.Through], func(l [2]string) bool { return l[0] == k })
		}
	}
	return nil
}

// reconcile makes the stored to-many relations of rec match Related and Links.
func (s *Store) reconcile(m *model.Model, rec *store.Record) error {
	pk := rec.Get(m.PrimaryKey().Name)

	for name, subs := range rec.Related {
		f, ok := m.Field(name)
		if !ok || f.Relation != model.RelationOneToMany {
			return fmt.Errorf("memstore: %s.%s is not a one-to-many field", m.Name, name)
		}
		target := f.Related()
		rev := f.Reverse()
		keep := make(map[string]bool, len(subs))
		existing := make(map[string]bool)
		for _, child := range s.children(f, rec.Values) {
			existing[key(child[target.PrimaryKey().Name])] = true
		}

		for _, sub := range subs {
			sub.Set(rev.Name, pk)
			id := sub.Get(target.PrimaryKey().Name)
			var err error
			if id != nil && existing[key(id)] {
				err = s.update(target, sub)
			} else {
				err = s.insert(target, sub)
			}
			if err != nil {
				return err
			}
			keep[key(sub.Get(target.PrimaryKey().Name))] = true
		}

		t := s.table(target)
		for k := range existing {
			if !keep[k] {
				delete(t.rows, k)
				t.order = slices.DeleteFunc(t.order, func(o string) bool { return o == k })
			}
		}
	}

	for name, targets := range rec.Links {
		f, ok := m.Field(name)
		if !ok || f.Relation != model.RelationManyToMany {
			return fmt.Errorf("memstore: %s.%s is not a many-to-many field", m.Name, name)
		}
		src := key(pk)
		links := slices.DeleteFunc(s.links[f.Through], func(l [2]string) bool { return l[0] == src })
		for _, tk := range targets {
			links = append(links, [2]string{src, key(tk)})
		}
		s.links[f.Through] = links
	}
	return nil
}

// LinkedKeys implements store.Store. Keys are returned as stored by Link or
// reconcile, in insertion order.
func (s *Store) LinkedKeys(_ context.Context, rel *model.Field, source any) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := key(source)
	out := []any{}
	for _, l := range s.links[rel.Through] {
		if l[0] == src {
			out = append(out, s.targetKey(rel, l[1]))
		}
	}
	return out, nil
}

// targetKey returns the stored primary key of rel's target whose string form
// is k, or k itself when the target row is unknown.
func (s *Store) targetKey(rel *model.Field, k string) any {
	if t := s.tables[rel.Related().Name]; t != nil {
		if r, ok := t.rows[k]; ok {
			return r[rel.Related().PrimaryKey().Name]
		}
	}
	return k
}

// Link adds a many-to-many pair. Intended for seeding.
func (s *Store) Link(rel *model.Field, source, target any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[rel.Through] = append(s.links[rel.Through], [2]string{key(source), key(target)})
}

// Len returns the number of stored rows of m.
func (s *Store) Len(m *model.Model) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.tables[m.Name]; t != nil {
		return len(t.rows)
	}
	return 0
}

func window[T any](rows []T, limit, offset int) []T {
	offset = max(offset, 0)
	if offset >= len(rows) {
		return rows[:0]
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
