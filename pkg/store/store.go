// Package store defines the relational store collaborator of the router engine.
//
// Implementations live in subpackages: pgstore (PostgreSQL via pgx) and
// memstore (in-memory, for tests).
package store

import (
	"context"
	"errors"
	"maps"

	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/query"
)

var (
	// ErrUnsupported is returned when the store cannot evaluate a requested
	// expression, e.g. sum over a text field.
	ErrUnsupported = errors.New("store: unsupported operation")
	// ErrNoRows is returned by Update and Delete when the row does not exist.
	ErrNoRows = errors.New("store: no rows")
)

// Record is a single row keyed by field name. A many-to-one field holds the
// referenced primary key.
//
// Related holds sub-objects of one-to-many fields and Links the target keys of
// many-to-many fields. When a field appears in either map, Insert and Update
// reconcile the stored relation to match it exactly.
type Record struct {
	Values  map[string]any
	Related map[string][]*Record
	Links   map[string][]any
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{Values: make(map[string]any)}
}

// Get returns the value of a field.
func (r *Record) Get(name string) any { return r.Values[name] }

// Set sets the value of a field.
func (r *Record) Set(name string, v any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	r.Values[name] = v
}

// SetRelated marks a one-to-many field for reconciliation.
func (r *Record) SetRelated(name string, recs []*Record) {
	if r.Related == nil {
		r.Related = make(map[string][]*Record)
	}
	r.Related[name] = recs
}

// SetLinks marks a many-to-many field for reconciliation.
func (r *Record) SetLinks(name string, keys []any) {
	if r.Links == nil {
		r.Links = make(map[string][]any)
	}
	r.Links[name] = keys
}

// Clone returns a copy of the record's values. Related and Links are not
// copied; they describe a pending write, not stored state.
func (r *Record) Clone() *Record {
	return &Record{Values: maps.Clone(r.Values)}
}

// Store reads and writes records.
type Store interface {
	// Find returns the rows matching sel in order.
	Find(ctx context.Context, sel query.Select) ([]*Record, error)
	// Count returns the number of rows matching sel.Where.
	Count(ctx context.Context, sel query.Select) (int64, error)
	// Aggregate evaluates agg over the rows matching sel.Where. Grouped results
	// are ordered and windowed by sel; sel.Order may only reference group keys.
	Aggregate(ctx context.Context, sel query.Select, agg query.Aggregate) ([]map[string]any, error)
	// Insert stores a new row. Missing primary keys are generated and written
	// back to rec together with store defaults.
	Insert(ctx context.Context, m *model.Model, rec *Record) error
	// Update overwrites the stored row identified by rec's primary key.
	Update(ctx context.Context, m *model.Model, rec *Record) error
	// Delete removes the row identified by rec's primary key.
	Delete(ctx context.Context, m *model.Model, rec *Record) error
	// LinkedKeys returns the target keys linked to source through the
	// many-to-many field rel.
	LinkedKeys(ctx context.Context, rel *model.Field, source any) ([]any, error)
}
