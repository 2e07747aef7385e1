// Package events publishes change events for writes made through generated
// routes, or read from the write-ahead log by subpackage wal.
//
// Events follow the Debezium envelope: before and after images of the row,
// the operation code and the source table. Sinks are registered by name and
// opened from configuration; subpackages nats, kafka, mqtt and webhook register
// themselves on import.
package events

import (
	"context"
	"strings"
	"time"
)

// Op is the change operation code.
type Op string

const (
	OpCreate   Op = "c"
	OpUpdate   Op = "u"
	OpDelete   Op = "d"
	OpTruncate Op = "t"
)

// Source identifies where a change happened.
type Source struct {
	Resource string `json:"resource"`
	Schema   string `json:"schema"`
	Table    string `json:"table"`
	TenantID string `json:"tenant_id,omitempty"`
	// Subject is the authenticated caller that made the change.
	Subject string `json:"sub,omitempty"`
}

// Event is a single row change.
type Event struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
	Source Source         `json:"source"`
	Op     Op             `json:"op"`
	TsMs   int64          `json:"ts_ms"`
}

// New returns an event stamped with the current time.
func New(op Op, src Source, before, after map[string]any) Event {
	return Event{Before: before, After: after, Source: src, Op: op, TsMs: time.Now().UnixMilli()}
}

// Topic returns `prefix<sep>schema<sep>table<sep>op`, e.g.
// `pgcrud.public.invoice.c`.
func (e Event) Topic(prefix, sep string) string {
	parts := make([]string, 0, 4)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, e.Source.Schema, e.Source.Table, string(e.Op))
	return strings.Join(parts, sep)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
