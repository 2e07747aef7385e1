// Package schema caches the table metadata of a PostgreSQL database and turns
// it into the models resources are generated from.
//
// The cache reloads when `NOTIFY pgcrud, 'reload schema'` is sent, following
// PostgREST's schema cache convention.
package schema

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	reloadChannel = "pgcrud"
	reloadPayload = "reload schema"
)

type TableType string

const (
	TypeTable            TableType = "TABLE"
	TypeView             TableType = "VIEW"
	TypeMaterializedView TableType = "MATERIALIZED VIEW"
)

type Table struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Type        TableType    `json:"type"`
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// FullName returns schema.name.
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
	// HasDefault is set for columns with a default, identity or generated
	// value.
	HasDefault bool `json:"has_default"`
	MaxLength  int  `json:"max_length,omitempty"`
}

// ForeignKey is one column of a foreign key constraint.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedSchema string `json:"referenced_schema"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Cache holds the tables of the configured schemas, keyed by FullName.
type Cache struct {
	pool    *pgxpool.Pool
	schemas []string
	logger  *zap.Logger

	mu     sync.RWMutex
	tables map[string]Table
	watch  chan map[string]Table

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCache returns an empty cache over pool. With schemas set only those are
// loaded, otherwise every non-system schema.
func NewCache(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, schemas ...string) (*Cache, error) {
	if pool == nil {
		return nil, errors.New("schema: nil pool")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		pool:    pool,
		schemas: schemas,
		logger:  logger,
		tables:  make(map[string]Table),
		watch:   make(chan map[string]Table, 1),
	}, nil
}

// Init loads the tables and starts listening for reload notifications on a
// dedicated connection. A lost listener connection is re-established with
// backoff and followed by a reload.
func (c *Cache) Init(ctx context.Context) error {
	if err := c.Reload(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	conn, err := c.listen(ctx)
	if err != nil {
		return err
	}

	ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	go c.run(ctx, conn)
	return nil
}

// Close stops listening. The pool stays open.
func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Watch delivers a snapshot after every reload. Snapshots nobody receives are
// replaced by newer ones.
func (c *Cache) Watch() <-chan map[string]Table {
	return c.watch
}

// Snapshot returns a copy of the cached tables.
func (c *Cache) Snapshot() map[string]Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.tables)
}

// Handler serves the cached tables as JSON.
func (c *Cache) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, c.Snapshot())
	})
}

// Reload reads the catalog and publishes the result to Watch.
func (c *Cache) Reload(ctx context.Context) error {
	tables, err := load(ctx, c.pool, c.schemas)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()

	snap := maps.Clone(tables)
	for {
		select {
		case c.watch <- snap:
			return nil
		default:
		}
		select {
		case <-c.watch:
		default:
		}
	}
}

func (c *Cache) listen(ctx context.Context) (*pgx.Conn, error) {
	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema: acquire listener: %w", err)
	}
	conn := pc.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+reloadChannel); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("schema: listen: %w", err)
	}
	return conn, nil
}

func (c *Cache) run(ctx context.Context, conn *pgx.Conn) {
	defer close(c.done)
	defer func() {
		if conn != nil {
			conn.Close(context.Background())
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("schema listener lost", zap.Error(err))
			conn.Close(context.Background())
			if conn, err = c.reconnect(ctx); err != nil {
				return
			}
			n = nil
		} else if n.Payload != reloadPayload {
			continue
		}

		if err := c.Reload(ctx); err != nil {
			c.logger.Error("reload schema cache", zap.Error(err))
			continue
		}
		c.logger.Info("schema cache reloaded", zap.Bool("notified", n != nil))
	}
}

// reconnect retries listen until it succeeds or ctx is done.
func (c *Cache) reconnect(ctx context.Context) (*pgx.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return backoff.RetryNotifyWithData(func() (*pgx.Conn, error) {
		return c.listen(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Warn("schema listener reconnect", zap.Error(err), zap.Duration("retry_in", wait))
	})
}
