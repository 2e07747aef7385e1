package pgx

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig configures the connection pool serving API requests.
type PoolConfig struct {
	ConnString string `mapstructure:"connString"`
	// ConnectTimeout bounds the retries of the initial ping (default 30s).
	ConnectTimeout  time.Duration `mapstructure:"connectTimeout"`
	MaxConns        int32         `mapstructure:"maxConns"`
	MinConns        int32         `mapstructure:"minConns"`
	MaxConnIdleTime time.Duration `mapstructure:"maxConnIdleTime"`
	// ApplicationName is reported in pg_stat_activity (default "pgcrud").
	ApplicationName string `mapstructure:"applicationName"`
}

const (
	defaultConnectTimeout  = 30 * time.Second
	defaultApplicationName = "pgcrud"
)

var ErrNoConnString = errors.New("pgx: connection string required")

// ParseConfig turns c into a pgxpool config. Zero fields keep the values
// parsed from the connection string.
func (c PoolConfig) ParseConfig() (*pgxpool.Config, error) {
	if c.ConnString == "" {
		return nil, ErrNoConnString
	}
	pc, err := pgxpool.ParseConfig(c.ConnString)
	if err != nil {
		return nil, fmt.Errorf("pgx: %w", err)
	}
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		pc.MinConns = c.MinConns
	}
	if c.MinConns > pc.MaxConns {
		return nil, fmt.Errorf("pgx: minConns %d exceeds maxConns %d", c.MinConns, pc.MaxConns)
	}
	if c.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if _, ok := pc.ConnConfig.RuntimeParams["application_name"]; !ok {
		pc.ConnConfig.RuntimeParams["application_name"] = cmp.Or(c.ApplicationName, defaultApplicationName)
	}
	return pc, nil
}

// Open creates a pool and pings the server with exponential backoff until
// it answers or ConnectTimeout passes.
func Open(ctx context.Context, c PoolConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	pc, err := c.ParseConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgx: creating pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cmp.Or(c.ConnectTimeout, defaultConnectTimeout)
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(func() error { return pool.Ping(ctx) }, backoff.WithContext(b, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx: ping %s: %w", pc.ConnConfig.Host, err)
	}

	logger.Info("connected",
		zap.String("host", pc.ConnConfig.Host),
		zap.String("database", pc.ConnConfig.Database),
		zap.Int32("max_conns", pc.MaxConns),
	)
	return pool, nil
}
