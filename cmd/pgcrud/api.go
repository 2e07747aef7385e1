package pgcrud

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/events"
	_ "github.com/edgeflare/pgcrud/pkg/events/kafka"
	_ "github.com/edgeflare/pgcrud/pkg/events/mqtt"
	_ "github.com/edgeflare/pgcrud/pkg/events/nats"
	"github.com/edgeflare/pgcrud/pkg/events/wal"
	_ "github.com/edgeflare/pgcrud/pkg/events/webhook"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	mw "github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/model"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/pgx/schema"
	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/edgeflare/pgcrud/pkg/store/pgstore"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// app holds everything built from the configuration.
type app struct {
	pool   *pgxpool.Pool
	cache  *schema.Cache
	events *events.Dispatcher
	api    *rest.API
	repl   *pgconn.PgConn
}

func (a *app) Close() {
	if a.repl != nil {
		a.repl.Close(context.Background())
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// newApp connects to the database, generates models from its tables and
// builds the configured resources. The returned app must be closed.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	if cfg.REST.PG.ConnString == "" {
		return nil, errors.New("PostgreSQL connection string required (rest.pg.connString)")
	}
	if len(cfg.Resources) == 0 {
		return nil, errors.New("no resources configured")
	}

	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.pool, err = pg.Open(ctx, cfg.REST.PG.PoolConfig, logger.Named("pg"))
	if err != nil {
		return nil, err
	}

	a.cache, err = schema.NewCache(ctx, a.pool, logger.Named("schema"), cfg.REST.PG.Schemas...)
	if err != nil {
		return nil, err
	}
	if err := a.cache.Init(ctx); err != nil {
		return nil, err
	}
	<-a.cache.Watch() // initial load

	models, err := schema.Models(a.cache.Snapshot(), schema.ModelOptions{
		Tables:  cfg.Models.Tables,
		Choices: cfg.Models.Choices,
	})
	if err != nil {
		return nil, err
	}
	reg, err := model.NewRegistry(models...)
	if err != nil {
		return nil, fmt.Errorf("models: %w", err)
	}
	roots, err := config.BuildResources(reg, cfg.Resources)
	if err != nil {
		return nil, err
	}

	a.events, err = events.Open(cfg.Events, logger.Named("events"))
	if err != nil {
		return nil, err
	}

	var pub events.Publisher = a.events
	if cfg.Replication != nil {
		pub = events.Nop{}
	}
	st := pgstore.New(a.pool, pgstore.WithLogger(logger.Named("store")))
	a.api = rest.NewAPI(st, roots,
		rest.WithLogger(logger.Named("rest")),
		rest.WithPublisher(pub),
		rest.WithInfo(rest.OpenAPIInfo{Title: cfg.REST.Title, Version: config.Version}),
	)
	if err := a.api.Init(); err != nil {
		return nil, err
	}
	return a, nil
}

// replicate relays write-ahead log changes to the event sinks until ctx is
// done.
func (a *app) replicate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var err error
	a.repl, err = wal.Connect(ctx, cfg.REST.PG.ConnString)
	if err != nil {
		return fmt.Errorf("replication connection: %w", err)
	}
	ch, err := wal.Stream(ctx, a.repl, *cfg.Replication, logger)
	if err != nil {
		return err
	}
	go wal.Relay(ctx, ch, a.events, logger)
	return nil
}

// authMiddleware returns the authenticators enabled in cfg followed by the
// middleware resolving the caller from their results.
func authMiddleware(ctx context.Context, cfg config.AuthConfig) ([]httputil.Middleware, error) {
	if cfg.JWT != nil && cfg.OIDC != nil {
		return nil, errors.New("auth: jwt and oidc both claim bearer tokens; enable one")
	}

	var (
		chain     []httputil.Middleware
		resolvers []mw.AccessFunc
	)
	if cfg.JWT != nil {
		if cfg.JWT.Secret == "" {
			return nil, errors.New("auth: jwt.secret is required")
		}
		chain = append(chain, mw.VerifyJWT(*cfg.JWT, false))
		resolvers = append(resolvers, mw.WithJWTAccess(cfg.Claims))
	}
	if cfg.OIDC != nil {
		provider, err := mw.NewOIDCProvider(ctx, *cfg.OIDC)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		chain = append(chain, provider.VerifyToken(false))
		resolvers = append(resolvers, mw.WithOIDCAccess(cfg.Claims))
	}
	if cfg.Basic != nil {
		chain = append(chain, mw.VerifyBasicAuth(cfg.Basic, false))
		resolvers = append(resolvers, mw.WithBasicAccess(cfg.Basic))
	}
	if cfg.Anonymous != nil {
		resolvers = append(resolvers, mw.WithAnonAccess(cfg.Anonymous.Tenant, cfg.Anonymous.Scopes...))
	}
	if len(resolvers) == 0 {
		return nil, nil
	}
	return append(chain, mw.ResolveAccess(resolvers...)), nil
}
