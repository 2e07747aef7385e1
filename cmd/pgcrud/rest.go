package pgcrud

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	mw "github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Start the REST API server",
	Long:  `Serves the configured resources over HTTP, with their OpenAPI document at <basePath>/openapi.json`,
	RunE:  runRESTServer,
}

func init() {
	f := restCmd.Flags()
	f.StringP("rest.listenAddr", "l", "", "REST server listen address")
	f.String("rest.basePath", "", "Path the generated routes are mounted under")
	f.Bool("metrics.enabled", false, "Serve prometheus metrics")

	v.BindPFlags(f)
}

func runRESTServer(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	router, err := newRouter(ctx, cfg, a, logger)
	if err != nil {
		return err
	}

	if cfg.Replication != nil {
		if err := a.replicate(ctx, cfg, logger.Named("wal")); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := metrics.Serve(ctx, metrics.ServerOptions{
				Addr:   cfg.Metrics.Addr,
				Path:   cfg.Metrics.Path,
				Logger: logger.Named("metrics"),
			})
			if err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	go func() {
		for range a.cache.Watch() {
			logger.Warn("database schema changed; restart to regenerate routes")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.ListenAndServe(cfg.REST.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.REST.ShutdownWait)
		defer cancel()
		if err := router.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
	}

	wg.Wait()
	logger.Info("server gracefully stopped")
	return nil
}

// newRouter mounts the API under the configured base path behind the
// request id, logging, CORS and authentication middleware.
func newRouter(ctx context.Context, cfg *config.Config, a *app, logger *zap.Logger) (*httputil.Router, error) {
	opts := []httputil.RouterOptions{httputil.WithLogger(logger.Named("server"))}
	if cfg.REST.TLS.CertFile != "" || cfg.REST.TLS.KeyFile != "" {
		opts = append(opts, httputil.WithTLS(cfg.REST.TLS.CertFile, cfg.REST.TLS.KeyFile))
	}
	router := httputil.NewRouter(opts...)

	cors := mw.CORSWithOptions(nil)
	if len(cfg.REST.CORSOrigins) > 0 {
		o := mw.DefaultCORSOptions()
		o.AllowedOrigins = cfg.REST.CORSOrigins
		cors = mw.CORSWithOptions(o)
	}
	router.Use(mw.RequestID, mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger.Named("http")}), cors)

	auth, err := authMiddleware(ctx, cfg.Auth)
	if err != nil {
		return nil, err
	}
	if len(auth) > 0 {
		router.Use(auth[0], auth[1:]...)
	} else {
		logger.Warn("no authenticator configured; routes requiring a caller answer 401")
	}

	rest.Mount(router, cfg.REST.BasePath, a.api)
	router.Handle("GET /schema", a.cache.Handler())
	return router, nil
}
