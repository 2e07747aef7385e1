package metrics

import (
	"cmp"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerOptions configures Serve. Zero fields take the defaults noted.
type ServerOptions struct {
	Addr              string        // default ":9100"
	Path              string        // default "/metrics"
	ShutdownTimeout   time.Duration // default 5s
	ReadHeaderTimeout time.Duration // default 3s
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

func (o ServerOptions) withDefaults() ServerOptions {
	o.Addr = cmp.Or(o.Addr, ":9100")
	o.Path = cmp.Or(o.Path, "/metrics")
	o.ShutdownTimeout = cmp.Or(o.ShutdownTimeout, 5*time.Second)
	o.ReadHeaderTimeout = cmp.Or(o.ReadHeaderTimeout, 3*time.Second)
	if o.Gatherer == nil {
		o.Gatherer = prometheus.DefaultGatherer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Handler serves the metrics of g in the prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes metrics on opts.Addr until ctx is done, then shuts the
// listener down gracefully. It returns nil after a clean shutdown.
func Serve(ctx context.Context, opts ServerOptions) error {
	opts = opts.withDefaults()
	l, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return err
	}
	return serve(ctx, l, opts)
}

func serve(ctx context.Context, l net.Listener, opts ServerOptions) error {
	mux := http.NewServeMux()
	mux.Handle("GET "+opts.Path, Handler(opts.Gatherer))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: opts.ReadHeaderTimeout}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	opts.Logger.Info("serving metrics", zap.String("addr", l.Addr().String()), zap.String("path", opts.Path))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		opts.Logger.Warn("metrics server shutdown", zap.Error(err))
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
