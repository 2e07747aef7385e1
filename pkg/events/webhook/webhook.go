// Package webhook posts change events as JSON to an HTTP endpoint.
package webhook

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"go.uber.org/zap"
)

// Config configures a webhook sink.
type Config struct {
	URL        string            `mapstructure:"url"`
	Headers    map[string]string `mapstructure:"headers"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	MaxRetries int               `mapstructure:"maxRetries"`
}

// Sink posts every event to Config.URL. Transport errors, 5xx and 429
// responses are retried with exponential backoff.
type Sink struct {
	url    string
	client *httputil.Client
}

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
)

func init() {
	events.Register(events.SinkWebhook, func() events.Sink { return &Sink{} })
}

// NewSink returns a connected sink.
func NewSink(cfg Config, logger *zap.Logger) (*Sink, error) {
	s := &Sink{}
	if err := s.configure(cfg, logger); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) Connect(raw map[string]any, logger *zap.Logger) error {
	var cfg Config
	if err := events.DecodeConfig(raw, &cfg); err != nil {
		return fmt.Errorf("decode webhook config: %w", err)
	}
	return s.configure(cfg, logger)
}

func (s *Sink) configure(cfg Config, logger *zap.Logger) error {
	if cfg.URL == "" {
		return errors.New("webhook: url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	header := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	s.url = cfg.URL
	s.client = &httputil.Client{
		HTTP:   &http.Client{Timeout: cmp.Or(cfg.Timeout, defaultTimeout)},
		Header: header,
		Retry:  httputil.RetryPolicy{MaxRetries: cmp.Or(cfg.MaxRetries, defaultMaxRetries)},
		Logger: logger,
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	if s.client == nil {
		return errors.New("webhook: not connected")
	}
	h := http.Header{"X-Event-Topic": {e.Topic("", ".")}}
	if _, err := s.client.PostJSON(ctx, s.url, e, h); err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	return nil
}

func (s *Sink) Close() error { return nil }
