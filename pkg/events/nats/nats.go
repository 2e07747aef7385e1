// Package nats publishes change events to a NATS JetStream stream.
//
// Subjects are `<prefix>.<schema>.<table>.<op>`, e.g.
// `pgcrud.public.invoice.c`. The stream captures `<prefix>.>` and is created
// or updated on connect.
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var errConnNotInitialized = errors.New("NATS connection not initialized")

// Config represents NATS configuration
type Config struct {
	Servers       []string `mapstructure:"servers"`
	Stream        string   `mapstructure:"stream"`
	SubjectPrefix string   `mapstructure:"subjectPrefix"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	TLS           struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"certFile"`
		KeyFile  string `mapstructure:"keyFile"`
		CAFile   string `mapstructure:"caFile"`
	} `mapstructure:"tls"`
}

// Sink publishes events to JetStream.
type Sink struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	logger *zap.Logger
}

func init() {
	events.Register(events.SinkNATS, func() events.Sink { return &Sink{} })
}

// Connect establishes a connection to the first reachable server and ensures
// the stream exists.
func (s *Sink) Connect(raw map[string]any, logger *zap.Logger) error {
	if err := events.DecodeConfig(raw, &s.cfg); err != nil {
		return fmt.Errorf("decode NATS config: %w", err)
	}
	s.logger = logger
	if len(s.cfg.Servers) == 0 {
		s.cfg.Servers = []string{nats.DefaultURL}
	}
	s.cfg.SubjectPrefix = cmp.Or(s.cfg.SubjectPrefix, "pgcrud")
	s.cfg.Stream = cmp.Or(s.cfg.Stream, s.cfg.SubjectPrefix+"-events")

	opts := options(s.cfg)
	var err error
	for _, server := range s.cfg.Servers {
		if s.nc, err = nats.Connect(server, opts...); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if s.js, err = s.nc.JetStream(); err != nil {
		s.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}
	if err := s.ensureStream(); err != nil {
		s.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

// Publish implements events.Publisher.
func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	if s.js == nil {
		return errConnNotInitialized
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.js.Publish(e.Topic(s.cfg.SubjectPrefix, "."), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close drains the connection.
func (s *Sink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

func (s *Sink) ensureStream() error {
	want := &nats.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: []string{s.cfg.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	info, err := s.js.StreamInfo(s.cfg.Stream)
	if err == nil {
		if !streamConfigEqual(info.Config, *want) {
			if _, err = s.js.UpdateStream(want); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			s.logger.Info("updated stream", zap.String("stream", s.cfg.Stream))
		}
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}
	if _, err := s.js.AddStream(want); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	s.logger.Info("created stream", zap.String("stream", s.cfg.Stream))
	return nil
}

func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name && a.Storage == b.Storage && a.Replicas == b.Replicas &&
		slices.Equal(a.Subjects, b.Subjects)
}

func options(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}
	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	if c.TLS.Enabled {
		if c.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(c.TLS.CAFile))
		}
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile))
		}
	}
	return opts
}
