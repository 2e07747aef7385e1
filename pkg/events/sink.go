package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Sink is a named event destination.
type Sink interface {
	Publisher
	// Connect initializes the sink from its raw configuration.
	Connect(cfg map[string]any, logger *zap.Logger) error
	Close() error
}

// Predefined sink types
const (
	SinkLog     = "log"
	SinkKafka   = "kafka"
	SinkMQTT    = "mqtt"
	SinkNATS    = "nats"
	SinkWebhook = "webhook"
)

var (
	ErrUnknownSink = errors.New("unknown sink type")

	mu    sync.RWMutex
	sinks = map[string]func() Sink{
		SinkLog: func() Sink { return &LogSink{} },
	}
)

// Register makes a sink type available to Open.
func Register(typ string, factory func() Sink) {
	mu.Lock()
	defer mu.Unlock()
	sinks[typ] = factory
}

// Types returns the registered sink types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(sinks))
	for typ := range sinks {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}

// SinkConfig configures one sink instance.
type SinkConfig struct {
	Name   string         `mapstructure:"name"`
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
}

type namedSink struct {
	name string
	Sink
}

// Dispatcher fans events out to every configured sink.
type Dispatcher struct {
	sinks  []namedSink
	logger *zap.Logger
}

var _ Publisher = (*Dispatcher)(nil)

// Open connects every configured sink. On failure the sinks opened so far are
// closed.
func Open(cfgs []SinkConfig, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{logger: logger}
	for _, c := range cfgs {
		mu.RLock()
		factory, ok := sinks[c.Type]
		mu.RUnlock()
		if !ok {
			d.Close()
			return nil, fmt.Errorf("sink %s: %w: %q", c.Name, ErrUnknownSink, c.Type)
		}
		s := factory()
		if err := s.Connect(c.Config, logger.With(zap.String("sink", c.Name))); err != nil {
			d.Close()
			return nil, fmt.Errorf("connect sink %s: %w", c.Name, err)
		}
		d.Add(c.Name, s)
	}
	return d, nil
}

// Add registers an already connected sink under name.
func (d *Dispatcher) Add(name string, s Sink) {
	if name == "" {
		name = fmt.Sprintf("sink%d", len(d.sinks))
	}
	d.sinks = append(d.sinks, namedSink{name: name, Sink: s})
}

// Publish delivers e to every sink. All sinks are attempted; their errors are
// joined.
func (d *Dispatcher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Publish(ctx, e); err != nil {
			metrics.PublishErrors.WithLabelValues(s.name).Inc()
			d.logger.Warn("publish event", zap.String("sink", s.name), zap.String("topic", e.Topic("", ".")), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(s.name).Inc()
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (d *Dispatcher) Len() int { return len(d.sinks) }

// Close closes every sink.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	d.sinks = nil
	return errors.Join(errs...)
}

// DecodeConfig decodes a raw sink configuration into out, honoring
// mapstructure tags.
func DecodeConfig(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
