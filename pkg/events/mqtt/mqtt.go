// Package mqtt publishes change events to an MQTT broker on topics
// `<prefix>/<schema>/<table>/<op>`.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the broker connection settings.
type Config struct {
	Servers        []string      `mapstructure:"servers"`
	ClientID       string        `mapstructure:"clientID"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topicPrefix"`
	QoS            byte          `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	TLS            *TLSOptions   `mapstructure:"tls"`
}

// TLSOptions holds TLS configuration that can be decoded from YAML.
type TLSOptions struct {
	InsecureSkipVerify bool   `mapstructure:"insecureSkipVerify"`
	ServerName         string `mapstructure:"serverName"`
	CAFile             string `mapstructure:"caFile"`
	CertFile           string `mapstructure:"certFile"`
	KeyFile            string `mapstructure:"keyFile"`
}

// ClientOptions converts c to paho options.
func (c Config) ClientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	servers := c.Servers
	if len(servers) == 0 {
		servers = []string{"tcp://localhost:1883"}
	}
	for _, s := range servers {
		opts.AddBroker(s)
	}
	clientID := c.ClientID
	if clientID == "" {
		clientID = "pgcrud-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
	}
	if c.Password != "" {
		opts.SetPassword(c.Password)
	}
	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)

	if c.TLS != nil {
		tlsConfig, err := createTLSConfig(c.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

func createTLSConfig(o *TLSOptions) (*tls.Config, error) {
	config := &tls.Config{
		InsecureSkipVerify: o.InsecureSkipVerify,
		ServerName:         o.ServerName,
	}
	if o.CAFile != "" {
		ca, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, errors.New("no certificates in CA file")
		}
		config.RootCAs = pool
	}
	if o.CertFile != "" && o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

// Sink publishes events with a paho client.
type Sink struct {
	client mqtt.Client
	cfg    Config
	logger *zap.Logger
}

func init() {
	events.Register(events.SinkMQTT, func() events.Sink { return &Sink{} })
}

// NewSink returns a sink over a connected client.
func NewSink(client mqtt.Client, cfg Config, logger *zap.Logger) *Sink {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "pgcrud"
	}
	return &Sink{client: client, cfg: cfg, logger: logger}
}

func (s *Sink) Connect(raw map[string]any, logger *zap.Logger) error {
	if err := events.DecodeConfig(raw, &s.cfg); err != nil {
		return fmt.Errorf("decode MQTT config: %w", err)
	}
	if s.cfg.TopicPrefix == "" {
		s.cfg.TopicPrefix = "pgcrud"
	}
	s.logger = logger

	opts, err := s.cfg.ClientOptions()
	if err != nil {
		return err
	}
	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("broker connection error: %w", token.Error())
	}
	return nil
}

// Publish implements events.Publisher. It waits for the broker's
// acknowledgement or ctx, whichever comes first.
func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	if s.client == nil {
		return errors.New("mqtt client not initialized")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := e.Topic(s.cfg.TopicPrefix, "/")
	token := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retained, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	s.logger.Debug("event published", zap.String("topic", topic))
	return nil
}

func (s *Sink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}
