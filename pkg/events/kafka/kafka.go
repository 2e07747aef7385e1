// Package kafka publishes change events to Kafka topics named
// `<prefix>.<schema>.<table>.<op>`. Messages are keyed by the row's primary
// key so that changes of one row stay ordered within a partition.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/edgeflare/pgcrud/pkg/events"
	"go.uber.org/zap"
)

// Config represents Kafka-specific configuration
type Config struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topicPrefix"`
	Version     string   `mapstructure:"version"`
	// KeyField names the row field used as message key.
	KeyField string `mapstructure:"keyField"`
	SASL     SASL   `mapstructure:"sasl"`
	TLS      TLS    `mapstructure:"tls"`
}

// SASL represents SASL authentication configuration
type SASL struct {
	Enable    bool   `mapstructure:"enable"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Algorithm string `mapstructure:"algorithm"` // sha256, sha512 or plain
}

// TLS represents TLS configuration
type TLS struct {
	Enable     bool   `mapstructure:"enable"`
	CertFile   string `mapstructure:"certFile"`
	KeyFile    string `mapstructure:"keyFile"`
	CAFile     string `mapstructure:"caFile"`
	SkipVerify bool   `mapstructure:"skipVerify"`
}

func defaults(c *Config) {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "pgcrud"
	}
	if c.Version == "" {
		c.Version = "2.1.1"
	}
	if c.KeyField == "" {
		c.KeyField = "id"
	}
}

// SaramaConfig converts c to a producer configuration.
func (c *Config) SaramaConfig() (*sarama.Config, error) {
	conf := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid Kafka version: %w", err)
	}
	conf.Version = version

	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Retry.Max = 5
	conf.Producer.Retry.Backoff = time.Second
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	conf.ClientID = "pgcrud"

	if c.SASL.Enable {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true

		switch c.SASL.Algorithm {
		case "sha512":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &scramClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "sha256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &scramClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "", "plain":
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, fmt.Errorf("invalid SASL algorithm: %s", c.SASL.Algorithm)
		}
	}

	if c.TLS.Enable {
		tlsConfig, err := tlsConfig(c.TLS)
		if err != nil {
			return nil, err
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}
	return conf, nil
}

func tlsConfig(c TLS) (*tls.Config, error) {
	t := &tls.Config{InsecureSkipVerify: c.SkipVerify}
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		t.Certificates = []tls.Certificate{cert}
	}
	if c.CAFile != "" {
		ca, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, errors.New("no certificates in CA file")
		}
		t.RootCAs = pool
	}
	return t, nil
}

// Sink publishes events with a synchronous producer.
type Sink struct {
	producer sarama.SyncProducer
	cfg      Config
	logger   *zap.Logger
}

func init() {
	events.Register(events.SinkKafka, func() events.Sink { return &Sink{} })
}

// NewSink returns a sink over an existing producer.
func NewSink(producer sarama.SyncProducer, cfg Config, logger *zap.Logger) *Sink {
	defaults(&cfg)
	return &Sink{producer: producer, cfg: cfg, logger: logger}
}

func (s *Sink) Connect(raw map[string]any, logger *zap.Logger) error {
	if err := events.DecodeConfig(raw, &s.cfg); err != nil {
		return fmt.Errorf("decode Kafka config: %w", err)
	}
	defaults(&s.cfg)
	s.logger = logger

	conf, err := s.cfg.SaramaConfig()
	if err != nil {
		return err
	}
	if s.producer, err = sarama.NewSyncProducer(s.cfg.Brokers, conf); err != nil {
		return fmt.Errorf("create Kafka producer: %w", err)
	}
	return nil
}

// Publish implements events.Publisher. Topics are created by the broker on
// first use when auto creation is enabled.
func (s *Sink) Publish(_ context.Context, e events.Event) error {
	if s.producer == nil {
		return errors.New("kafka producer not initialized")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: e.Topic(s.cfg.TopicPrefix, "."),
		Value: sarama.ByteEncoder(data),
	}
	if k := key(e, s.cfg.KeyField); k != "" {
		msg.Key = sarama.StringEncoder(k)
	}
	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	s.logger.Debug("event produced",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (s *Sink) Close() error {
	if s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

// key returns the row key of e, taken from After or, for deletes, Before.
func key(e events.Event, field string) string {
	row := e.After
	if row == nil {
		row = e.Before
	}
	if v, ok := row[field]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
