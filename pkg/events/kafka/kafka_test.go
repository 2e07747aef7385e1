package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSinkPublish(t *testing.T) {
	conf := mocks.NewTestConfig()
	conf.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, conf)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "billing.public.invoice.d" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		k, _ := msg.Key.Encode()
		if string(k) != "i1" {
			return errors.New("unexpected key " + string(k))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := NewSink(producer, Config{TopicPrefix: "billing"}, zaptest.NewLogger(t))
	e := events.New(events.OpDelete, events.Source{Schema: "public", Table: "invoice"}, map[string]any{"id": "i1"}, nil)

	require.NoError(t, s.Publish(context.Background(), e))
	err := s.Publish(context.Background(), e)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, s.Close())
}

func TestSaramaConfig(t *testing.T) {
	cfg := Config{SASL: SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha512"}}
	defaults(&cfg)
	conf, err := cfg.SaramaConfig()
	require.NoError(t, err)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), conf.Net.SASL.Mechanism)
	assert.NotNil(t, conf.Net.SASL.SCRAMClientGeneratorFunc())
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)

	cfg.SASL.Algorithm = "md5"
	_, err = cfg.SaramaConfig()
	assert.Error(t, err)

	cfg = Config{Version: "not-a-version"}
	_, err = cfg.SaramaConfig()
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	e := events.New(events.OpCreate, events.Source{}, nil, map[string]any{"id": 7})
	assert.Equal(t, "7", key(e, "id"))
	assert.Empty(t, key(e, "uuid"))

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"op":"c"`)
}

func TestScramClient(t *testing.T) {
	c := &scramClient{HashGeneratorFcn: SHA256}
	require.NoError(t, c.Begin("user", "pencil", ""))
	first, err := c.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=user")
	assert.False(t, c.Done())
}
