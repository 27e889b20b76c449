package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"empty driver", &Config{}, false},
		{"redis without config", &Config{Driver: DriverRedis, Channel: "c"}, true},
		{"redis", &Config{Driver: DriverRedis, Channel: "c", Redis: &cache.RedisConfig{Addr: "localhost:6379"}}, false},
		{"amqp without url", &Config{Driver: DriverAMQP, Channel: "c", AMQP: &AMQPConfig{}}, true},
		{"kafka without brokers", &Config{Driver: DriverKafka, Channel: "c", Kafka: &KafkaConfig{}}, true},
		{"kafka without topic", &Config{Driver: DriverKafka, Kafka: &KafkaConfig{Brokers: []string{"b:9092"}}}, true},
		{"unknown", &Config{Driver: "nats", Channel: "c"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewNone(t *testing.T) {
	r, err := New(nil, nil)
	require.NoError(t, err)
	assert.IsType(t, None{}, r)

	require.NoError(t, r.Publish(context.Background(), Envelope{Room: "000123"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Subscribe(ctx, func(Envelope) {}) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
	assert.NoError(t, r.Close())
}

func TestDecode(t *testing.T) {
	env := Envelope{ID: "1", Origin: "a", Room: "000123", Payload: json.RawMessage(`{"type":"text"}`)}
	data, err := encode(env)
	require.NoError(t, err)

	got, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.Room, got.Room)
	assert.JSONEq(t, `{"type":"text"}`, string(got.Payload))

	_, err = decode([]byte(`{"id":"x"}`))
	assert.Error(t, err)
	_, err = decode([]byte(`nope`))
	assert.Error(t, err)
}

func TestSaramaConfig(t *testing.T) {
	sc, err := saramaConfig(&KafkaConfig{ClientID: "cliphub-test", Version: "3.6.0"})
	require.NoError(t, err)
	assert.False(t, sc.Producer.Return.Successes)
	assert.True(t, sc.Producer.Return.Errors)
	assert.Equal(t, "cliphub-test", sc.ClientID)
	assert.Equal(t, sarama.V3_6_0_0, sc.Version)

	_, err = saramaConfig(&KafkaConfig{Version: "banana"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestKafkaPublish(t *testing.T) {
	sc := mocks.NewTestConfig()
	producer := mocks.NewAsyncProducer(t, sc)
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "000123" {
			return fmt.Errorf("key = %q", key)
		}
		val, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		env, err := decode(val)
		if err != nil {
			return err
		}
		if env.Room != "000123" {
			return assert.AnError
		}
		return nil
	})
	consumer := mocks.NewConsumer(t, sc)

	k := newKafkaRelayWith(producer, consumer, "cliphub.broadcast", logger.NewNop())
	err := k.Publish(context.Background(), Envelope{
		ID: "1", Origin: "a", Room: "000123", Payload: json.RawMessage(`{"type":"text"}`),
	})
	require.NoError(t, err)
	require.NoError(t, k.Close())

	err = k.Publish(context.Background(), Envelope{ID: "2", Origin: "a", Room: "000123", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, k.Close())
}

func TestKafkaPublishFailureIsLogged(t *testing.T) {
	var failures atomic.Int32
	log, err := logger.NewWithOptions(
		logger.WithFileOutput(filepath.Join(t.TempDir(), "relay.log")),
		logger.WithHook(logger.HookFunc(func(entry zapcore.Entry, _ []zapcore.Field) error {
			if entry.Message == "kafka publish failed" {
				failures.Add(1)
			}
			return nil
		})),
	)
	require.NoError(t, err)

	sc := mocks.NewTestConfig()
	producer := mocks.NewAsyncProducer(t, sc)
	producer.ExpectInputAndFail(sarama.ErrNotLeaderForPartition)
	consumer := mocks.NewConsumer(t, sc)

	k := newKafkaRelayWith(producer, consumer, "cliphub.broadcast", log)
	err = k.Publish(context.Background(), Envelope{ID: "1", Origin: "a", Room: "000123", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err, "delivery errors are reported asynchronously")

	require.NoError(t, k.Close())
	assert.Equal(t, int32(1), failures.Load())
}

func TestKafkaPublishCanceled(t *testing.T) {
	sc := mocks.NewTestConfig()
	k := newKafkaRelayWith(mocks.NewAsyncProducer(t, sc), mocks.NewConsumer(t, sc), "cliphub.broadcast", logger.NewNop())
	t.Cleanup(func() { _ = k.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := k.Publish(ctx, Envelope{ID: "1", Origin: "a", Room: "000123", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKafkaSubscribe(t *testing.T) {
	sc := mocks.NewTestConfig()
	producer := mocks.NewAsyncProducer(t, sc)
	consumer := mocks.NewConsumer(t, sc)
	consumer.SetTopicMetadata(map[string][]int32{"cliphub.broadcast": {0}})

	pc := consumer.ExpectConsumePartition("cliphub.broadcast", 0, sarama.OffsetNewest)
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`garbage`)})
	pc.YieldMessage(&sarama.ConsumerMessage{
		Value: []byte(`{"id":"1","origin":"b","room":"000123","payload":{"type":"record_delete"}}`),
	})

	k := newKafkaRelayWith(producer, consumer, "cliphub.broadcast", logger.NewNop())

	got := make(chan Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- k.Subscribe(ctx, func(env Envelope) { got <- env })
	}()

	select {
	case env := <-got:
		assert.Equal(t, "b", env.Origin)
		assert.Equal(t, "000123", env.Room)
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, k.Close())
}
