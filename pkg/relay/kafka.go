package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// kafkaRelay 基于 Kafka Topic
// 以房间号为消息 Key，同一房间的广播落在同一分区内保持顺序
// 每个实例从最新位点消费全部分区，不使用消费组
type kafkaRelay struct {
	producer sarama.AsyncProducer
	consumer sarama.Consumer
	topic    string
	log      logger.Logger

	mu      sync.RWMutex
	closed  bool
	drained chan struct{}
}

func newKafkaRelay(cfg *Config, log logger.Logger) (Relay, error) {
	sc, err := saramaConfig(cfg.Kafka)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewAsyncProducer(cfg.Kafka.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("relay: create kafka producer: %w", err)
	}

	consumer, err := sarama.NewConsumer(cfg.Kafka.Brokers, sc)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("relay: create kafka consumer: %w", err)
	}

	return newKafkaRelayWith(producer, consumer, cfg.Channel, log), nil
}

// newKafkaRelayWith 使用已有的 producer/consumer，producer 需开启 Return.Errors
func newKafkaRelayWith(producer sarama.AsyncProducer, consumer sarama.Consumer, topic string, log logger.Logger) *kafkaRelay {
	k := &kafkaRelay{
		producer: producer,
		consumer: consumer,
		topic:    topic,
		log:      log,
		drained:  make(chan struct{}),
	}
	go k.drainErrors()
	return k
}

// saramaConfig 构造 sarama 配置
func saramaConfig(kc *KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true // 由 drainErrors 读取
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Consumer.Return.Errors = true

	if kc.ClientID != "" {
		sc.ClientID = kc.ClientID
	}
	if kc.Version != "" {
		v, err := sarama.ParseKafkaVersion(kc.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: kafka version: %v", ErrInvalidConfig, err)
		}
		sc.Version = v
	}
	return sc, nil
}

// drainErrors 记录异步发送失败，producer 关闭后退出
func (k *kafkaRelay) drainErrors() {
	defer close(k.drained)
	for perr := range k.producer.Errors() {
		room := ""
		if perr.Msg != nil && perr.Msg.Key != nil {
			if key, err := perr.Msg.Key.Encode(); err == nil {
				room = string(key)
			}
		}
		k.log.Warn("kafka publish failed",
			zap.String("driver", "kafka"),
			zap.String("room_id", room),
			zap.Error(perr.Err),
		)
	}
}

// Publish 投入发送队列即返回，发送结果由 drainErrors 记录
// 队列满时最多等到 ctx 结束
func (k *kafkaRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return ErrClosed
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(env.Room),
		Value: sarama.ByteEncoder(data),
	}
	select {
	case k.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe 消费 Topic 的全部分区
func (k *kafkaRelay) Subscribe(ctx context.Context, handler Handler) error {
	partitions, err := k.consumer.Partitions(k.topic)
	if err != nil {
		return fmt.Errorf("relay: list partitions: %w", err)
	}

	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	defer func() {
		for _, pc := range pcs {
			pc.AsyncClose()
		}
	}()

	for _, p := range partitions {
		pc, err := k.consumer.ConsumePartition(k.topic, p, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("relay: consume partition %d: %w", p, err)
		}
		pcs = append(pcs, pc)
	}

	var wg sync.WaitGroup
	for _, pc := range pcs {
		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			k.consumePartition(ctx, pc, handler)
		}(pc)
	}
	wg.Wait()
	return nil
}

func (k *kafkaRelay) consumePartition(ctx context.Context, pc sarama.PartitionConsumer, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			env, err := decode(msg.Value)
			if err != nil {
				k.log.Warn("drop malformed relay envelope",
					zap.String("driver", "kafka"),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
				continue
			}
			handler(env)
		case cerr, ok := <-pc.Errors():
			if !ok {
				return
			}
			k.log.Warn("kafka partition consumer error", zap.Error(cerr))
		}
	}
}

// Close 停止接收新消息，等待已入队的消息发送完成
func (k *kafkaRelay) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	k.producer.AsyncClose()
	<-k.drained
	return k.consumer.Close()
}
