package relay

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// amqpRelay 基于 RabbitMQ fanout 交换机
// 每个实例声明一个独占的临时队列绑定到交换机
// 连接断开后在下一次发布或订阅时重新拨号
type amqpRelay struct {
	url      string
	exchange string
	log      logger.Logger

	mu     sync.Mutex // 保护连接，amqp.Channel 也不支持并发发布
	conn   *amqp.Connection
	pub    *amqp.Channel
	closed bool
}

func newAMQPRelay(cfg *Config, log logger.Logger) (Relay, error) {
	r := &amqpRelay{url: cfg.AMQP.URL, exchange: cfg.Channel, log: log}
	if err := r.dial(); err != nil {
		return nil, err
	}
	return r, nil
}

// dial 建立连接和发布通道，调用方持有 mu
func (r *amqpRelay) dial() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("relay: dial amqp: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("relay: open amqp channel: %w", err)
	}

	if err := declareExchange(pub, r.exchange); err != nil {
		_ = conn.Close()
		return err
	}

	r.conn, r.pub = conn, pub
	return nil
}

// ensure 连接或发布通道已关闭时重新拨号，调用方持有 mu
func (r *amqpRelay) ensure() error {
	if r.closed {
		return ErrClosed
	}
	if r.conn != nil && !r.conn.IsClosed() && r.pub != nil && !r.pub.IsClosed() {
		return nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.log.Info("amqp relay reconnecting", zap.String("driver", "amqp"))
	return r.dial()
}

func declareExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,     // name
		"fanout", // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("relay: declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish 发布到交换机
func (r *amqpRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensure(); err != nil {
		return err
	}

	return r.pub.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.ID,
		AppId:       env.Origin,
		Body:        data,
	})
}

// Subscribe 声明独占队列并消费
func (r *amqpRelay) Subscribe(ctx context.Context, handler Handler) error {
	r.mu.Lock()
	err := r.ensure()
	conn := r.conn
	r.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("relay: open amqp channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		"",    // 由服务端生成队列名
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("relay: declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("relay: bind queue: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("relay: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrClosed
			}
			env, err := decode(d.Body)
			if err != nil {
				r.log.Warn("drop malformed relay envelope", zap.String("driver", "amqp"), zap.Error(err))
				continue
			}
			handler(env)
		}
	}
}

func (r *amqpRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}
