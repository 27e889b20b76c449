package relay

import (
	"fmt"

	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/logger"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverNone  DriverType = "none"
	DriverRedis DriverType = "redis"
	DriverAMQP  DriverType = "amqp"
	DriverKafka DriverType = "kafka"
)

// Config 中转配置
type Config struct {
	Driver DriverType `mapstructure:"driver"`

	// 频道 / 交换机 / Topic 名称
	Channel string `mapstructure:"channel"`

	Redis *cache.RedisConfig `mapstructure:"redis"`
	AMQP  *AMQPConfig        `mapstructure:"amqp"`
	Kafka *KafkaConfig       `mapstructure:"kafka"`
}

// AMQPConfig RabbitMQ 配置
type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Version  string   `mapstructure:"version"`
}

// DefaultConfig 默认不启用跨实例转发
func DefaultConfig() *Config {
	return &Config{
		Driver:  DriverNone,
		Channel: "cliphub.broadcast",
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverNone, "":
		return nil
	case DriverRedis:
		if c.Redis == nil {
			return fmt.Errorf("%w: redis config is required", ErrInvalidConfig)
		}
	case DriverAMQP:
		if c.AMQP == nil || c.AMQP.URL == "" {
			return fmt.Errorf("%w: amqp url is required", ErrInvalidConfig)
		}
	case DriverKafka:
		if c.Kafka == nil || len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: kafka brokers are required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, c.Driver)
	}

	if c.Channel == "" {
		return fmt.Errorf("%w: channel is required", ErrInvalidConfig)
	}
	return nil
}

// New 根据配置创建中转
func New(cfg *Config, log logger.Logger) (Relay, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverRedis:
		return newRedisRelay(cfg, log)
	case DriverAMQP:
		return newAMQPRelay(cfg, log)
	case DriverKafka:
		return newKafkaRelay(cfg, log)
	default:
		return None{}, nil
	}
}
