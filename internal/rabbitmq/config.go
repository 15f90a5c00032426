package rabbitmq

import (
	"github.com/jmehdipour/order-pipeline/internal/config"
	"go.uber.org/zap"
)

// DialFromConfig connects to the broker and declares the orders topology.
func DialFromConfig(c config.RabbitMQConfig, log *zap.Logger) (*Client, error) {
	return Dial(Config{
		URL:         c.URL,
		DialTimeout: c.DialTimeout,
		Heartbeat:   c.Heartbeat,
	}, OrdersTopology(), log)
}

func PublisherConfigFrom(c config.RabbitMQConfig) PublisherConfig {
	return PublisherConfig{
		PoolSize:      c.ChannelPoolSize,
		Timeout:       c.PublishTimeout,
		FailThreshold: c.Breaker.FailThreshold,
		OpenFor:       c.Breaker.OpenFor,
	}
}
