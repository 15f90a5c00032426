package rabbitmq

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer subscribes to the orders queue on a dedicated channel with manual
// acknowledgement and a prefetch of one, so the broker never hands this
// consumer a second message before the first is acked or rejected.
type Consumer struct {
	client   *Client
	queue    string
	tag      string
	prefetch int

	mu sync.Mutex
	ch *amqp.Channel
}

func NewConsumer(client *Client, tag string) *Consumer {
	if tag == "" {
		tag = "orders-worker-" + uuid.NewString()
	}
	return &Consumer{
		client:   client,
		queue:    client.Topology().Queue,
		tag:      tag,
		prefetch: Prefetch,
	}
}

func (c *Consumer) Tag() string { return c.tag }

func (c *Consumer) Consume() (<-chan amqp.Delivery, error) {
	ch, err := c.client.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: qos: %v", ErrConnectivity, err)
	}

	deliveries, err := ch.Consume(c.queue, c.tag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: consume %s: %v", ErrConnectivity, c.queue, err)
	}

	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()
	return deliveries, nil
}

// Cancel stops new deliveries. Deliveries already buffered but not acked go
// back to the queue when the channel is closed.
func (c *Consumer) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil
	}
	return c.ch.Cancel(c.tag, false)
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil
	}
	err := c.ch.Close()
	c.ch = nil
	return err
}
