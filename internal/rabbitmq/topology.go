package rabbitmq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Fixed broker topology shared by the API and the settlement worker.
const (
	ExchangeName = "orders"
	QueueName    = "orders"
	RoutingKey   = "orders.create"
	Prefetch     = 1
)

type Topology struct {
	Exchange   string
	Kind       string
	Queue      string
	RoutingKey string
}

func OrdersTopology() Topology {
	return Topology{
		Exchange:   ExchangeName,
		Kind:       amqp.ExchangeDirect,
		Queue:      QueueName,
		RoutingKey: RoutingKey,
	}
}

// declarer is the subset of *amqp.Channel used to declare the topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare creates the durable exchange, the durable queue and the binding.
// Re-declaring with identical properties is a no-op on the broker.
func (t Topology) Declare(ch declarer) error {
	if err := ch.ExchangeDeclare(t.Exchange, t.Kind, true, false, false, false, nil); err != nil {
		return classify("exchange "+t.Exchange, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, nil); err != nil {
		return classify("queue "+t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return classify(fmt.Sprintf("binding %s->%s (%s)", t.Exchange, t.Queue, t.RoutingKey), err)
	}
	return nil
}

func classify(what string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return fmt.Errorf("%w: %s: %s", ErrTopologyConflict, what, amqpErr.Reason)
	}
	return fmt.Errorf("%w: declare %s: %v", ErrConnectivity, what, err)
}
