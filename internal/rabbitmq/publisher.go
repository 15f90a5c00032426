package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type PublisherConfig struct {
	PoolSize      int           // idle confirm channels kept between publishes
	Timeout       time.Duration // publish + broker confirm
	FailThreshold int
	OpenFor       time.Duration
}

// Publisher publishes dispatch messages on pooled confirm-mode channels.
// A channel is checked out for exactly one publish and either returned to the
// pool or closed, on every exit path.
type Publisher struct {
	client  *Client
	topo    Topology
	breaker *Breaker
	timeout time.Duration
	size    int
	log     *zap.Logger

	mu     sync.Mutex
	idle   []*amqp.Channel
	closed bool
}

func NewPublisher(client *Client, cfg PublisherConfig, log *zap.Logger) *Publisher {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Publisher{
		client:  client,
		topo:    client.Topology(),
		breaker: NewBreaker(cfg.FailThreshold, cfg.OpenFor),
		timeout: cfg.Timeout,
		size:    cfg.PoolSize,
		log:     log,
	}
}

// Publish sends msg as a persistent message to the orders exchange and waits for
// the broker confirm. Every failure wraps ErrPublish.
func (p *Publisher) Publish(ctx context.Context, msg model.DispatchMessage) (err error) {
	if !p.breaker.Allow() {
		return fmt.Errorf("%w: %w", ErrPublish, ErrBreakerOpen)
	}
	defer func() {
		if err != nil {
			p.breaker.OnFailure()
			return
		}
		p.breaker.OnSuccess()
	}()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPublish, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ch, err := p.acquire()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	defer func() { p.release(ch, err) }()

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.topo.Exchange, p.topo.RoutingKey, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.OrderID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("%w: order %s: %v", ErrPublish, msg.OrderID, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: order %s: wait confirm: %v", ErrPublish, msg.OrderID, err)
	}
	if !acked {
		return fmt.Errorf("%w: order %s: broker nacked", ErrPublish, msg.OrderID)
	}
	return nil
}

func (p *Publisher) acquire() (*amqp.Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClientClosed
	}
	for len(p.idle) > 0 {
		ch := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if !ch.IsClosed() {
			p.mu.Unlock()
			return ch, nil
		}
	}
	p.mu.Unlock()

	ch, err := p.client.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: enable confirms: %v", ErrConnectivity, err)
	}
	return ch, nil
}

// release returns ch to the pool. A channel that took part in a failed publish
// may hold an unresolved confirm, so it is closed instead.
func (p *Publisher) release(ch *amqp.Channel, pubErr error) {
	if pubErr != nil || ch.IsClosed() {
		_ = ch.Close()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) >= p.size {
		_ = ch.Close()
		return
	}
	p.idle = append(p.idle, ch)
}

// BreakerOpen reports whether publishes are currently failing fast.
func (p *Publisher) BreakerOpen() bool {
	return p.breaker.Open()
}

// Close closes the idle channels. The connection belongs to the Client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for _, ch := range p.idle {
		_ = ch.Close()
	}
	p.idle = nil
	return nil
}
