package rabbitmq

import (
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Config struct {
	URL         string
	DialTimeout time.Duration
	Heartbeat   time.Duration
}

// Client owns the process-wide broker connection. It dials lazily after a
// connection loss and declares the topology on every new connection before
// handing out channels from it.
type Client struct {
	cfg  Config
	topo Topology
	log  *zap.Logger
	dial func(url string, cfg amqp.Config) (*amqp.Connection, error)

	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

// Dial connects and declares topo. ErrConnectivity and ErrTopologyConflict are
// both fatal at startup.
func Dial(cfg Config, topo Topology, log *zap.Logger) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	c := &Client{cfg: cfg, topo: topo, log: log, dial: amqp.DialConfig}
	if _, err := c.connection(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Topology() Topology { return c.topo }

func (c *Client) connection() (*amqp.Connection, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	// dial unlocked: Healthy and Close must not wait on an unreachable broker
	dial := c.dial
	if dial == nil {
		dial = amqp.DialConfig
	}
	conn, err := dial(c.cfg.URL, amqp.Config{
		Heartbeat: c.cfg.Heartbeat,
		Dial:      amqp.DefaultDial(c.cfg.DialTimeout),
		Properties: amqp.Table{
			"connection_name": "order-pipeline",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrConnectivity, err)
	}
	if err := c.declare(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return nil, ErrClientClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		// a concurrent dial won
		_ = conn.Close()
		return c.conn, nil
	}

	reconnect := c.conn != nil
	c.conn = conn
	c.log.Info("rabbitmq connected",
		zap.Bool("reconnect", reconnect),
		zap.String("exchange", c.topo.Exchange),
		zap.String("queue", c.topo.Queue),
	)
	return conn, nil
}

func (c *Client) declare(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: open channel: %v", ErrConnectivity, err)
	}
	defer func() { _ = ch.Close() }()

	return c.topo.Declare(ch)
}

// Channel opens a new channel on the live connection. The caller owns it.
func (c *Client) Channel() (*amqp.Channel, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", ErrConnectivity, err)
	}
	return ch, nil
}

// Healthy reports whether the current connection is open.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// NotifyClose returns a channel that receives the error that closed the current
// connection, or nil when there is no connection.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
