package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	amqp "github.com/rabbitmq/amqp091-go"
)

// journal records side effects in the order they happen.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]*model.Order
	err     error
	touched []string
	j       *journal
}

func newMemOrders(j *journal, orders ...model.Order) *memOrders {
	m := &memOrders{orders: map[string]*model.Order{}, j: j}
	for i := range orders {
		o := orders[i]
		m.orders[o.ID] = &o
	}
	return m
}

func (m *memOrders) GetByID(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, status model.OrderStatus) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if o.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, o.Status, status)
	}
	o.Status = status
	if m.j != nil {
		m.j.add("write %s %s", id, status)
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) ListStalePending(_ context.Context, before time.Time, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, o := range m.orders {
		if o.Status == model.StatusPending && o.UpdatedAt.Before(before) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	return nil
}

func (m *memOrders) status(id string) model.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status
}

type fakeAck struct {
	j *journal
}

func (a *fakeAck) Ack(tag uint64, _ bool) error {
	a.j.add("ack %d", tag)
	return nil
}

func (a *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	if requeue {
		a.j.add("requeue %d", tag)
	} else {
		a.j.add("reject %d", tag)
	}
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeConsumer struct {
	ch        chan amqp.Delivery
	once      sync.Once
	cancelled chan struct{}
}

func newFakeConsumer(buf int) *fakeConsumer {
	return &fakeConsumer{ch: make(chan amqp.Delivery, buf), cancelled: make(chan struct{})}
}

func (c *fakeConsumer) Consume() (<-chan amqp.Delivery, error) { return c.ch, nil }

func (c *fakeConsumer) Cancel() error {
	c.once.Do(func() { close(c.cancelled) })
	return nil
}

type recordingEmitter struct {
	mu  sync.Mutex
	evs []model.OrderEvent
}

func (e *recordingEmitter) Emit(_ context.Context, ev model.OrderEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evs = append(e.evs, ev)
}

func (e *recordingEmitter) types() []model.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.EventType, 0, len(e.evs))
	for _, ev := range e.evs {
		out = append(out, ev.Type)
	}
	return out
}

func pendingOrder(id string) model.Order {
	now := time.Now().UTC()
	return model.Order{ID: id, Item: "tea", Quantity: 1, Status: model.StatusPending, CreatedAt: now, UpdatedAt: now}
}

func dispatchBody(id string) []byte {
	b, _ := json.Marshal(model.DispatchMessage{OrderID: id, Item: "tea", Quantity: 1})
	return b
}

func delivery(ack amqp.Acknowledger, tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}
