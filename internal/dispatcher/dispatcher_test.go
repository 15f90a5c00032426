package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu     sync.Mutex
	orders map[string]model.Order
	seq    int
	err    error
}

func newMemStore() *memStore { return &memStore{orders: map[string]model.Order{}} }

func (s *memStore) Create(_ context.Context, item string, qty int) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if err := model.ValidateOrder(item, qty); err != nil {
		return nil, err
	}
	s.seq++
	now := time.Now().UTC()
	o := model.Order{
		ID:        string(rune('a' + s.seq)),
		Item:      strings.TrimSpace(item),
		Quantity:  qty,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.orders[o.ID] = o
	return &o, nil
}

func (s *memStore) get(id string) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []model.DispatchMessage
	err  error

	ctxErrs      []error
	hadDeadlines []bool
}

func (p *recordingPublisher) Publish(ctx context.Context, msg model.DispatchMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := ctx.Deadline()
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.hadDeadlines = append(p.hadDeadlines, ok)
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.OrderEvent
}

func (e *recordingEmitter) Emit(_ context.Context, ev model.OrderEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) types() []model.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.EventType, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestSubmitPersistsThenPublishes(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	em := &recordingEmitter{}
	d := New(store, pub, em, zap.NewNop())

	o, err := d.Submit(context.Background(), &Request{Item: "  Cola Zero  ", Quantity: json.Number("3")})
	require.NoError(t, err)

	assert.Equal(t, "Cola Zero", o.Item)
	assert.Equal(t, 3, o.Quantity)
	assert.Equal(t, model.StatusPending, o.Status)

	stored, ok := store.get(o.ID)
	require.True(t, ok, "retrievable by returned id")
	assert.Equal(t, *o, stored)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, model.DispatchMessage{OrderID: o.ID, Item: "Cola Zero", Quantity: 3}, pub.sent[0])
	assert.Equal(t, []model.EventType{model.EventCreated, model.EventPublished}, em.types())
}

func TestSubmitInvalidInputCreatesNothing(t *testing.T) {
	cases := map[string]*Request{
		"nil body":          nil,
		"missing item":      {Quantity: 1.0},
		"empty item":        {Item: "", Quantity: 1.0},
		"whitespace item":   {Item: " \t\n", Quantity: 1.0},
		"non-string item":   {Item: 42.0, Quantity: 1.0},
		"bool item":         {Item: true, Quantity: 1.0},
		"zero quantity":     {Item: "tea", Quantity: json.Number("0")},
		"negative quantity": {Item: "tea", Quantity: -3.0},
		"fractional":        {Item: "tea", Quantity: json.Number("1.5")},
		"string quantity":   {Item: "tea", Quantity: "3"},
		"missing quantity":  {Item: "tea"},
		"huge quantity":     {Item: "tea", Quantity: json.Number("1e12")},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			pub := &recordingPublisher{}
			d := New(store, pub, nil, zap.NewNop())

			_, err := d.Submit(context.Background(), req)
			var ve *model.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.NotEmpty(t, ve.Reason)
			assert.Empty(t, store.orders)
			assert.Empty(t, pub.sent)
		})
	}
}

func TestSubmitAcceptsWholeFloatQuantity(t *testing.T) {
	d := New(newMemStore(), &recordingPublisher{}, nil, zap.NewNop())

	o, err := d.Submit(context.Background(), &Request{Item: "tea", Quantity: json.Number("2.0")})
	require.NoError(t, err)
	assert.Equal(t, 2, o.Quantity)
}

func TestSubmitPersistenceFailureDoesNotPublish(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("mysql: connection refused")
	pub := &recordingPublisher{}
	d := New(store, pub, nil, zap.NewNop())

	_, err := d.Submit(context.Background(), &Request{Item: "tea", Quantity: 1.0})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, pub.sent)
}

func TestSubmitSurvivesPublishFailure(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{err: errors.New("broker unreachable")}
	em := &recordingEmitter{}
	d := New(store, pub, em, zap.NewNop())

	o, err := d.Submit(context.Background(), &Request{Item: "tea", Quantity: 2.0})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, o.Status)

	stored, ok := store.get(o.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, []model.EventType{model.EventCreated, model.EventPublishFailed}, em.types())
}

func TestPublishOutlivesCanceledRequest(t *testing.T) {
	pub := &recordingPublisher{}
	d := New(newMemStore(), pub, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Submit(ctx, &Request{Item: "tea", Quantity: 1.0})
	require.NoError(t, err)

	require.Len(t, pub.ctxErrs, 1)
	assert.NoError(t, pub.ctxErrs[0], "publish context is detached from the request")
	assert.True(t, pub.hadDeadlines[0])
}
