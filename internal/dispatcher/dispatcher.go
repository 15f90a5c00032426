package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/events"
	"github.com/jmehdipour/order-pipeline/internal/metrics"
	"github.com/jmehdipour/order-pipeline/internal/model"
	"go.uber.org/zap"
)

var ErrPersistence = errors.New("order persistence failed")

type OrderCreator interface {
	Create(ctx context.Context, item string, quantity int) (*model.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, msg model.DispatchMessage) error
}

// Dispatcher is the producer side of the pipeline: validate, persist, then
// publish without letting a broker failure fail the request.
type Dispatcher struct {
	orders OrderCreator
	pub    Publisher
	events events.Emitter
	log    *zap.Logger

	PublishTimeout time.Duration
}

func New(orders OrderCreator, pub Publisher, ev events.Emitter, log *zap.Logger) *Dispatcher {
	if ev == nil {
		ev = events.Nop{}
	}
	return &Dispatcher{
		orders:         orders,
		pub:            pub,
		events:         ev,
		log:            log,
		PublishTimeout: 5 * time.Second,
	}
}

// Submit returns the stored Pending order. A publish failure is logged and
// counted; the order stays Pending until the reconciler re-publishes it.
func (d *Dispatcher) Submit(ctx context.Context, req *Request) (*model.Order, error) {
	item, qty, err := Validate(req)
	if err != nil {
		return nil, err
	}

	o, err := d.orders.Create(ctx, item, qty)
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.Inc(metrics.StageCreated)
	d.events.Emit(ctx, model.NewOrderEvent(*o, model.EventCreated, ""))

	d.publish(ctx, *o)

	return o, nil
}

func (d *Dispatcher) publish(ctx context.Context, o model.Order) {
	// The order is already stored: a client hanging up must not abort the publish.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.PublishTimeout)
	defer cancel()

	if err := d.pub.Publish(ctx, o.Dispatch()); err != nil {
		metrics.Inc(metrics.StagePublishFailed)
		d.log.Warn("publish failed, order stays pending",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		d.events.Emit(ctx, model.NewOrderEvent(o, model.EventPublishFailed, err.Error()))
		return
	}

	metrics.Inc(metrics.StagePublished)
	d.log.Debug("order published", zap.String("order_id", o.ID))
	d.events.Emit(ctx, model.NewOrderEvent(o, model.EventPublished, ""))
}
