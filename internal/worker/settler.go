package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/events"
	"github.com/jmehdipour/order-pipeline/internal/metrics"
	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	ErrDecode     = errors.New("undecodable dispatch message")
	ErrProcessing = errors.New("order processing failed")
	// ErrDeliveriesClosed means the broker channel went away under the worker.
	ErrDeliveriesClosed = errors.New("delivery channel closed")
)

type OrderSettler interface {
	GetByID(ctx context.Context, id string) (*model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error)
}

// Consumer is the broker subscription of the worker.
type Consumer interface {
	Consume() (<-chan amqp.Delivery, error)
	Cancel() error
}

type Outcome int

const (
	Acked Outcome = iota
	Rejected
	Requeued
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Rejected:
		return "rejected"
	default:
		return "requeued"
	}
}

// Settler is the consumer side of the pipeline. It handles one delivery at a
// time: decode, process, write the terminal status, then ack. The ack never
// precedes the status write.
type Settler struct {
	Orders    OrderSettler
	Consumer  Consumer
	Processor Processor
	Events    events.Emitter
	Log       *zap.Logger

	ProcessingTimeout time.Duration
}

func NewSettler(orders OrderSettler, consumer Consumer, proc Processor, ev events.Emitter, log *zap.Logger) *Settler {
	if ev == nil {
		ev = events.Nop{}
	}
	return &Settler{
		Orders:            orders,
		Consumer:          consumer,
		Processor:         proc,
		Events:            ev,
		Log:               log,
		ProcessingTimeout: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled. On cancellation it stops the
// subscription and returns; a message already being handled is finished first
// because handling runs on a context detached from ctx.
func (s *Settler) Run(ctx context.Context) error {
	deliveries, err := s.Consumer.Consume()
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil

		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			if ctx.Err() != nil {
				// not started yet: hand it back to the queue untouched
				if err := d.Nack(false, true); err != nil {
					s.Log.Warn("requeue on shutdown failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
				}
				s.stop()
				return nil
			}
			s.Handle(context.WithoutCancel(ctx), d)
		}
	}
}

func (s *Settler) stop() {
	if err := s.Consumer.Cancel(); err != nil {
		s.Log.Warn("consumer cancel failed", zap.Error(err))
	}
	s.Log.Info("settlement worker stopped accepting deliveries")
}

// Handle drives one delivery to Ack or Reject.
func (s *Settler) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	log := s.Log.With(zap.Uint64("delivery_tag", d.DeliveryTag))

	msg, err := decode(d.Body)
	if err != nil {
		log.Warn("rejecting undecodable message", zap.Error(err))
		metrics.Inc(metrics.StageRejected)
		s.reject(log, d)
		return Rejected
	}
	log = log.With(zap.String("order_id", msg.OrderID))

	settled, err := s.alreadySettled(ctx, log, msg)
	if err != nil {
		log.Error("order lookup failed, order stays pending", zap.Error(err))
		metrics.Inc(metrics.StageRejected)
		s.emitRejected(ctx, msg, err)
		s.reject(log, d)
		return Rejected
	}
	if settled {
		metrics.Inc(metrics.StageSettleNoop)
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return Acked
	}

	if err := s.process(ctx, msg); err != nil {
		if errors.Is(err, ErrOrderRejected) {
			log.Warn("order failed in processing", zap.Error(err))
			if serr := s.settle(ctx, log, msg, model.StatusFailed, err.Error()); serr != nil {
				log.Error("recording failed status", zap.Error(serr))
			}
		} else {
			log.Error("processing error, order stays pending", zap.Error(err))
			s.emitRejected(ctx, msg, err)
		}
		metrics.Inc(metrics.StageRejected)
		s.reject(log, d)
		return Rejected
	}

	if err := s.settle(ctx, log, msg, model.StatusProcessed, ""); err != nil {
		log.Error("settlement failed, order stays pending", zap.Error(err))
		metrics.Inc(metrics.StageRejected)
		s.emitRejected(ctx, msg, err)
		s.reject(log, d)
		return Rejected
	}

	if err := d.Ack(false); err != nil {
		// status is durable; a redelivery settles as a no-op
		log.Warn("ack failed", zap.Error(err))
	}
	return Acked
}

// alreadySettled reports whether the order was deleted or is no longer Pending.
// Such deliveries (duplicates, re-dispatches) are acked without processing.
func (s *Settler) alreadySettled(ctx context.Context, log *zap.Logger, msg model.DispatchMessage) (bool, error) {
	o, err := s.Orders.GetByID(ctx, msg.OrderID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Info("order no longer exists, nothing to settle")
		return true, nil
	case err != nil:
		return false, err
	case o.Status.Terminal():
		log.Info("order already settled", zap.String("status", o.Status.String()))
		return true, nil
	}
	return false, nil
}

func decode(body []byte) (model.DispatchMessage, error) {
	var msg model.DispatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if msg.OrderID == "" {
		return msg, fmt.Errorf("%w: missing orderId", ErrDecode)
	}
	return msg, nil
}

func (s *Settler) process(ctx context.Context, msg model.DispatchMessage) error {
	if s.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ProcessingTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.Processor.Process(ctx, msg)
	metrics.ProcessingSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	return nil
}

// settle writes status. A missing order (deleted meanwhile) and an order that
// is already terminal (duplicate delivery) are both no-ops.
func (s *Settler) settle(ctx context.Context, log *zap.Logger, msg model.DispatchMessage, status model.OrderStatus, reason string) error {
	o, err := s.Orders.UpdateStatus(ctx, msg.OrderID, status)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Info("order no longer exists, nothing to settle")
		metrics.Inc(metrics.StageSettleNoop)
		return nil
	case errors.Is(err, repository.ErrInvalidTransition):
		log.Info("order already settled", zap.Error(err))
		metrics.Inc(metrics.StageSettleNoop)
		return nil
	case err != nil:
		return err
	}

	if status == model.StatusProcessed {
		metrics.Inc(metrics.StageProcessed)
		s.Events.Emit(ctx, model.NewOrderEvent(*o, model.EventProcessed, ""))
	} else {
		metrics.Inc(metrics.StageFailed)
		s.Events.Emit(ctx, model.NewOrderEvent(*o, model.EventFailed, reason))
	}
	log.Info("order settled", zap.String("status", o.Status.String()))
	return nil
}

func (s *Settler) reject(log *zap.Logger, d amqp.Delivery) {
	if err := d.Reject(false); err != nil {
		log.Warn("reject failed", zap.Error(err))
	}
}

func (s *Settler) emitRejected(ctx context.Context, msg model.DispatchMessage, cause error) {
	s.Events.Emit(ctx, model.OrderEvent{
		OrderID: msg.OrderID,
		Type:    model.EventRejected,
		Status:  model.StatusPending,
		Reason:  cause.Error(),
		At:      time.Now().UTC(),
	})
}
