package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Emitter records order lifecycle events. Emitting is best-effort and never
// fails the caller: the order record store stays authoritative.
type Emitter interface {
	Emit(ctx context.Context, ev model.OrderEvent)
}

// Nop drops every event. Used when Kafka is not configured.
type Nop struct{}

func (Nop) Emit(context.Context, model.OrderEvent) {}

// messageWriter is the subset of *kafka.Writer used by KafkaEmitter.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaEmitter struct {
	w   messageWriter
	log *zap.Logger
}

// NewKafkaEmitter writes events keyed by order id, so every event of one order
// lands on the same partition in order.
func NewKafkaEmitter(brokers []string, topic string, log *zap.Logger) *KafkaEmitter {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("order events write failed", zap.Int("count", len(msgs)), zap.Error(err))
			}
		},
	}
	return &KafkaEmitter{w: w, log: log}
}

func (e *KafkaEmitter) Emit(ctx context.Context, ev model.OrderEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("order event marshal failed", zap.String("order_id", ev.OrderID), zap.Error(err))
		return
	}
	err = e.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: b,
		Time:  ev.At,
	})
	if err != nil {
		e.log.Warn("order event emit failed",
			zap.String("order_id", ev.OrderID),
			zap.String("type", ev.Type.String()),
			zap.Error(err),
		)
	}
}

func (e *KafkaEmitter) Close() error { return e.w.Close() }

// NewFromConfig returns a Kafka emitter, or Nop when no brokers are configured.
// The returned func flushes and closes the writer.
func NewFromConfig(c config.KafkaConfig, log *zap.Logger) (Emitter, func()) {
	if !c.Enabled() {
		return Nop{}, func() {}
	}
	e := NewKafkaEmitter(c.Brokers, c.EventsTopic, log)
	return e, func() {
		if err := e.Close(); err != nil {
			log.Warn("order events writer close failed", zap.Error(err))
		}
	}
}

// Decode parses a Kafka message value produced by KafkaEmitter.
func Decode(value []byte) (model.OrderEvent, error) {
	var ev model.OrderEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, err
	}
	if ev.OrderID == "" || !ev.Type.Valid() {
		return ev, fmt.Errorf("invalid order event: order_id=%q type=%q", ev.OrderID, ev.Type)
	}
	return ev, nil
}
