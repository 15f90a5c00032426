package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/events"
	"github.com/jmehdipour/order-pipeline/internal/kafka"
	"github.com/jmehdipour/order-pipeline/internal/model"
	"go.uber.org/zap"
)

type EventSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

type EventSink interface {
	InsertBatch(ctx context.Context, evs []model.OrderEvent) error
}

// Projector copies the lifecycle event stream into the history store.
// Offsets are committed only after the batch they cover has been written.
type Projector struct {
	Source EventSource
	Sink   EventSink
	Log    *zap.Logger

	BatchSize int           // max buffered events per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewProjector(src EventSource, sink EventSink, log *zap.Logger) *Projector {
	return &Projector{
		Source:    src,
		Sink:      sink,
		Log:       log,
		BatchSize: 500,
		BatchWait: time.Second,
	}
}

// Run blocks until ctx is cancelled, then flushes what it holds.
func (p *Projector) Run(ctx context.Context) error {
	if p.BatchSize <= 0 {
		p.BatchSize = 500
	}
	if p.BatchWait <= 0 {
		p.BatchWait = time.Second
	}

	msgCh := make(chan kafka.Message, p.BatchSize)
	go p.fetch(ctx, msgCh)

	tick := time.NewTicker(p.BatchWait)
	defer tick.Stop()

	var pending []kafka.Message

	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		if err := p.flush(ctx, pending); err != nil {
			// keep the batch; it is retried on the next tick
			p.Log.Warn("projector flush failed", zap.Int("count", len(pending)), zap.Error(err))
			return
		}
		pending = pending[:0]
	}

	for {
		// stop reading while a full batch is waiting on the sink
		in := msgCh
		if len(pending) >= p.BatchSize {
			in = nil
		}

		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(fctx)
			cancel()
			return nil
		case m := <-in:
			pending = append(pending, m)
			if len(pending) >= p.BatchSize {
				flush(ctx)
			}
		case <-tick.C:
			flush(ctx)
		}
	}
}

func (p *Projector) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		m, err := p.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Log.Warn("projector fetch failed", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Projector) flush(ctx context.Context, msgs []kafka.Message) error {
	evs := make([]model.OrderEvent, 0, len(msgs))
	for _, m := range msgs {
		ev, err := events.Decode(m.Value)
		if err != nil {
			// poison: skipped, but its offset is still committed below
			p.Log.Warn("skipping undecodable order event", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		evs = append(evs, ev)
	}

	if len(evs) > 0 {
		if err := p.Sink.InsertBatch(ctx, evs); err != nil {
			return err
		}
	}
	return p.Source.Commit(ctx, msgs...)
}
