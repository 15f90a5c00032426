package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okProcessor() Processor {
	return ProcessorFunc(func(context.Context, model.DispatchMessage) error { return nil })
}

func newTestSettler(orders *memOrders, c *fakeConsumer, p Processor, ev *recordingEmitter) *Settler {
	s := NewSettler(orders, c, p, ev, zap.NewNop())
	s.ProcessingTimeout = time.Second
	return s
}

func TestHandleWritesStatusBeforeAck(t *testing.T) {
	j := &journal{}
	orders := newMemOrders(j, pendingOrder("01A"))
	ev := &recordingEmitter{}
	s := newTestSettler(orders, newFakeConsumer(0), okProcessor(), ev)

	out := s.Handle(context.Background(), delivery(&fakeAck{j: j}, 7, dispatchBody("01A")))

	assert.Equal(t, Acked, out)
	assert.Equal(t, model.StatusProcessed, orders.status("01A"))
	assert.Equal(t, []string{"write 01A Processed", "ack 7"}, j.all())
	assert.Equal(t, []model.EventType{model.EventProcessed}, ev.types())
}

func TestHandleUndecodableIsRejectedWithoutWrite(t *testing.T) {
	for _, body := range []string{`{`, `{"item":"tea","quantity":1}`, `"just a string"`} {
		t.Run(body, func(t *testing.T) {
			j := &journal{}
			orders := newMemOrders(j, pendingOrder("01A"))
			s := newTestSettler(orders, newFakeConsumer(0), okProcessor(), &recordingEmitter{})

			out := s.Handle(context.Background(), delivery(&fakeAck{j: j}, 1, []byte(body)))

			assert.Equal(t, Rejected, out)
			assert.Equal(t, []string{"reject 1"}, j.all())
			assert.Equal(t, model.StatusPending, orders.status("01A"))
		})
	}
}

func TestHandleBusinessFailureRecordsFailed(t *testing.T) {
	j := &journal{}
	orders := newMemOrders(j, pendingOrder("01A"))
	ev := &recordingEmitter{}
	proc := ProcessorFunc(func(context.Context, model.DispatchMessage) error {
		return fmt.Errorf("%w: out of stock", ErrOrderRejected)
	})
	s := newTestSettler(orders, newFakeConsumer(0), proc, ev)

	out := s.Handle(context.Background(), delivery(&fakeAck{j: j}, 3, dispatchBody("01A")))

	assert.Equal(t, Rejected, out)
	assert.Equal(t, []string{"write 01A Failed", "reject 3"}, j.all())
	assert.Equal(t, []model.EventType{model.EventFailed}, ev.types())
}

func TestHandleTransientProcessingErrorLeavesPending(t *testing.T) {
	j := &journal{}
	orders := newMemOrders(j, pendingOrder("01A"))
	ev := &recordingEmitter{}
	proc := ProcessorFunc(func(context.Context, model.DispatchMessage) error {
		return errors.New("fulfillment status=503")
	})
	s := newTestSettler(orders, newFakeConsumer(0), proc, ev)

	out := s.Handle(context.Background(), delivery(&fakeAck{j: j}, 3, dispatchBody("01A")))

	assert.Equal(t, Rejected, out)
	assert.Equal(t, []string{"reject 3"}, j.all())
	assert.Equal(t, model.StatusPending, orders.status("01A"))
	assert.Equal(t, []model.EventType{model.EventRejected}, ev.types())
}

func TestHandleStoreFailureRejects(t *testing.T) {
	j := &journal{}
	orders := newMemOrders(j, pendingOrder("01A"))
	orders.err = errors.New("mysql: connection refused")
	s := newTestSettler(orders, newFakeConsumer(0), okProcessor(), &recordingEmitter{})

	out := s.Handle(context.Background(), delivery(&fakeAck{j: j}, 9, dispatchBody("01A")))

	assert.Equal(t, Rejected, out)
	assert.Equal(t, []string{"reject 9"}, j.all())
}

func TestHandleSettlementNoops(t *testing.T) {
	done := pendingOrder("01DONE")
	done.Status = model.StatusProcessed

	for name, id := range map[string]string{"already settled": "01DONE", "deleted": "01GONE"} {
		t.Run(name, func(t *testing.T) {
			j := &journal{}
			orders := newMemOrders(j, done)
			ev := &recordingEmitter{}
			var calls int32
			proc := ProcessorFunc(func(context.Context, model.DispatchMessage) error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
			s := newTestSettler(orders, newFakeConsumer(0), proc, ev)

			out := s.Handle(context.Background(), delivery(&fakeAck{j: j}, 2, dispatchBody(id)))

			assert.Equal(t, Acked, out)
			assert.Equal(t, []string{"ack 2"}, j.all())
			assert.Empty(t, ev.types())
			assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "settled or deleted orders are not processed again")
			assert.Equal(t, model.StatusProcessed, orders.status("01DONE"))
		})
	}
}

func TestRunHandlesOneDeliveryAtATime(t *testing.T) {
	j := &journal{}
	orders := newMemOrders(j, pendingOrder("01A"), pendingOrder("01B"), pendingOrder("01C"))
	c := newFakeConsumer(3)

	var inFlight, maxInFlight int32
	proc := ProcessorFunc(func(context.Context, model.DispatchMessage) error {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	s := newTestSettler(orders, c, proc, &recordingEmitter{})

	ack := &fakeAck{j: j}
	// all three are available at once
	c.ch <- delivery(ack, 1, dispatchBody("01A"))
	c.ch <- delivery(ack, 2, dispatchBody("01B"))
	c.ch <- delivery(ack, 3, dispatchBody("01C"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(j.all()) == 6 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, []string{
		"write 01A Processed", "ack 1",
		"write 01B Processed", "ack 2",
		"write 01C Processed", "ack 3",
	}, j.all())
}

// prefetchBroker hands out the next delivery only once the previous one is
// settled, the way the broker behaves with a prefetch window of one.
type prefetchBroker struct {
	fakeAck
	settled chan uint64
}

func (b *prefetchBroker) Ack(tag uint64, multiple bool) error {
	_ = b.fakeAck.Ack(tag, multiple)
	b.settled <- tag
	return nil
}

func (b *prefetchBroker) Reject(tag uint64, requeue bool) error {
	_ = b.fakeAck.Reject(tag, requeue)
	b.settled <- tag
	return nil
}

func TestRunWithPrefetchOneBroker(t *testing.T) {
	j := &journal{}
	orders := newMemOrders(j, pendingOrder("01A"), pendingOrder("01B"))
	c := newFakeConsumer(0)
	s := newTestSettler(orders, c, okProcessor(), &recordingEmitter{})

	b := &prefetchBroker{fakeAck: fakeAck{j: j}, settled: make(chan uint64, 2)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for i, id := range []string{"01A", "01B"} {
			j.add("deliver %d", i+1)
			select {
			case c.ch <- delivery(b, uint64(i+1), dispatchBody(id)):
			case <-ctx.Done():
				return
			}
			<-b.settled
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return orders.status("01B") == model.StatusProcessed }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(j.all()) == 6 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{
		"deliver 1", "write 01A Processed", "ack 1",
		"deliver 2", "write 01B Processed", "ack 2",
	}, j.all())
}

func TestRunFinishesInFlightMessageOnShutdown(t *testing.T) {
	j := &journal{}
	orders := newMemOrders(j, pendingOrder("01A"))
	c := newFakeConsumer(1)

	started := make(chan struct{})
	release := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, _ model.DispatchMessage) error {
		close(started)
		<-release
		return ctx.Err()
	})
	s := newTestSettler(orders, c, proc, &recordingEmitter{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	c.ch <- delivery(&fakeAck{j: j}, 1, dispatchBody("01A"))
	<-started
	cancel()

	select {
	case <-errCh:
		t.Fatal("Run returned before the in-flight message was settled")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	assert.Equal(t, []string{"write 01A Processed", "ack 1"}, j.all())
	select {
	case <-c.cancelled:
	default:
		t.Fatal("consumer was not cancelled")
	}
}

func TestRunFailsWhenDeliveriesClose(t *testing.T) {
	c := newFakeConsumer(0)
	close(c.ch)
	s := newTestSettler(newMemOrders(nil), c, okProcessor(), &recordingEmitter{})

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrDeliveriesClosed)
}
