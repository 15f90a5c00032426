package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-pipeline/internal/events"
	"github.com/jmehdipour/order-pipeline/internal/metrics"
	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ReconcileStore interface {
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error)
	Touch(ctx context.Context, id string) error
}

type Publisher interface {
	Publish(ctx context.Context, msg model.DispatchMessage) error
}

// releaseLease deletes the lease only if it still holds our token.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Reconciler re-dispatches orders stuck in Pending (published but lost, or
// never published) and expires the ones that have been pending for too long.
// A Redis lease keeps concurrent reconcilers from sweeping at the same time.
type Reconciler struct {
	Orders    ReconcileStore
	Publisher Publisher
	Redis     *redis.Client
	Events    events.Emitter
	Log       *zap.Logger

	Interval    time.Duration
	StaleAfter  time.Duration
	ExpireAfter time.Duration
	BatchSize   int
	LockKey     string
	LockTTL     time.Duration

	now func() time.Time
}

type SweepResult struct {
	Skipped     bool // lease held elsewhere
	Republished int
	Expired     int
	Failed      int
}

func NewReconciler(orders ReconcileStore, pub Publisher, rdb *redis.Client, ev events.Emitter, log *zap.Logger) *Reconciler {
	if ev == nil {
		ev = events.Nop{}
	}
	return &Reconciler{
		Orders:      orders,
		Publisher:   pub,
		Redis:       rdb,
		Events:      ev,
		Log:         log,
		Interval:    30 * time.Second,
		StaleAfter:  time.Minute,
		ExpireAfter: 24 * time.Hour,
		BatchSize:   100,
		LockKey:     "orders:reconcile:lock",
		LockTTL:     25 * time.Second,
		now:         time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		res, err := r.Sweep(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.Log.Error("reconcile sweep failed", zap.Error(err))
		case !res.Skipped && (res.Republished > 0 || res.Expired > 0 || res.Failed > 0):
			r.Log.Info("reconcile sweep",
				zap.Int("republished", res.Republished),
				zap.Int("expired", res.Expired),
				zap.Int("failed", res.Failed),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Sweep runs one reconciliation pass under the lease.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	token := uuid.NewString()
	ok, err := r.Redis.SetNX(ctx, r.LockKey, token, r.LockTTL).Result()
	if err != nil {
		return res, err
	}
	if !ok {
		res.Skipped = true
		return res, nil
	}
	defer func() {
		if err := releaseLease.Run(context.WithoutCancel(ctx), r.Redis, []string{r.LockKey}, token).Err(); err != nil {
			r.Log.Warn("reconcile lease release failed", zap.Error(err))
		}
	}()

	now := r.now()
	stale, err := r.Orders.ListStalePending(ctx, now.Add(-r.StaleAfter), r.BatchSize)
	if err != nil {
		return res, err
	}

	for _, o := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log := r.Log.With(zap.String("order_id", o.ID))

		if r.ExpireAfter > 0 && now.Sub(o.CreatedAt) >= r.ExpireAfter {
			if r.expire(ctx, log, o) {
				res.Expired++
			}
			continue
		}

		if err := r.Publisher.Publish(ctx, o.Dispatch()); err != nil {
			log.Warn("republish failed", zap.Error(err))
			res.Failed++
			continue
		}
		if err := r.Orders.Touch(ctx, o.ID); err != nil {
			// harmless: the order is picked again next sweep
			log.Warn("touch after republish failed", zap.Error(err))
		}
		metrics.Inc(metrics.StageRepublished)
		r.Events.Emit(ctx, model.NewOrderEvent(o, model.EventRepublished, ""))
		res.Republished++
	}
	return res, nil
}

func (r *Reconciler) expire(ctx context.Context, log *zap.Logger, o model.Order) bool {
	updated, err := r.Orders.UpdateStatus(ctx, o.ID, model.StatusFailed)
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidTransition):
		return false
	case err != nil:
		log.Warn("expiring order failed", zap.Error(err))
		return false
	}
	metrics.Inc(metrics.StageExpired)
	r.Events.Emit(ctx, model.NewOrderEvent(*updated, model.EventExpired, "pending too long"))
	log.Info("order expired")
	return true
}
