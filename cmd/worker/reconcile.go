package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/order-pipeline/internal/db"
	"github.com/jmehdipour/order-pipeline/internal/events"
	"github.com/jmehdipour/order-pipeline/internal/logger"
	"github.com/jmehdipour/order-pipeline/internal/metrics"
	"github.com/jmehdipour/order-pipeline/internal/rabbitmq"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	"github.com/jmehdipour/order-pipeline/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-dispatch stale Pending orders and expire abandoned ones",
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dbx, err := db.NewMySQL(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	redisClient, err := db.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	client, err := rabbitmq.DialFromConfig(cfg.RabbitMQ, log)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	defer func() { _ = client.Close() }()

	pub := rabbitmq.NewPublisher(client, rabbitmq.PublisherConfigFrom(cfg.RabbitMQ), log)
	defer func() { _ = pub.Close() }()

	emitter, closeEvents := events.NewFromConfig(cfg.Kafka, log)
	defer closeEvents()

	r := worker.NewReconciler(repository.NewOrdersRepository(dbx), pub, redisClient, emitter, log)

	// tune knobs
	rc := cfg.Reconcile
	if rc.Interval > 0 {
		r.Interval = rc.Interval
	}
	if rc.StaleAfter > 0 {
		r.StaleAfter = rc.StaleAfter
	}
	if rc.ExpireAfter > 0 {
		r.ExpireAfter = rc.ExpireAfter
	}
	if rc.BatchSize > 0 {
		r.BatchSize = rc.BatchSize
	}
	if rc.LockKey != "" {
		r.LockKey = rc.LockKey
	}
	if rc.LockTTL > 0 {
		r.LockTTL = rc.LockTTL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	log.Info(">> reconciler started",
		zap.Duration("interval", r.Interval),
		zap.Duration("stale_after", r.StaleAfter),
		zap.Duration("expire_after", r.ExpireAfter),
		zap.Int("batch_size", r.BatchSize),
	)

	return r.Run(ctx)
}
