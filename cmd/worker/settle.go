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
	"github.com/jmehdipour/order-pipeline/internal/rabbitmq"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	"github.com/jmehdipour/order-pipeline/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Consume dispatched orders and settle them one at a time",
	RunE:  runSettle,
}

func runSettle(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	proc, err := worker.NewProcessorFromConfig(cfg.Processor, cfg.Worker.ProcessingDelay)
	if err != nil {
		return err
	}

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQL(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) broker: unreachable or conflicting topology is fatal
	client, err := rabbitmq.DialFromConfig(cfg.RabbitMQ, log)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer := rabbitmq.NewConsumer(client, cfg.Worker.ConsumerTag)
	defer func() { _ = consumer.Close() }()

	emitter, closeEvents := events.NewFromConfig(cfg.Kafka, log)
	defer closeEvents()

	s := worker.NewSettler(repository.NewOrdersRepository(dbx), consumer, proc, emitter, log)
	if cfg.Worker.ProcessingTimeout > 0 {
		s.ProcessingTimeout = cfg.Worker.ProcessingTimeout
	}

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveMetrics(ctx, cfg.Worker.MetricsAddr, log)

	log.Info(">> settlement worker started",
		zap.String("queue", client.Topology().Queue),
		zap.String("consumer_tag", consumer.Tag()),
		zap.Int("prefetch", rabbitmq.Prefetch),
		zap.String("processor", fmt.Sprintf("%T", proc)),
	)

	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("settlement worker: %w", err)
	}
	log.Info("settlement worker stopped")
	return nil
}
