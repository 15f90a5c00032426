package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/db"
	"github.com/jmehdipour/order-pipeline/internal/kafka"
	"github.com/jmehdipour/order-pipeline/internal/logger"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	"github.com/jmehdipour/order-pipeline/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Copy order lifecycle events from Kafka into ClickHouse",
	RunE:  runProject,
}

func runProject(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !cfg.Kafka.Enabled() {
		return errors.New("kafka.brokers and kafka.events_topic are required")
	}

	chDB, err := db.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer chDB.Close()

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "orders-projector"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.EventsTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	p := worker.NewProjector(consumer, repository.NewOrderEventsRepository(chDB), log)
	if cfg.Projector.BatchSize > 0 {
		p.BatchSize = cfg.Projector.BatchSize
	}
	if cfg.Projector.BatchWait > 0 {
		p.BatchWait = cfg.Projector.BatchWait
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(">> projector started",
		zap.String("topic", cfg.Kafka.EventsTopic),
		zap.String("group", groupID),
		zap.Int("batch_size", p.BatchSize),
		zap.Duration("batch_wait", p.BatchWait),
	)

	return p.Run(ctx)
}
