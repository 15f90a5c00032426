package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmehdipour/order-pipeline/internal/db"
	"github.com/jmehdipour/order-pipeline/internal/dispatcher"
	"github.com/jmehdipour/order-pipeline/internal/events"
	"github.com/jmehdipour/order-pipeline/internal/logger"
	"github.com/jmehdipour/order-pipeline/internal/rabbitmq"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Submit a few demo orders through the dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level)
		defer logger.Sync()

		// 2) connect MySQL + broker
		mysqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		client, err := rabbitmq.DialFromConfig(cfg.RabbitMQ, log)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		defer func() { _ = client.Close() }()

		pub := rabbitmq.NewPublisher(client, rabbitmq.PublisherConfigFrom(cfg.RabbitMQ), log)
		defer func() { _ = pub.Close() }()

		emitter, closeEvents := events.NewFromConfig(cfg.Kafka, log)
		defer closeEvents()

		disp := dispatcher.New(repository.NewOrdersRepository(mysqlDB), pub, emitter, log)

		log.Info(">> Seeding demo orders...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, req := range demoOrders() {
			o, err := disp.Submit(ctx, &req)
			if err != nil {
				return fmt.Errorf("submit %v: %w", req.Item, err)
			}
			log.Info("seeded order", zap.String("id", o.ID), zap.String("item", o.Item), zap.Int("quantity", o.Quantity))
		}

		log.Info(">> Seed completed")
		return nil
	},
}

func demoOrders() []dispatcher.Request {
	return []dispatcher.Request{
		{Item: "Cola Zero", Quantity: 3},
		{Item: "Espresso Beans 1kg", Quantity: 1},
		{Item: "Paper Cups", Quantity: 50},
		{Item: "Oat Milk", Quantity: 6},
		{Item: "Sparkling Water", Quantity: 12},
	}
}
