package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmehdipour/order-pipeline/internal/db"
	"github.com/jmehdipour/order-pipeline/internal/dispatcher"
	"github.com/jmehdipour/order-pipeline/internal/events"
	httpSrv "github.com/jmehdipour/order-pipeline/internal/http"
	"github.com/jmehdipour/order-pipeline/internal/logger"
	"github.com/jmehdipour/order-pipeline/internal/rabbitmq"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the order API (dispatcher)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level)
		defer logger.Sync()

		mysqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		var redisClient *redis.Client
		if cfg.RateLimit.RPS > 0 {
			redisClient, err = db.NewRedisClient(cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = redisClient.Close() }()
		}

		var history repository.OrderEventsRepository
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouse(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			history = repository.NewOrderEventsRepository(chDB)
		}

		// broker: unreachable or conflicting topology is fatal
		client, err := rabbitmq.DialFromConfig(cfg.RabbitMQ, log)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		pub := rabbitmq.NewPublisher(client, rabbitmq.PublisherConfigFrom(cfg.RabbitMQ), log)

		emitter, closeEvents := events.NewFromConfig(cfg.Kafka, log)

		ordersRepo := repository.NewOrdersRepository(mysqlDB)
		disp := dispatcher.New(ordersRepo, pub, emitter, log)
		if cfg.RabbitMQ.PublishTimeout > 0 {
			disp.PublishTimeout = cfg.RabbitMQ.PublishTimeout
		}

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Dispatcher: disp,
			Orders:     ordersRepo,
			History:    history,
			Broker:     client,
			Redis:      redisClient,
			Log:        log,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		serveErr := awaitStop(sigCh, errCh, log)

		// in-flight requests finish before the broker goes away
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		_ = pub.Close()
		closeEvents()
		_ = client.Close()

		log.Info("dispatcher stopped")
		return serveErr
	},
}

// awaitStop blocks until a signal arrives or the server exits on its own. The
// latter (e.g. the port is already bound) is returned as an error.
func awaitStop(sigCh <-chan os.Signal, errCh <-chan error, log *zap.Logger) error {
	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error("http server exited", zap.Error(err))
		return fmt.Errorf("http server: %w", err)
	}
}
