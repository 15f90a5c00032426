package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmehdipour/order-pipeline/internal/dispatcher"
	"github.com/jmehdipour/order-pipeline/internal/http/middleware"
	"github.com/jmehdipour/order-pipeline/internal/metrics"
	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/jmehdipour/order-pipeline/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OrderSubmitter interface {
	Submit(ctx context.Context, req *dispatcher.Request) (*model.Order, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*model.Order, error)
	ListNewestFirst(ctx context.Context, limit, offset int) ([]model.Order, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}

type BrokerHealth interface {
	Healthy() bool
}

// Deps are the collaborators of the API. History is nil when ClickHouse is not
// configured and Redis is nil when rate limiting is off.
type Deps struct {
	Dispatcher OrderSubmitter
	Orders     OrderStore
	History    repository.OrderEventsRepository
	Broker     BrokerHealth
	Redis      *redis.Client
	Log        *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.INFO)
	e.Use(echoMid.Recover(), echoMid.Logger())

	origins := cfg.HTTP.CORSOrigin
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(echoMid.CORSWithConfig(echoMid.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/readyz", readyHandler(d.Orders, d.Broker))

	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	orders := e.Group("/orders", rlMW)
	orders.POST("", createOrderHandler(d.Dispatcher))
	orders.GET("", listOrdersHandler(d.Orders))
	orders.GET("/:id", getOrderHandler(d.Orders))
	orders.DELETE("/:id", deleteOrderHandler(d.Orders))
	orders.GET("/:id/events", orderEventsHandler(d.History))

	e.GET("/reports/events", listEventsHandler(d.History), rlMW)

	return &Server{e: e, log: d.Log}
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func readyHandler(orders OrderStore, broker BrokerHealth) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"mysql": "ok", "rabbitmq": "ok"}
		ready := true
		if err := orders.Ping(ctx); err != nil {
			checks["mysql"] = err.Error()
			ready = false
		}
		if broker == nil || !broker.Healthy() {
			checks["rabbitmq"] = "disconnected"
			ready = false
		}

		if !ready {
			return c.JSON(http.StatusServiceUnavailable, checks)
		}
		return c.JSON(http.StatusOK, checks)
	}
}
