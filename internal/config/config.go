package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig  `mapstructure:"rabbitmq"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Worker     WorkerConfig    `mapstructure:"worker"`
	Processor  ProcessorConfig `mapstructure:"processor"`
	Reconcile  ReconcileConfig `mapstructure:"reconcile"`
	Projector  ProjectorConfig `mapstructure:"projector"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr       string   `mapstructure:"addr"`
	CORSOrigin []string `mapstructure:"cors_origin"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type RabbitMQConfig struct {
	URL             string        `mapstructure:"url"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	ChannelPoolSize int           `mapstructure:"channel_pool_size"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	EventsTopic    string   `mapstructure:"events_topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// Enabled reports whether lifecycle events are streamed at all.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.EventsTopic != ""
}

type WorkerConfig struct {
	ConsumerTag       string        `mapstructure:"consumer_tag"`
	ProcessingDelay   time.Duration `mapstructure:"processing_delay"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
}

type ProcessorConfig struct {
	Kind           string        `mapstructure:"kind"` // delay | http
	FulfillmentURL string        `mapstructure:"fulfillment_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type ReconcileConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	ExpireAfter time.Duration `mapstructure:"expire_after"`
	BatchSize   int           `mapstructure:"batch_size"`
	LockKey     string        `mapstructure:"lock_key"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

type ProjectorConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (ORDERS_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (ORDERS_RABBITMQ_URL -> rabbitmq.url)
	v.SetEnvPrefix("ORDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
