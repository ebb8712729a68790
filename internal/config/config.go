package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	DB               SQLiteConfig            `env:",prefix=DB_"`
	Routing          RoutingConfig           `env:",prefix=ROUTING_"`
	Catalog          CatalogConfig           `env:",prefix=CATALOG_"`
	Executor         ExecutorConfig          `env:",prefix=EXECUTOR_"`
	Scheduler        SchedulerConfig         `env:",prefix=SCHEDULER_"`
	Events           EventsConfig            `env:",prefix=EVENTS_"`
	Health           HealthConfig            `env:",prefix=HEALTH_"`
	Kafka            KafkaConfig             `env:",prefix=KAFKA_"`
	Telegram         TelegramConfig          `env:",prefix=TELEGRAM_"`
	Webhook          WebhookConfig           `env:",prefix=WEBHOOK_"`
	PolicyPath       string                  `env:"POLICY_PATH"`
}

type LoggerConfig struct {
	Level   string `env:"LEVEL,default=debug"`
	LokiURL string `env:"LOKI_URL"`
	// LokiTenant is sent as X-Scope-OrgID when set.
	LokiTenant string `env:"LOKI_TENANT"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SQLiteConfig struct {
	Path         string        `env:"PATH,default=./data/paykit.db"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS,default=1"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS,default=1"`
	MaxLifetime  time.Duration `env:"MAX_LIFETIME,default=5m"`
	BusyTimeout  time.Duration `env:"BUSY_TIMEOUT,default=5s"`
}

// RoutingConfig selects the routing network. Mode "memory" keeps everything
// in process and is meant for local runs.
type RoutingConfig struct {
	Mode         string        `env:"MODE,default=http"`
	GatewayURL   string        `env:"GATEWAY_URL,default=https://homeserver.pubky.app"`
	OwnerKey     string        `env:"OWNER_KEY"`
	SessionToken string        `env:"SESSION_TOKEN"`
	Timeout      time.Duration `env:"TIMEOUT,default=10s"`
	RateLimit    struct {
		Burst int     `env:"BURST,default=5"`
		RPS   float64 `env:"RPS,default=20.0"`
	} `env:",prefix=RATE_LIMIT_"`
	TLS GatewayTLSConfig `env:",prefix=TLS_"`
}

type CatalogConfig struct {
	CacheTTL      time.Duration `env:"CACHE_TTL,default=1m"`
	CacheCapacity int           `env:"CACHE_CAPACITY,default=1024"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT,default=30s"`
}

type ExecutorConfig struct {
	AttemptTimeout   time.Duration `env:"ATTEMPT_TIMEOUT,default=30s"`
	MaxRetries       int           `env:"MAX_RETRIES,default=2"`
	BackoffBase      time.Duration `env:"BACKOFF_BASE,default=500ms"`
	BackoffMax       time.Duration `env:"BACKOFF_MAX,default=10s"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT,default=10s"`
	RequestRetention time.Duration `env:"REQUEST_RETENTION,default=1h"`
}

type SchedulerConfig struct {
	Enabled     bool          `env:"ENABLED,default=true"`
	Interval    time.Duration `env:"INTERVAL,default=10s"`
	Concurrency int           `env:"CONCURRENCY,default=4"`
}

type EventsConfig struct {
	BufferSize int `env:"BUFFER_SIZE,default=256"`
}

type HealthConfig struct {
	Interval time.Duration `env:"INTERVAL,default=30s"`
}

type KafkaConfig struct {
	Brokers      []string      `env:"BROKERS"`
	Topic        string        `env:"TOPIC,default=paykit.events"`
	BatchSize    int           `env:"BATCH_SIZE,default=100"`
	BatchTimeout time.Duration `env:"BATCH_TIMEOUT,default=100ms"`
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type TelegramConfig struct {
	BotToken     string  `env:"BOT_TOKEN"`
	AlertChatIDs []int64 `env:"ALERT_CHAT_IDS"`
}

func (t TelegramConfig) Enabled() bool { return t.BotToken != "" && len(t.AlertChatIDs) > 0 }

// WebhookConfig registers one HTTP wallet backend for every method in Methods.
type WebhookConfig struct {
	URL     string        `env:"URL"`
	Secret  string        `env:"SECRET"`
	Timeout time.Duration `env:"TIMEOUT,default=30s"`
	Methods []string      `env:"METHODS"`
}
