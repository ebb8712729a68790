package environment

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"

	"paykit/internal/config"
	"paykit/internal/infra/kafka"
	"paykit/internal/infra/pubky"
	"paykit/internal/infra/sqlite3"
	"paykit/internal/infra/telegram"
	"paykit/internal/stories/catalog"
)

const routingModeMemory = "memory"

// RoutingClient reads any key's storage and writes to the owner's.
type RoutingClient interface {
	catalog.Reader
	catalog.Writer
	Owner() string
}

// gatewayPinger is implemented by network-backed routing clients.
type gatewayPinger interface {
	Ping(ctx context.Context) error
}

type Clients struct {
	SQLiteDB    *sqlite3.DB
	Routing     RoutingClient
	TelegramBot *telegram.Client
	Kafka       *kafkago.Writer
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	sqliteDB, err := provideSQLiteDB(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite")
	}

	routing, err := provideRouting(cfg, logger)
	if err != nil {
		_ = sqliteDB.Close()
		return nil, errors.Wrap(err, "routing")
	}

	telegramBot, err := provideTelegramBot(cfg, logger)
	if err != nil {
		_ = sqliteDB.Close()
		return nil, errors.Wrap(err, "telegram")
	}

	return &Clients{
		SQLiteDB:    sqliteDB,
		Routing:     routing,
		TelegramBot: telegramBot,
		Kafka:       provideKafka(cfg),
	}, nil
}

func provideSQLiteDB(ctx context.Context, cfg config.Config) (*sqlite3.DB, error) {
	if cfg.DB.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	opts := []sqlite3.Option{
		sqlite3.WithDSN(cfg.DB.Path),
		sqlite3.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		sqlite3.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		sqlite3.WithConnMaxLifetime(cfg.DB.MaxLifetime),
		sqlite3.WithBusyTimeout(cfg.DB.BusyTimeout),
		sqlite3.WithMigrations(),
	}

	return sqlite3.New(ctx, opts...)
}

func provideRouting(cfg config.Config, logger *slog.Logger) (RoutingClient, error) {
	if cfg.Routing.Mode == routingModeMemory {
		logger.Warn("Using in-memory routing network", "owner", cfg.Routing.OwnerKey)
		return pubky.NewMemoryStore().Session(cfg.Routing.OwnerKey), nil
	}

	tlsConfig, err := cfg.Routing.TLS.Build()
	if err != nil {
		return nil, err
	}

	return pubky.NewClient(pubky.Config{
		BaseURL:      cfg.Routing.GatewayURL,
		OwnerKey:     cfg.Routing.OwnerKey,
		SessionToken: cfg.Routing.SessionToken,
		Timeout:      cfg.Routing.Timeout,
		RPS:          cfg.Routing.RateLimit.RPS,
		Burst:        cfg.Routing.RateLimit.Burst,
		TLS:          tlsConfig,
	}, logger.WithGroup("routing"))
}

func provideTelegramBot(cfg config.Config, logger *slog.Logger) (*telegram.Client, error) {
	if !cfg.Telegram.Enabled() {
		return nil, nil
	}

	return telegram.NewClient(cfg.Telegram.BotToken, logger.WithGroup("telegram"))
}

func provideKafka(cfg config.Config) *kafkago.Writer {
	if !cfg.Kafka.Enabled() {
		return nil
	}

	return kafka.NewWriter(kafka.Config{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	})
}
