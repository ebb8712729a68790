package environment

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"

	"paykit/internal/config"
)

type closer func()

type Env struct {
	Config   *config.Config
	Logger   *slog.Logger
	Servers  *Servers
	Clients  *Clients
	Services *Services

	Closers []closer
}

func Setup(ctx context.Context) (*Env, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg config.Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, errors.Wrap(err, "env processing")
	}

	logger, flushLogs, err := initLogger(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "initLogger")
	}

	clients, err := newClients(ctx, cfg, logger)
	if err != nil {
		flushLogs()
		return nil, errors.Wrap(err, "newClients")
	}

	services, err := newServices(ctx, clients, &cfg, logger)
	if err != nil {
		_ = clients.SQLiteDB.Close()
		flushLogs()
		return nil, errors.Wrap(err, "newServices")
	}

	e := Env{
		Config:   &cfg,
		Logger:   logger,
		Servers:  newServers(ctx, cfg, logger, clients),
		Clients:  clients,
		Services: services,
	}

	if clients.Kafka != nil {
		e.Closers = append(e.Closers, func() {
			if err := clients.Kafka.Close(); err != nil {
				logger.Error("Failed to close kafka writer", "error", err)
			}
		})
	}
	e.Closers = append(e.Closers,
		func() {
			if err := clients.SQLiteDB.Close(); err != nil {
				logger.Error("Failed to close database", "error", err)
			}
		},
		flushLogs,
	)

	return &e, nil
}
