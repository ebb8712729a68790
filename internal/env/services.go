package environment

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"paykit/internal/config"
	"paykit/internal/events"
	"paykit/internal/infra/kafka"
	"paykit/internal/infra/pubky"
	"paykit/internal/infra/webhook"
	"paykit/internal/storage"
	"paykit/internal/stories/catalog"
	"paykit/internal/stories/ledger"
	"paykit/internal/stories/matching"
	"paykit/internal/stories/payment"
	"paykit/internal/stories/subs"
	"paykit/internal/workers"
	"paykit/internal/workers/alerts"
	"paykit/internal/workers/eventsink"
	"paykit/internal/workers/healthcheck"
	"paykit/internal/workers/scheduler"
)

type Services struct {
	Bus       *events.Bus
	Resolver  *catalog.Resolver
	Endpoints *catalog.Endpoints
	Registry  *payment.Registry
	Payments  *payment.Service
	Ledger    *ledger.Service
	Messenger *pubky.Messenger
	Scheduler *subs.Scheduler
	Workers   *workers.Manager
}

func newServices(_ context.Context, clients *Clients, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	var s Services

	storageImpl := storage.New(clients.SQLiteDB.DB)

	s.Bus = events.NewBus(cfg.Events.BufferSize, logger.WithGroup("events"))
	s.Ledger = ledger.NewService(storageImpl, logger.WithGroup("ledger"))

	s.Resolver = catalog.NewResolver(catalog.Config{
		CacheTTL:      cfg.Catalog.CacheTTL,
		CacheCapacity: cfg.Catalog.CacheCapacity,
		FetchTimeout:  cfg.Catalog.FetchTimeout,
	}, clients.Routing, s.Bus, logger.WithGroup("catalog"))
	s.Endpoints = catalog.NewEndpoints(clients.Routing.Owner(), clients.Routing, clients.Routing)
	s.Messenger = pubky.NewMessenger(clients.Routing)

	policy, err := matching.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load selection policy")
	}

	s.Registry = payment.NewRegistry()
	if cfg.Webhook.URL != "" {
		backend := webhook.NewBackend(webhook.Config{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Webhook.Timeout,
		}, logger.WithGroup("webhook"))
		for _, method := range cfg.Webhook.Methods {
			if err := s.Registry.Register(catalog.MethodID(method), backend); err != nil {
				return nil, errors.Wrapf(err, "failed to register webhook backend for %q", method)
			}
		}
	}

	orchestrator := payment.NewOrchestrator(payment.ExecutorConfig{
		AttemptTimeout: cfg.Executor.AttemptTimeout,
		MaxRetries:     cfg.Executor.MaxRetries,
		BackoffBase:    cfg.Executor.BackoffBase,
		BackoffMax:     cfg.Executor.BackoffMax,
	}, s.Registry, s.Resolver, s.Bus, logger.WithGroup("executor"))

	s.Payments = payment.NewService(payment.Config{
		NotifyTimeout:    cfg.Executor.NotifyTimeout,
		RequestRetention: cfg.Executor.RequestRetention,
	}, s.Resolver, orchestrator, s.Registry, policy, s.Ledger, s.Messenger, logger.WithGroup("payment"))

	s.Scheduler = subs.NewScheduler(subs.Config{
		Concurrency: cfg.Scheduler.Concurrency,
	}, storageImpl, s.Payments, s.Messenger, s.Ledger, s.Bus, logger.WithGroup("subs"))

	s.Workers = workers.NewManager(logger.WithGroup("workers"), provideWorkers(clients, cfg, &s, logger)...)

	return &s, nil
}

func provideWorkers(clients *Clients, cfg *config.Config, s *Services, logger *slog.Logger) []workers.Worker {
	var list []workers.Worker

	if cfg.Scheduler.Enabled {
		list = append(list, scheduler.NewWorker(s.Scheduler, cfg.Scheduler.Interval, logger.WithGroup("scheduler")))
	}

	if clients.Kafka != nil {
		sink := kafka.NewSink(clients.Kafka, logger.WithGroup("kafka"))
		list = append(list, eventsink.NewWorker(s.Bus, sink, cfg.Kafka.BatchSize, logger.WithGroup("eventsink")))
	}

	var notifier healthcheck.Notifier
	if clients.TelegramBot != nil {
		notifier = clients.TelegramBot
		list = append(list, alerts.NewWorker(s.Bus, clients.TelegramBot, cfg.Telegram.AlertChatIDs, logger.WithGroup("alerts")))
	}

	probes := []healthcheck.Probe{healthcheck.ProbeFunc("database", clients.SQLiteDB.PingContext)}
	if gw, ok := clients.Routing.(gatewayPinger); ok {
		probes = append(probes, healthcheck.ProbeFunc("routing-gateway", gw.Ping))
	}
	list = append(list, healthcheck.NewWorker(probes, notifier, cfg.Telegram.AlertChatIDs, cfg.Health.Interval, logger.WithGroup("healthcheck")))

	return list
}
