package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultInterval = 10 * time.Second

// Worker drives subscription ticks on a fixed interval. A tick that is
// still running when the next one is due is skipped.
type Worker struct {
	scheduler Ticker
	interval  time.Duration
	logger    *slog.Logger
	cron      *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(scheduler Ticker, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		scheduler: scheduler,
		interval:  interval,
		logger:    logger,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (w *Worker) Name() string {
	return "subscription-scheduler"
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.interval), w.tick)
	if err != nil {
		return fmt.Errorf("failed to schedule subscription ticks: %w", err)
	}

	w.logger.Info("Starting subscription scheduler worker", "interval", w.interval)
	w.cron.Start()
	return nil
}

// Stop cancels the running tick and waits for it to return.
func (w *Worker) Stop() {
	w.logger.Info("Stopping subscription scheduler worker")
	w.cancel()
	<-w.cron.Stop().Done()
}

func (w *Worker) tick() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic in subscription scheduler tick", "panic", r)
		}
	}()

	start := time.Now()
	if err := w.scheduler.Tick(w.ctx); err != nil {
		w.logger.Error("Failed to run subscription tick", "error", err)
		return
	}
	w.logger.Debug("Subscription tick completed", "duration", time.Since(start))
}
