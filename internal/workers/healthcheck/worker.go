package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"paykit/internal/metrics"
)

const (
	defaultInterval = 30 * time.Second
	checkTimeout    = 5 * time.Second
	// stillDownEvery throttles repeated alerts for a dependency that stays down.
	stillDownEvery = 10
)

type status struct {
	isUp         bool
	since        time.Time
	failureCount int
}

// Worker probes dependencies on an interval, exports their state as a gauge
// and alerts admins on transitions.
type Worker struct {
	probes   []Probe
	notifier Notifier
	chatIDs  []int64
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	statusMu sync.RWMutex
	statuses map[string]*status

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker builds a worker. notifier may be nil, in which case transitions
// are only logged.
func NewWorker(probes []Probe, notifier Notifier, chatIDs []int64, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Worker{
		probes:   probes,
		notifier: notifier,
		chatIDs:  chatIDs,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		statuses: make(map[string]*status),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (w *Worker) Name() string {
	return "healthcheck"
}

func (w *Worker) Start() error {
	w.logger.Info("Starting health check worker",
		"interval", w.interval,
		"probes", len(w.probes))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in healthcheck worker goroutine", "panic", r)
			}
		}()
		w.run()
	}()
	return nil
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping health check worker")
	close(w.stopCh)
	<-w.doneCh
}

// Healthy reports whether every probe passed its last check. Dependencies
// that were never checked count as healthy.
func (w *Worker) Healthy() bool {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	for _, s := range w.statuses {
		if !s.isUp {
			return false
		}
	}
	return true
}

func (w *Worker) run() {
	defer close(w.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.CheckAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.CheckAll(ctx)
		case <-w.stopCh:
			return
		}
	}
}

// CheckAll runs every probe once.
func (w *Worker) CheckAll(ctx context.Context) {
	for _, p := range w.probes {
		if ctx.Err() != nil {
			return
		}
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := p.Check(checkCtx)
		cancel()

		if err != nil {
			w.logger.Warn("Health check failed", "dependency", p.Name(), "error", err)
		} else {
			w.logger.Debug("Health check passed", "dependency", p.Name())
		}
		w.updateStatus(ctx, p.Name(), err == nil)
	}
}

func (w *Worker) updateStatus(ctx context.Context, name string, isUp bool) {
	gauge := 0.0
	if isUp {
		gauge = 1
	}
	metrics.DependencyUp.WithLabelValues(name).Set(gauge)

	now := w.now()

	w.statusMu.Lock()
	prev, exists := w.statuses[name]
	if !exists {
		prev = &status{isUp: true, since: now}
		w.statuses[name] = prev
	}

	var message string
	switch {
	case prev.isUp && !isUp:
		prev.isUp = false
		prev.failureCount = 1
		prev.since = now
		message = downMessage(name, prev.failureCount, now)
	case !prev.isUp && !isUp:
		prev.failureCount++
		if prev.failureCount%stillDownEvery == 0 {
			message = downMessage(name, prev.failureCount, now)
		}
	case !prev.isUp && isUp:
		message = recoveredMessage(name, now.Sub(prev.since), now)
		prev.isUp = true
		prev.failureCount = 0
		prev.since = now
	}
	w.statusMu.Unlock()

	if message != "" {
		w.sendToAdmins(ctx, message)
	}
}

func downMessage(name string, failureCount int, at time.Time) string {
	return fmt.Sprintf(
		"🚨 *Dependency Down*\n\n"+
			"Dependency: `%s`\n"+
			"Status: ❌ *FAILED*\n"+
			"Failed checks: `%d`\n"+
			"Time: `%s`",
		name,
		failureCount,
		at.UTC().Format("2006-01-02 15:04:05"),
	)
}

func recoveredMessage(name string, downtime time.Duration, at time.Time) string {
	return fmt.Sprintf(
		"✅ *Dependency Recovered*\n\n"+
			"Dependency: `%s`\n"+
			"Status: ✅ *OK*\n"+
			"Downtime: `%s`\n"+
			"Time: `%s`",
		name,
		formatDuration(downtime),
		at.UTC().Format("2006-01-02 15:04:05"),
	)
}

func (w *Worker) sendToAdmins(ctx context.Context, message string) {
	if w.notifier == nil {
		return
	}
	for _, chatID := range w.chatIDs {
		if err := w.notifier.SendMessage(ctx, chatID, message); err != nil {
			w.logger.Error("Failed to send notification to admin",
				"chat_id", chatID,
				"error", err)
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d sec", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d min %d sec", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d h %d min", int(d.Hours()), int(d.Minutes())%60)
}
