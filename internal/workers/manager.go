package workers

import (
	"fmt"
	"log/slog"
)

// Manager starts workers in order and stops them in reverse.
type Manager struct {
	workers []Worker
	started []Worker
	logger  *slog.Logger
}

func NewManager(logger *slog.Logger, workers ...Worker) *Manager {
	return &Manager{
		workers: workers,
		logger:  logger,
	}
}

// Start starts every worker. If one fails, the ones already started are
// stopped before the error is returned.
func (m *Manager) Start() error {
	m.logger.Info("Starting worker manager", "worker_count", len(m.workers))

	for _, worker := range m.workers {
		m.logger.Info("Starting worker", "name", worker.Name())
		if err := worker.Start(); err != nil {
			m.Stop()
			return fmt.Errorf("failed to start worker %s: %w", worker.Name(), err)
		}
		m.started = append(m.started, worker)
		m.logger.Info("Worker started successfully", "name", worker.Name())
	}

	m.logger.Info("All workers started successfully")
	return nil
}

func (m *Manager) Stop() {
	m.logger.Info("Stopping all workers")

	for i := len(m.started) - 1; i >= 0; i-- {
		worker := m.started[i]
		m.logger.Info("Stopping worker", "name", worker.Name())
		worker.Stop()
	}
	m.started = nil

	m.logger.Info("All workers stopped")
}
