package workers

// Worker is a background process owned by the daemon.
type Worker interface {
	// Start launches the worker and returns without blocking.
	Start() error

	// Stop blocks until the worker has finished its current unit of work.
	Stop()

	// Name returns the worker name for logging.
	Name() string
}
