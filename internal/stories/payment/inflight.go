package payment

import (
	"context"
	"sync"
	"time"
)

type call struct {
	done       chan struct{}
	req        *Request
	err        error
	cancel     context.CancelCauseFunc
	finishedAt time.Time
}

// inflight allows one run per correlation ID. Finished runs are kept for
// retention so late duplicates observe the result instead of re-running.
type inflight struct {
	mu        sync.Mutex
	running   map[string]*call
	finished  map[string]*call
	retention time.Duration
	now       func() time.Time
}

func newInflight(retention time.Duration, now func() time.Time) *inflight {
	return &inflight{
		running:   make(map[string]*call),
		finished:  make(map[string]*call),
		retention: retention,
		now:       now,
	}
}

// acquire registers a run for id. It returns owner=false and the existing
// call when id is running or already succeeded.
func (f *inflight) acquire(id string, req *Request, cancel context.CancelCauseFunc) (c *call, owner bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pruneLocked()

	if c, ok := f.running[id]; ok {
		return c, false
	}
	if c, ok := f.finished[id]; ok && c.req.Outcome().Status == StatusSucceeded {
		return c, false
	}

	c = &call{done: make(chan struct{}), req: req, cancel: cancel}
	f.running[id] = c
	return c, true
}

func (f *inflight) release(id string, c *call, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c.err = err
	c.finishedAt = f.now()
	if f.running[id] == c {
		delete(f.running, id)
	}
	f.finished[id] = c
	close(c.done)
}

func (f *inflight) cancel(id string, cause error) bool {
	f.mu.Lock()
	c, ok := f.running[id]
	f.mu.Unlock()

	if !ok {
		return false
	}
	c.cancel(cause)
	return true
}

func (f *inflight) get(id string) (*Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.running[id]; ok {
		return c.req, true
	}
	if c, ok := f.finished[id]; ok {
		return c.req, true
	}
	return nil, false
}

func (f *inflight) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

func (f *inflight) pruneLocked() {
	if f.retention <= 0 {
		return
	}
	cutoff := f.now().Add(-f.retention)
	for id, c := range f.finished {
		if c.finishedAt.Before(cutoff) {
			delete(f.finished, id)
		}
	}
}
