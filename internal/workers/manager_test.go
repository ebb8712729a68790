package workers

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	name     string
	startErr error
	log      *[]string
}

func (w *fakeWorker) Start() error {
	*w.log = append(*w.log, "start "+w.name)
	return w.startErr
}

func (w *fakeWorker) Stop()        { *w.log = append(*w.log, "stop "+w.name) }
func (w *fakeWorker) Name() string { return w.name }

func TestManager_StopsInReverseOrder(t *testing.T) {
	var log []string
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)),
		&fakeWorker{name: "a", log: &log},
		&fakeWorker{name: "b", log: &log},
	)

	require.NoError(t, m.Start())
	m.Stop()

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestManager_StartFailureStopsStarted(t *testing.T) {
	var log []string
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)),
		&fakeWorker{name: "a", log: &log},
		&fakeWorker{name: "b", log: &log, startErr: errors.New("boom")},
		&fakeWorker{name: "c", log: &log},
	)

	err := m.Start()
	assert.ErrorContains(t, err, "failed to start worker b")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}
