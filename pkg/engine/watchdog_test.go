package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine/enginetest"
)

// hangingPort blocks Normalize until release is closed.
type hangingPort struct {
	*enginetest.Fake

	release chan struct{}
}

func (h *hangingPort) Normalize(ctx context.Context, name string) error {
	<-h.release

	return h.Fake.Normalize(ctx, name)
}

// abortablePort hangs Normalize until Abort is called.
type abortablePort struct {
	*enginetest.Fake

	release chan struct{}
	once    sync.Once
	aborts  atomic.Int32
}

func (a *abortablePort) Normalize(ctx context.Context, name string) error {
	<-a.release

	return a.Fake.Normalize(ctx, name)
}

func (a *abortablePort) Abort() error {
	a.aborts.Add(1)
	a.once.Do(func() { close(a.release) })

	return nil
}

func TestWithTimeout_StallAbortsThePort(t *testing.T) {
	t.Parallel()

	a := &abortablePort{Fake: enginetest.New(), release: make(chan struct{})}
	t.Cleanup(func() { _ = a.Abort() })

	guarded := engine.WithTimeout(a, 20*time.Millisecond, nil)

	err := guarded.Normalize(context.Background(), "A")
	require.ErrorIs(t, err, engine.ErrStalled)
	assert.Equal(t, int32(1), a.aborts.Load())
}

func TestWithTimeout_DisabledReturnsSamePort(t *testing.T) {
	t.Parallel()

	f := enginetest.New()
	assert.Same(t, f, engine.WithTimeout(f, 0, nil))
}

func TestWithTimeout_StalledCallFails(t *testing.T) {
	t.Parallel()

	h := &hangingPort{Fake: enginetest.New(), release: make(chan struct{})}
	defer close(h.release)

	guarded := engine.WithTimeout(h, 20*time.Millisecond, nil)

	err := guarded.Normalize(context.Background(), "A")
	require.ErrorIs(t, err, engine.ErrStalled)

	wd, ok := guarded.(*engine.Watchdog)
	require.True(t, ok)
	assert.Equal(t, 1, wd.StalledCount())
}

func TestWithTimeout_PassesThroughResults(t *testing.T) {
	t.Parallel()

	f := enginetest.New()
	f.AddFile("p", engine.DatasetInfo{Count: 2, Length: 9})

	guarded := engine.WithTimeout(f, time.Second, nil)

	info, err := guarded.LoadDataset(context.Background(), "A", "p", engine.DefaultLoadOptions)
	require.NoError(t, err)
	assert.Equal(t, engine.DatasetInfo{Count: 2, Length: 9}, info)

	_, err = guarded.LoadDataset(context.Background(), "B", "missing", engine.DefaultLoadOptions)
	require.ErrorIs(t, err, enginetest.ErrUnknownFile)
}

func TestWithTimeout_RespectsCancellation(t *testing.T) {
	t.Parallel()

	h := &hangingPort{Fake: enginetest.New(), release: make(chan struct{})}
	defer close(h.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.WithTimeout(h, time.Minute, nil).Normalize(ctx, "A")
	require.ErrorIs(t, err, context.Canceled)
}

func TestOffline_RejectsEveryCall(t *testing.T) {
	t.Parallel()

	var p engine.Port = engine.Offline{}

	_, err := p.LoadDataset(context.Background(), "A", "a.csv", engine.DefaultLoadOptions)
	require.ErrorIs(t, err, engine.ErrOffline)
	assert.Contains(t, err.Error(), engine.OpLoadDataset)

	_, err = p.QueryBruteforce(context.Background(), 1, engine.Request{Dataset: "A"}, "euclidean")
	require.ErrorIs(t, err, engine.ErrOffline)

	require.ErrorIs(t, p.SaveGrouping(context.Background(), "A", "g"), engine.ErrOffline)
}
