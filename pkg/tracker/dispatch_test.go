package tracker

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherProcessesQueuedReconciles(t *testing.T) {
	f := newReconcilerFixture(t)
	f.seedOutage()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	dispatcher := NewDispatcher(f.reconciler, 2, 8, f.metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	dispatcher.Enqueue(1)
	// Stop drains in-flight work before returning.
	dispatcher.Stop()

	require.Len(t, f.server.PostedMessages(), 1)
	assert.True(t, f.store.Announcement.Posted())
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	f := newReconcilerFixture(t)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	dispatcher := NewDispatcher(f.reconciler, 1, 1, f.metrics, logger)

	// No workers are running, so the single slot fills and the second
	// request is dropped rather than blocking the caller.
	dispatcher.Enqueue(1)
	dispatcher.Enqueue(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReconcileQueueDepth))
	assert.Equal(t, 0, f.store.LockAttempts)
}

func TestDispatcherDropsEnqueueAfterStop(t *testing.T) {
	f := newReconcilerFixture(t)
	f.seedOutage()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	dispatcher := NewDispatcher(f.reconciler, 1, 4, f.metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	dispatcher.Stop()

	// A mutation racing shutdown must be dropped, not panic on the closed
	// queue.
	dispatcher.Enqueue(1)

	assert.Empty(t, f.server.PostedMessages())
	assert.Equal(t, 0, f.store.LockAttempts)
}

func TestDispatcherStopIsIdempotent(t *testing.T) {
	f := newReconcilerFixture(t)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	dispatcher := NewDispatcher(f.reconciler, 1, 4, f.metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	dispatcher.Stop()
	dispatcher.Stop()
}
