package tracker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"outage-tracker/pkg/metrics"
)

// Dispatcher feeds reconcile requests from the entity store to a pool of
// workers. Requests are processed in arrival order per worker but carry no
// ordering guarantee across workers; the reconciler converges to current
// state, so order does not matter.
type Dispatcher struct {
	queue      chan uint
	reconciler *Reconciler
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	workers    int
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
	mu         sync.Mutex
	closed     bool
}

// NewDispatcher creates a new Dispatcher instance.
func NewDispatcher(reconciler *Reconciler, workers, queueSize int, m *metrics.Metrics, logger *logrus.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &Dispatcher{
		queue:      make(chan uint, queueSize),
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
		workers:    workers,
	}
}

// Enqueue schedules a reconciliation for an outage. A full or stopped queue
// drops the request with a warning; the next mutation or sweep re-converges
// the announcement.
func (d *Dispatcher) Enqueue(outageID uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.WithField("outage_id", outageID).
			Warn("Dispatcher stopped, dropping reconcile request")
		return
	}
	select {
	case d.queue <- outageID:
		d.metrics.ReconcileQueueDepth.Set(float64(len(d.queue)))
	default:
		d.logger.WithField("outage_id", outageID).
			Warn("Reconcile queue full, dropping request")
	}
}

// Start launches the worker pool. Workers exit when the context is cancelled
// or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx)
		}
	})
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case outageID, ok := <-d.queue:
			if !ok {
				return
			}
			d.metrics.ReconcileQueueDepth.Set(float64(len(d.queue)))
			d.reconciler.Reconcile(outageID)
		}
	}
}

// Stop closes the queue and waits for in-flight reconciliations to finish.
// Later Enqueue calls are dropped rather than sent on the closed channel.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.queue)
	})
	d.wg.Wait()
}
