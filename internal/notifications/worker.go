package notifications

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bissquit/status-dashboard/internal/incidents"
	"github.com/bissquit/status-dashboard/internal/pkg/ctxlog"
)

// DefaultQueueSize is used when WorkerConfig.QueueSize is not set.
const DefaultQueueSize = 256

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	QueueSize int
}

type job struct {
	transition incidents.Transition
	logger     *slog.Logger
}

// Worker queues committed transitions and publishes them in the background.
// It implements incidents.TransitionNotifier; Notify never waits for delivery.
type Worker struct {
	dispatcher *Dispatcher
	queue      chan job

	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a worker delivering through dispatcher.
func NewWorker(cfg WorkerConfig, dispatcher *Dispatcher) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Worker{
		dispatcher: dispatcher,
		queue:      make(chan job, cfg.QueueSize),
		cancel:     func() {},
		stopCh:     make(chan struct{}),
	}
}

// Notify enqueues the transition. When the queue is full the transition is
// dropped and counted.
func (w *Worker) Notify(ctx context.Context, t incidents.Transition) {
	logger := ctxlog.FromContext(ctx)

	select {
	case w.queue <- job{transition: t, logger: logger}:
		recordQueueDepth(len(w.queue))
	default:
		recordDropped()
		logger.Warn("notification queue full, transition dropped",
			"incident_id", t.IncidentID,
			"outcome", t.Outcome,
		)
	}
}

// Start launches the delivery goroutine.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	slog.Info("starting notification worker", "queue_size", cap(w.queue))

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop delivers what is already queued and stops the worker. When ctx ends
// first, in-flight publishing is cancelled and the rest of the queue is
// discarded.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("notification worker stopped")
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		slog.Warn("notification worker stopped before the queue was drained", "pending", len(w.queue))
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			w.drain(ctx)
			return
		case j := <-w.queue:
			w.deliver(ctx, j)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case j := <-w.queue:
			w.deliver(ctx, j)
		default:
			return
		}
	}
}

func (w *Worker) deliver(ctx context.Context, j job) {
	recordQueueDepth(len(w.queue))
	w.dispatcher.Dispatch(ctxlog.WithLogger(ctx, j.logger), j.transition)
}
