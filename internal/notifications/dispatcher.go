// Package notifications fans committed incident transitions out to publishers.
//
// Delivery is best effort. A transition is already committed when it is
// handed over, so the Worker queues it and publishes in the background;
// failures are retried, logged and counted but never reach the request
// that caused them.
package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/bissquit/status-dashboard/internal/incidents"
	"github.com/bissquit/status-dashboard/internal/pkg/ctxlog"
)

// Publisher delivers messages to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

// DispatcherConfig configures delivery attempts.
type DispatcherConfig struct {
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Dispatcher publishes a message to every publisher with bounded retries.
type Dispatcher struct {
	publishers []Publisher
	cfg        DispatcherConfig
	now        func() time.Time
}

// NewDispatcher creates a dispatcher publishing to every publisher in order.
func NewDispatcher(cfg DispatcherConfig, publishers ...Publisher) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	return &Dispatcher{
		publishers: publishers,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Dispatch publishes the transition to all publishers. It blocks until every
// publisher succeeded or ran out of attempts, or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, t incidents.Transition) {
	msg := NewMessage(t, d.now().UTC())
	logger := ctxlog.FromContext(ctx)

	for _, p := range d.publishers {
		start := time.Now()
		err := d.publish(ctx, p, msg)
		recordPublishDuration(p.Name(), time.Since(start))

		if err != nil {
			recordPublished(p.Name(), "failed")
			logger.Error("failed to publish transition",
				"publisher", p.Name(),
				"incident_id", msg.IncidentID,
				"outcome", msg.Outcome,
				"error", err,
			)
			continue
		}
		recordPublished(p.Name(), "sent")
	}
}

func (d *Dispatcher) publish(ctx context.Context, p Publisher, msg Message) error {
	backoff := d.cfg.InitialBackoff

	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		err = p.Publish(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < d.cfg.MaxAttempts {
			slog.Debug("publish failed, retrying", "publisher", p.Name(), "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return err
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return err
}
