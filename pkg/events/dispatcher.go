package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightkids/participation-api/pkg/config"
	"github.com/brightkids/participation-api/pkg/jobs"
)

// Dispatcher decouples post-commit event publishing from request latency:
// services enqueue, workers publish to the underlying bus with bounded
// retries. The result is at-least-once, possibly-duplicated delivery.
type Dispatcher struct {
	bus   Bus
	queue *jobs.Queue
}

// NewDispatcher wraps a bus with an asynchronous worker queue.
func NewDispatcher(bus Bus, cfg config.EventsConfig, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{bus: bus}
	d.queue = jobs.NewQueue("domain-events", d.publish, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return d
}

// Start begins event delivery workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains workers.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// Dispatch implements Bus. Events are accepted immediately and delivered
// by the workers.
func (d *Dispatcher) Dispatch(_ context.Context, event Event) error {
	return d.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(event.Type),
		Payload: event,
	})
}

func (d *Dispatcher) publish(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(Event)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for job %s", job.Payload, job.ID)
	}
	return d.bus.Dispatch(ctx, event)
}
