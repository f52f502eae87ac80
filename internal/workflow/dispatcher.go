package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
)

// Dispatcher возвращает в очередь экземпляры, у которых наступил wake_at.
type Dispatcher struct {
	store      Store
	publisher  Publisher
	batchSize  int
	redelivery time.Duration
	clock      func() time.Time
	log        *slog.Logger
}

// NewDispatcher создает Dispatcher.
func NewDispatcher(store Store, publisher Publisher, batchSize int, redelivery time.Duration, log *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if redelivery <= 0 {
		redelivery = 5 * time.Minute
	}
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		batchSize:  batchSize,
		redelivery: redelivery,
		clock:      time.Now,
		log:        log,
	}
}

// DispatchDue публикует готовые экземпляры и возвращает их количество.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	const op = "workflow.DispatchDue"
	log := d.log.With(slog.String("op", op))

	now := d.clock().UTC()
	ids, err := d.store.DueRuns(ctx, now, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	dispatched := 0
	for _, id := range ids {
		if err := d.publisher.Publish(ctx, rabbitmq.WorkflowRunRoutingKey, RunMessage{RunID: id}); err != nil {
			log.Error("failed to publish due run", sl.RunID(id.String()), sl.Err(err))
			continue
		}
		if err := d.store.Reschedule(ctx, id, now, now.Add(d.redelivery)); err != nil {
			log.Error("failed to reschedule run", sl.RunID(id.String()), sl.Err(err))
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		metrics.WorkflowDispatched.Add(float64(dispatched))
		log.Info("due runs dispatched", slog.Int("count", dispatched))
	}
	return dispatched, nil
}
