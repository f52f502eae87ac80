package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
)

// Client запускает новые экземпляры сценариев.
type Client struct {
	store      Store
	publisher  Publisher
	redelivery time.Duration
	clock      func() time.Time
	log        *slog.Logger
}

// NewClient создает Client. redelivery задаёт, через сколько диспетчер
// повторно отправит экземпляр, если сообщение о запуске потеряется.
func NewClient(store Store, publisher Publisher, redelivery time.Duration, log *slog.Logger) *Client {
	if redelivery <= 0 {
		redelivery = 5 * time.Minute
	}
	return &Client{
		store:      store,
		publisher:  publisher,
		redelivery: redelivery,
		clock:      time.Now,
		log:        log,
	}
}

// Start создает экземпляр сценария workflow с входными данными input.
// Экземпляр сохраняется до публикации, поэтому сбой брокера не теряет запуск.
func (c *Client) Start(ctx context.Context, workflow string, input any) (uuid.UUID, error) {
	const op = "workflow.Start"
	payload, err := json.Marshal(input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	wakeAt := c.clock().UTC().Add(c.redelivery)
	run := Run{
		ID:       uuid.New(),
		Workflow: workflow,
		Payload:  payload,
		Status:   StatusRunning,
		WakeAt:   &wakeAt,
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	log := c.log.With(slog.String("op", op), slog.String("workflow", workflow), sl.RunID(run.ID.String()))
	if err := c.publisher.Publish(ctx, rabbitmq.WorkflowRunRoutingKey, RunMessage{RunID: run.ID}); err != nil {
		log.Warn("failed to publish run, dispatcher will retry", sl.Err(err))
		return run.ID, nil
	}
	log.Info("workflow started")
	return run.ID, nil
}
