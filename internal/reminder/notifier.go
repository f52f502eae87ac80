package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/workflow"
)

// QueueNotifier публикует напоминания в очередь notification.reminder.
type QueueNotifier struct {
	publisher workflow.Publisher
	log       *slog.Logger
}

// NewQueueNotifier создает QueueNotifier.
func NewQueueNotifier(publisher workflow.Publisher, log *slog.Logger) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, log: log}
}

// Notify публикует напоминание.
func (n *QueueNotifier) Notify(ctx context.Context, msg models.ReminderMessage) error {
	const op = "reminder.Notify"
	n.log.Info(fmt.Sprintf("triggering %d-day reminder", msg.DaysBefore),
		slog.String("op", op),
		slog.String("subscription_id", msg.SubscriptionID),
		slog.String("user_email", msg.UserEmail),
		slog.Time("renewal_date", msg.RenewalDate),
	)
	if err := n.publisher.Publish(ctx, rabbitmq.ReminderRoutingKey, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.RemindersFired.WithLabelValues(strconv.Itoa(msg.DaysBefore)).Inc()
	return nil
}
