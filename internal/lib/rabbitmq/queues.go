package rabbitmq

// Обменники и ключи маршрутизации.
const (
	NotificationsExchange = "notifications"
	WorkflowsExchange     = "workflows"

	ReminderRoutingKey    = "reminder"
	WorkflowRunRoutingKey = "run"

	ReminderQueue    = "notification.reminder"
	WorkflowRunQueue = "workflow.runs"
)

// QueueConfig описывает очередь и её привязку к обменнику.
type QueueConfig struct {
	Exchange   string
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues очереди сервиса отправки уведомлений.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{Exchange: NotificationsExchange, QueueName: ReminderQueue, RoutingKey: ReminderRoutingKey},
	}
}

// GetWorkflowQueues очереди обработчика сценариев.
func GetWorkflowQueues() []QueueConfig {
	return []QueueConfig{
		{Exchange: WorkflowsExchange, QueueName: WorkflowRunQueue, RoutingKey: WorkflowRunRoutingKey},
	}
}
