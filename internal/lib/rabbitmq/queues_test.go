package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueues(t *testing.T) {
	all := append(GetNotificationQueues(), GetWorkflowQueues()...)
	require.Len(t, all, 2)

	assert.Equal(t, QueueConfig{Exchange: "notifications", QueueName: "notification.reminder", RoutingKey: "reminder"}, all[0])
	assert.Equal(t, QueueConfig{Exchange: "workflows", QueueName: "workflow.runs", RoutingKey: "run"}, all[1])

	seen := map[string]bool{}
	for _, q := range all {
		assert.Falsef(t, seen[q.QueueName], "duplicate queue name: %s", q.QueueName)
		seen[q.QueueName] = true
	}
}
