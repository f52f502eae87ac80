package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_Publish(t *testing.T) {
	url := amqpURL(t)

	conn, err := Connect(url, 3, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ch, err := SetupChannel(conn, GetNotificationQueues())
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	type testMsg struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	publisher := NewPublisher(ch, NotificationsExchange)

	t.Run("success publish and consume", func(t *testing.T) {
		msg := testMsg{ID: 1, Name: "Netflix"}
		require.NoError(t, publisher.Publish(context.Background(), ReminderRoutingKey, msg))

		deliveries, err := ch.Consume(ReminderQueue, "test-consumer", true, false, false, false, nil)
		require.NoError(t, err)

		select {
		case d := <-deliveries:
			var got testMsg
			require.NoError(t, json.Unmarshal(d.Body, &got))
			assert.Equal(t, msg, got)
			assert.Equal(t, "application/json", d.ContentType)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("marshal error", func(t *testing.T) {
		bad := struct {
			Ch chan int `json:"ch"`
		}{Ch: make(chan int)}

		err := publisher.Publish(context.Background(), ReminderRoutingKey, bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rabbitmq.PublishMessage")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := publisher.Publish(ctx, ReminderRoutingKey, testMsg{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
