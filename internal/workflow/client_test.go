package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/rabbitmq"
)

func TestClient_Start(t *testing.T) {
	store := newMemoryStore()
	pub := new(MockPublisher)
	client := NewClient(store, pub, time.Minute, newNoopLogger())
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	client.clock = func() time.Time { return now }

	pub.On("Publish", mock.Anything, rabbitmq.WorkflowRunRoutingKey, mock.AnythingOfType("workflow.RunMessage")).
		Return(nil).Once()

	id, err := client.Start(context.Background(), "greet", map[string]string{"name": "x"})
	require.NoError(t, err)

	run := store.run(id)
	assert.Equal(t, "greet", run.Workflow)
	assert.Equal(t, StatusRunning, run.Status)
	assert.JSONEq(t, `{"name":"x"}`, string(run.Payload))
	assert.Equal(t, now.Add(time.Minute), *run.WakeAt)

	msg := pub.Calls[0].Arguments.Get(2).(RunMessage)
	assert.Equal(t, id, msg.RunID)
	pub.AssertExpectations(t)
}

func TestClient_StartSurvivesPublishFailure(t *testing.T) {
	store := newMemoryStore()
	pub := new(MockPublisher)
	client := NewClient(store, pub, time.Minute, newNoopLogger())

	pub.On("Publish", mock.Anything, rabbitmq.WorkflowRunRoutingKey, mock.Anything).
		Return(errors.New("broker down")).Once()

	id, err := client.Start(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, store.run(id).Status)
}

func TestClient_StartRejectsUnencodableInput(t *testing.T) {
	client := NewClient(newMemoryStore(), new(MockPublisher), time.Minute, newNoopLogger())

	_, err := client.Start(context.Background(), "greet", make(chan int))
	var typeErr *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &typeErr)
}
