package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/workflow"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRuntime журнал в памяти и управляемые часы. Переживает "падения":
// повторный вызов сценария с тем же fakeRuntime воспроизводит журнал.
type fakeRuntime struct {
	now     time.Time
	steps   map[string]json.RawMessage
	timers  map[string]time.Time
	sleeps  []time.Time
	wakeAt  time.Time
	failRun map[string]error
}

func newFakeRuntime(now time.Time) *fakeRuntime {
	return &fakeRuntime{
		now:     now,
		steps:   make(map[string]json.RawMessage),
		timers:  make(map[string]time.Time),
		failRun: make(map[string]error),
	}
}

func (r *fakeRuntime) Now() time.Time { return r.now }

func (r *fakeRuntime) Run(ctx context.Context, label string, out any, fn workflow.StepFunc) error {
	if data, ok := r.steps[label]; ok {
		return decodeInto(data, out)
	}
	if err, ok := r.failRun[label]; ok {
		delete(r.failRun, label)
		return err
	}
	v, err := fn(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.steps[label] = data
	return decodeInto(data, out)
}

func (r *fakeRuntime) SleepUntil(_ context.Context, label string, at time.Time) error {
	wake, ok := r.timers[label]
	if !ok {
		wake = at
		r.timers[label] = at
		r.sleeps = append(r.sleeps, at)
	}
	if wake.After(r.now) {
		r.wakeAt = wake
		return workflow.ErrSuspended
	}
	return nil
}

func decodeInto(data json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// drive выполняет сценарий, как это делает движок: после каждой
// приостановки часы переводятся на момент пробуждения и сценарий
// воспроизводится с начала.
func drive(t *testing.T, s *Scheduler, rt *fakeRuntime, id string) (Outcome, error) {
	t.Helper()
	for i := 0; i < 100; i++ {
		outcome, err := s.Schedule(context.Background(), rt, id)
		if !errors.Is(err, workflow.ErrSuspended) {
			return outcome, err
		}
		rt.now = rt.wakeAt
	}
	require.FailNow(t, "workflow did not finish")
	return "", nil
}

// memorySource подписки в памяти.
type memorySource struct {
	mu   sync.Mutex
	subs map[string]Snapshot
	err  error
}

func newMemorySource(subs ...Snapshot) *memorySource {
	s := &memorySource{subs: make(map[string]Snapshot)}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	return s
}

func (s *memorySource) GetSubscriptionSnapshot(_ context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	sub, ok := s.subs[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *memorySource) update(id string, fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.subs[id]
	fn(&sub)
	s.subs[id] = sub
}

// recordingNotifier запоминает отправленные напоминания.
type recordingNotifier struct {
	sent    []models.ReminderMessage
	at      []time.Time
	rt      *fakeRuntime
	onSend  func(models.ReminderMessage)
	failFor map[int]error
}

func (n *recordingNotifier) Notify(_ context.Context, msg models.ReminderMessage) error {
	if err, ok := n.failFor[msg.DaysBefore]; ok {
		delete(n.failFor, msg.DaysBefore)
		return err
	}
	n.sent = append(n.sent, msg)
	if n.rt != nil {
		n.at = append(n.at, n.rt.now)
	}
	if n.onSend != nil {
		n.onSend(msg)
	}
	return nil
}

func (n *recordingNotifier) days() []int {
	out := make([]int, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.DaysBefore)
	}
	return out
}

// MockSubscriptionReader мок хранилища.
type MockSubscriptionReader struct {
	mock.Mock
}

func (m *MockSubscriptionReader) GetSubscriptionWithOwner(ctx context.Context, id string) (*models.SubscriptionWithOwner, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionWithOwner), args.Error(1)
}

// MockPublisher мок брокера.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, message any) error {
	args := m.Called(ctx, routingKey, message)
	return args.Error(0)
}
