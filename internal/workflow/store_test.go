package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memoryStore журнал в памяти с той же семантикой, что и PostgresStore.
type memoryStore struct {
	mu    sync.Mutex
	runs  map[uuid.UUID]*Run
	steps map[uuid.UUID]map[string]Step
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		runs:  make(map[uuid.UUID]*Run),
		steps: make(map[uuid.UUID]map[string]Step),
	}
}

func (s *memoryStore) CreateRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := run
	s.runs[run.ID] = &r
	s.steps[run.ID] = make(map[string]Step)
	return nil
}

func (s *memoryStore) ClaimRun(_ context.Context, id uuid.UUID, now, leaseUntil time.Time) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	switch {
	case !ok:
		return nil, ErrRunNotFound
	case run.Status != StatusRunning:
		return nil, ErrRunFinished
	case run.LeaseUntil != nil && run.LeaseUntil.After(now):
		return nil, ErrRunLocked
	}
	run.LeaseUntil = &leaseUntil
	cp := *run
	return &cp, nil
}

func (s *memoryStore) LoadSteps(_ context.Context, runID uuid.UUID) (map[string]Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Step, len(s.steps[runID]))
	for k, v := range s.steps[runID] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) SaveStep(_ context.Context, runID uuid.UUID, step Step) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.steps[runID][step.Label]; ok {
		return existing, nil
	}
	if s.steps[runID] == nil {
		s.steps[runID] = make(map[string]Step)
	}
	s.steps[runID][step.Label] = step
	return step, nil
}

func (s *memoryStore) Suspend(_ context.Context, id uuid.UUID, wakeAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.WakeAt = &wakeAt
	run.LeaseUntil = nil
	run.Attempts = 0
	run.LastError = ""
	return nil
}

func (s *memoryStore) Complete(_ context.Context, id uuid.UUID, outcome string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.Status = StatusCompleted
	run.Outcome = outcome
	run.WakeAt = nil
	run.LeaseUntil = nil
	return nil
}

func (s *memoryStore) Retry(_ context.Context, id uuid.UUID, attempts int, lastErr string, wakeAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.Attempts = attempts
	run.LastError = lastErr
	run.WakeAt = &wakeAt
	run.LeaseUntil = nil
	return nil
}

func (s *memoryStore) Fail(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.Status = StatusFailed
	run.Attempts = attempts
	run.LastError = lastErr
	run.WakeAt = nil
	run.LeaseUntil = nil
	return nil
}

func (s *memoryStore) DueRuns(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Run
	for _, run := range s.runs {
		if run.Status != StatusRunning || run.WakeAt == nil || run.WakeAt.After(now) {
			continue
		}
		if run.LeaseUntil != nil && run.LeaseUntil.After(now) {
			continue
		}
		due = append(due, run)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].WakeAt.Before(*due[j].WakeAt) })
	var ids []uuid.UUID
	for i, run := range due {
		if i == limit {
			break
		}
		ids = append(ids, run.ID)
	}
	return ids, nil
}

func (s *memoryStore) Reschedule(_ context.Context, id uuid.UUID, now, wakeAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != StatusRunning || run.WakeAt == nil || run.WakeAt.After(now) {
		return nil
	}
	run.WakeAt = &wakeAt
	return nil
}

func (s *memoryStore) run(id uuid.UUID) Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.runs[id]
}

// MockPublisher мок брокера.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, message any) error {
	args := m.Called(ctx, routingKey, message)
	return args.Error(0)
}
