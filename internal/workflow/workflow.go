// Package workflow исполняет долговременные сценарии с повторным воспроизведением.
//
// Экземпляр сценария (run) каждый раз выполняется с начала. Результаты шагов
// (Runtime.Run) и таймеры (Runtime.SleepUntil) сохраняются в журнале по метке,
// поэтому при повторном выполнении завершённые шаги не повторяются, а
// возвращают сохранённый результат. Пока таймер не истёк, выполнение
// прерывается ошибкой ErrSuspended, и диспетчер возвращает экземпляр в очередь,
// когда наступает время пробуждения.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSuspended выполнение приостановлено до срабатывания таймера.
	// Обработчик обязан вернуть её без обёртки в другие ошибки или с %w.
	ErrSuspended = errors.New("workflow suspended")
	// ErrRunNotFound экземпляр не найден.
	ErrRunNotFound = errors.New("workflow run not found")
	// ErrRunLocked экземпляр уже выполняется другим обработчиком.
	ErrRunLocked = errors.New("workflow run is locked")
	// ErrRunFinished экземпляр уже завершён.
	ErrRunFinished = errors.New("workflow run finished")
	// ErrLabelConflict метка использована шагом другого типа.
	ErrLabelConflict = errors.New("step label conflict")
)

// Status состояние экземпляра.
type Status string

// Состояния экземпляра.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepKind тип записи журнала.
type StepKind string

// Типы записей журнала.
const (
	KindStep  StepKind = "step"
	KindTimer StepKind = "timer"
)

// Run экземпляр сценария.
type Run struct {
	ID         uuid.UUID
	Workflow   string
	Payload    json.RawMessage
	Status     Status
	Outcome    string
	Attempts   int
	LastError  string
	WakeAt     *time.Time
	LeaseUntil *time.Time
}

// Step запись журнала: результат шага или таймер.
type Step struct {
	Label  string
	Kind   StepKind
	Result json.RawMessage
	WakeAt *time.Time
}

// StepFunc тело шага. Результат должен сериализоваться в JSON.
type StepFunc func(ctx context.Context) (any, error)

// Runtime API, доступный сценарию.
type Runtime interface {
	// Run выполняет fn не больше одного раза на метку и декодирует результат в out.
	Run(ctx context.Context, label string, out any, fn StepFunc) error
	// SleepUntil возвращает ErrSuspended, пока не наступит at.
	SleepUntil(ctx context.Context, label string, at time.Time) error
	// Now момент вычисления текущего прохода.
	Now() time.Time
}

// Handler реализация сценария. Возвращает итог, сохраняемый в экземпляре.
type Handler func(ctx context.Context, rt Runtime, payload json.RawMessage) (string, error)

// Store журнал экземпляров и шагов.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	// ClaimRun захватывает аренду на выполнение экземпляра.
	ClaimRun(ctx context.Context, id uuid.UUID, now, leaseUntil time.Time) (*Run, error)
	LoadSteps(ctx context.Context, runID uuid.UUID) (map[string]Step, error)
	// SaveStep сохраняет запись, если метки ещё нет, и возвращает сохранённую версию.
	SaveStep(ctx context.Context, runID uuid.UUID, step Step) (Step, error)
	Suspend(ctx context.Context, id uuid.UUID, wakeAt time.Time) error
	Complete(ctx context.Context, id uuid.UUID, outcome string, at time.Time) error
	Retry(ctx context.Context, id uuid.UUID, attempts int, lastErr string, wakeAt time.Time) error
	Fail(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	// DueRuns экземпляры в статусе running с наступившим wake_at.
	DueRuns(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	// Reschedule переносит wake_at, если экземпляр всё ещё ждёт с wake_at <= now.
	Reschedule(ctx context.Context, id uuid.UUID, now, wakeAt time.Time) error
}

// Publisher отправляет сообщения в брокер.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// RunMessage сообщение очереди workflow.runs.
type RunMessage struct {
	RunID uuid.UUID `json:"run_id"`
}
