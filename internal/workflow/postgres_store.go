package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB подмножество pgxpool.Pool, используемое журналом.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore журнал экземпляров в PostgreSQL.
type PostgresStore struct {
	db DB
}

// NewPostgresStore создает PostgresStore.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	queryCreateRun = `
		INSERT INTO workflow_runs (id, workflow, payload, status, wake_at)
		VALUES ($1, $2, $3, $4, $5)`

	queryClaimRun = `
		UPDATE workflow_runs
		SET lease_until = $3, updated_at = $2
		WHERE id = $1 AND status = 'running' AND (lease_until IS NULL OR lease_until <= $2)
		RETURNING id::text, workflow, payload, status, COALESCE(outcome, ''), attempts,
			COALESCE(last_error, ''), wake_at, lease_until`

	queryRunStatus = `SELECT status FROM workflow_runs WHERE id = $1`

	queryLoadSteps = `
		SELECT label, kind, result, wake_at
		FROM workflow_steps
		WHERE run_id = $1`

	querySaveStep = `
		INSERT INTO workflow_steps (run_id, label, kind, result, wake_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, label) DO UPDATE SET label = EXCLUDED.label
		RETURNING kind, result, wake_at`

	querySuspend = `
		UPDATE workflow_runs
		SET wake_at = $2, lease_until = NULL, attempts = 0, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'`

	queryComplete = `
		UPDATE workflow_runs
		SET status = 'completed', outcome = $2, completed_at = $3,
			wake_at = NULL, lease_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'`

	queryRetry = `
		UPDATE workflow_runs
		SET attempts = $2, last_error = $3, wake_at = $4, lease_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'`

	queryFail = `
		UPDATE workflow_runs
		SET status = 'failed', attempts = $2, last_error = $3, completed_at = NOW(),
			wake_at = NULL, lease_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'`

	queryDueRuns = `
		SELECT id::text
		FROM workflow_runs
		WHERE status = 'running' AND wake_at <= $1
			AND (lease_until IS NULL OR lease_until <= $1)
		ORDER BY wake_at
		LIMIT $2`

	queryReschedule = `
		UPDATE workflow_runs
		SET wake_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running' AND wake_at <= $2`
)

// CreateRun сохраняет новый экземпляр.
func (s *PostgresStore) CreateRun(ctx context.Context, run Run) error {
	const op = "workflow.postgres.CreateRun"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	_, err := s.db.Exec(ctx, queryCreateRun, run.ID.String(), run.Workflow, []byte(run.Payload), string(run.Status), run.WakeAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClaimRun захватывает аренду, если экземпляр ждёт и не захвачен.
func (s *PostgresStore) ClaimRun(ctx context.Context, id uuid.UUID, now, leaseUntil time.Time) (*Run, error) {
	const op = "workflow.postgres.ClaimRun"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var (
		run     Run
		rawID   string
		payload []byte
		status  string
	)
	err := s.db.QueryRow(ctx, queryClaimRun, id.String(), now, leaseUntil).Scan(
		&rawID, &run.Workflow, &payload, &status, &run.Outcome, &run.Attempts,
		&run.LastError, &run.WakeAt, &run.LeaseUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, s.claimFailure(ctx, id))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	run.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	run.Payload = payload
	run.Status = Status(status)
	return &run, nil
}

// claimFailure объясняет, почему аренду не удалось захватить.
func (s *PostgresStore) claimFailure(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.db.QueryRow(ctx, queryRunStatus, id.String()).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrRunNotFound
	case err != nil:
		return err
	case Status(status) != StatusRunning:
		return ErrRunFinished
	default:
		return ErrRunLocked
	}
}

// LoadSteps возвращает журнал экземпляра по меткам.
func (s *PostgresStore) LoadSteps(ctx context.Context, runID uuid.UUID) (map[string]Step, error) {
	const op = "workflow.postgres.LoadSteps"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.db.Query(ctx, queryLoadSteps, runID.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	steps := make(map[string]Step)
	for rows.Next() {
		var (
			step   Step
			kind   string
			result []byte
		)
		if err := rows.Scan(&step.Label, &kind, &result, &step.WakeAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		step.Kind = StepKind(kind)
		step.Result = result
		steps[step.Label] = step
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return steps, nil
}

// SaveStep вставляет запись, если метки нет. При гонке побеждает первая
// запись, и вызывающий получает именно её.
func (s *PostgresStore) SaveStep(ctx context.Context, runID uuid.UUID, step Step) (Step, error) {
	const op = "workflow.postgres.SaveStep"
	select {
	case <-ctx.Done():
		return Step{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var result any
	if len(step.Result) > 0 {
		result = []byte(step.Result)
	}

	var (
		stored Step
		kind   string
		raw    []byte
	)
	err := s.db.QueryRow(ctx, querySaveStep, runID.String(), step.Label, string(step.Kind), result, step.WakeAt).
		Scan(&kind, &raw, &stored.WakeAt)
	if err != nil {
		return Step{}, fmt.Errorf("%s: %w", op, err)
	}
	stored.Label = step.Label
	stored.Kind = StepKind(kind)
	stored.Result = json.RawMessage(raw)
	return stored, nil
}

// Suspend освобождает аренду до wakeAt.
func (s *PostgresStore) Suspend(ctx context.Context, id uuid.UUID, wakeAt time.Time) error {
	return s.exec(ctx, "workflow.postgres.Suspend", querySuspend, id.String(), wakeAt)
}

// Complete завершает экземпляр с итогом outcome.
func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, outcome string, at time.Time) error {
	return s.exec(ctx, "workflow.postgres.Complete", queryComplete, id.String(), outcome, at)
}

// Retry планирует повтор после ошибки шага.
func (s *PostgresStore) Retry(ctx context.Context, id uuid.UUID, attempts int, lastErr string, wakeAt time.Time) error {
	return s.exec(ctx, "workflow.postgres.Retry", queryRetry, id.String(), attempts, lastErr, wakeAt)
}

// Fail завершает экземпляр с ошибкой.
func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return s.exec(ctx, "workflow.postgres.Fail", queryFail, id.String(), attempts, lastErr)
}

// Reschedule переносит wake_at только если экземпляр не изменился с момента выборки.
func (s *PostgresStore) Reschedule(ctx context.Context, id uuid.UUID, now, wakeAt time.Time) error {
	return s.exec(ctx, "workflow.postgres.Reschedule", queryReschedule, id.String(), now, wakeAt)
}

// DueRuns возвращает до limit готовых к выполнению экземпляров.
func (s *PostgresStore) DueRuns(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	const op = "workflow.postgres.DueRuns"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.db.Query(ctx, queryDueRuns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

func (s *PostgresStore) exec(ctx context.Context, op, query string, args ...any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
