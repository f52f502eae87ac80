package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
)

const tracerName = "github.com/magabrotheeeer/subscription-tracker/internal/workflow"

// EngineConfig параметры выполнения.
type EngineConfig struct {
	Lease        time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Engine выполняет экземпляры зарегистрированных сценариев.
type Engine struct {
	store    Store
	cfg      EngineConfig
	handlers map[string]Handler
	clock    func() time.Time
	tracer   trace.Tracer
	log      *slog.Logger
}

// Option настраивает Engine.
type Option func(*Engine)

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithTracer подменяет трассировщик шагов.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// NewEngine создает Engine.
func NewEngine(store Store, cfg EngineConfig, log *slog.Logger, opts ...Option) *Engine {
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = cfg.RetryBackoff
	}
	e := &Engine{
		store:    store,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		clock:    time.Now,
		tracer:   otel.Tracer(tracerName),
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register связывает имя сценария с обработчиком.
func (e *Engine) Register(workflow string, h Handler) {
	e.handlers[workflow] = h
}

// HandleMessage обрабатывает сообщение очереди workflow.runs.
func (e *Engine) HandleMessage(ctx context.Context, body []byte) error {
	const op = "workflow.HandleMessage"
	var msg RunMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// битое сообщение не исправится повторной доставкой
		e.log.Error("dropping malformed run message", slog.String("op", op), sl.Err(err))
		return nil
	}
	return e.Execute(ctx, msg.RunID)
}

// Execute воспроизводит экземпляр до завершения или следующей приостановки.
// Ошибки шагов не возвращаются: они фиксируются и планируется повтор.
// Возвращаются только ошибки журнала.
func (e *Engine) Execute(ctx context.Context, id uuid.UUID) error {
	const op = "workflow.Execute"
	log := e.log.With(slog.String("op", op), sl.RunID(id.String()))

	now := e.clock().UTC()
	run, err := e.store.ClaimRun(ctx, id, now, now.Add(e.cfg.Lease))
	switch {
	case errors.Is(err, ErrRunLocked), errors.Is(err, ErrRunFinished):
		log.Debug("run skipped", sl.Err(err))
		return nil
	case errors.Is(err, ErrRunNotFound):
		log.Warn("run not found")
		return nil
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	log = log.With(slog.String("workflow", run.Workflow))

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.run_id", id.String()),
		attribute.String("workflow.name", run.Workflow),
	))
	defer span.End()

	handler, ok := e.handlers[run.Workflow]
	if !ok {
		log.Error("no handler registered")
		if err := e.store.Fail(ctx, id, run.Attempts, "no handler registered for "+run.Workflow); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		metrics.WorkflowRuns.WithLabelValues(run.Workflow, "failed").Inc()
		return nil
	}

	steps, err := e.store.LoadSteps(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rt := newReplayRuntime(id, e.store, steps, now, e.tracer)
	outcome, runErr := handler(ctx, rt, run.Payload)

	switch {
	case errors.Is(runErr, ErrSuspended):
		if err := e.store.Suspend(ctx, id, rt.wakeAt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Info("run suspended", slog.Time("wake_at", rt.wakeAt))
		metrics.WorkflowRuns.WithLabelValues(run.Workflow, "suspended").Inc()

	case runErr == nil:
		span.SetAttributes(attribute.String("workflow.outcome", outcome))
		if err := e.store.Complete(ctx, id, outcome, e.clock().UTC()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Info("run completed", slog.String("outcome", outcome))
		metrics.WorkflowRuns.WithLabelValues(run.Workflow, "completed").Inc()

	case ctx.Err() != nil:
		// аренда истечёт, и диспетчер вернёт экземпляр в очередь
		log.Warn("run interrupted", sl.Err(runErr))
		return ctx.Err()

	default:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		attempts := run.Attempts + 1
		if attempts >= e.cfg.MaxAttempts {
			if err := e.store.Fail(ctx, id, attempts, runErr.Error()); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			log.Error("run failed, attempts exhausted", slog.Int("attempts", attempts), sl.Err(runErr))
			metrics.WorkflowRuns.WithLabelValues(run.Workflow, "failed").Inc()
			return nil
		}
		wakeAt := now.Add(e.backoff(attempts))
		if err := e.store.Retry(ctx, id, attempts, runErr.Error(), wakeAt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Warn("run failed, retry scheduled",
			slog.Int("attempts", attempts), slog.Time("retry_at", wakeAt), sl.Err(runErr))
		metrics.WorkflowRuns.WithLabelValues(run.Workflow, "retry").Inc()
	}
	return nil
}

// backoff экспоненциальная задержка перед повтором с потолком MaxBackoff.
func (e *Engine) backoff(attempts int) time.Duration {
	d := e.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= e.cfg.MaxBackoff {
			return e.cfg.MaxBackoff
		}
	}
	return d
}
