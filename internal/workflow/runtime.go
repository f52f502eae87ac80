package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
)

// replayRuntime реализует Runtime поверх загруженного журнала.
type replayRuntime struct {
	runID  uuid.UUID
	store  Store
	steps  map[string]Step
	now    time.Time
	tracer trace.Tracer

	wakeAt time.Time
}

func newReplayRuntime(runID uuid.UUID, store Store, steps map[string]Step, now time.Time, tracer trace.Tracer) *replayRuntime {
	if steps == nil {
		steps = make(map[string]Step)
	}
	return &replayRuntime{runID: runID, store: store, steps: steps, now: now, tracer: tracer}
}

func (r *replayRuntime) Now() time.Time {
	return r.now
}

func (r *replayRuntime) Run(ctx context.Context, label string, out any, fn StepFunc) error {
	const op = "workflow.Run"
	if step, ok := r.steps[label]; ok {
		if step.Kind != KindStep {
			return fmt.Errorf("%s: %q: %w", op, label, ErrLabelConflict)
		}
		return decode(op, step.Result, out)
	}

	ctx, span := r.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("workflow.run_id", r.runID.String()),
		attribute.String("workflow.step", label),
	))
	defer span.End()

	value, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: encode %q: %w", op, label, err)
	}

	stored, err := r.store.SaveStep(ctx, r.runID, Step{Label: label, Kind: KindStep, Result: data})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", op, err)
	}
	r.steps[label] = stored
	metrics.WorkflowSteps.WithLabelValues(string(KindStep)).Inc()

	return decode(op, stored.Result, out)
}

func (r *replayRuntime) SleepUntil(ctx context.Context, label string, at time.Time) error {
	const op = "workflow.SleepUntil"
	step, ok := r.steps[label]
	if !ok {
		at = at.UTC().Truncate(time.Microsecond)
		stored, err := r.store.SaveStep(ctx, r.runID, Step{Label: label, Kind: KindTimer, WakeAt: &at})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		r.steps[label] = stored
		metrics.WorkflowSteps.WithLabelValues(string(KindTimer)).Inc()
		step = stored
	}
	if step.Kind != KindTimer || step.WakeAt == nil {
		return fmt.Errorf("%s: %q: %w", op, label, ErrLabelConflict)
	}

	if step.WakeAt.After(r.now) {
		r.wakeAt = *step.WakeAt
		return ErrSuspended
	}
	return nil
}

func decode(op string, data json.RawMessage, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", op, err)
	}
	return nil
}
