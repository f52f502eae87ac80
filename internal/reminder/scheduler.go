// Package reminder планирует напоминания о продлении подписки.
//
// Сценарий выполняется движком workflow: для каждого смещения плана он
// спит до момента напоминания, перепроверяет подписку и публикует
// напоминание. Все шаги сохраняются в журнале, поэтому после сбоя
// отправленные напоминания не повторяются.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/workflow"
)

// WorkflowName имя сценария в журнале.
const WorkflowName = "subscription-reminder"

// Outcome итог сценария.
type Outcome string

// Итоги сценария. Ни один из них не является ошибкой.
const (
	OutcomeCompleted            Outcome = "completed"
	OutcomeSubscriptionNotFound Outcome = "subscription_not_found"
	OutcomeSubscriptionInactive Outcome = "subscription_inactive"
	OutcomeRenewalPassed        Outcome = "renewal_passed"
	OutcomeRescheduled          Outcome = "rescheduled"
)

var (
	// ErrStepExecution не удалось выполнить шаг сценария.
	ErrStepExecution = errors.New("reminder step failed")
	// ErrSleepScheduling не удалось запланировать ожидание.
	ErrSleepScheduling = errors.New("reminder sleep scheduling failed")
)

// Snapshot состояние подписки, сохраняемое в журнале.
type Snapshot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	RenewalDate time.Time `json:"renewal_date"`
	UserName    string    `json:"user_name"`
	UserEmail   string    `json:"user_email"`
}

// SubscriptionSource источник подписок.
// Если подписки нет, возвращает nil без ошибки.
type SubscriptionSource interface {
	GetSubscriptionSnapshot(ctx context.Context, id string) (*Snapshot, error)
}

// Notifier доставляет напоминание получателю.
type Notifier interface {
	Notify(ctx context.Context, msg models.ReminderMessage) error
}

// Scheduler сценарий напоминаний.
type Scheduler struct {
	source   SubscriptionSource
	notifier Notifier
	plan     Plan
	log      *slog.Logger
}

// NewScheduler создает Scheduler.
func NewScheduler(source SubscriptionSource, notifier Notifier, plan Plan, log *slog.Logger) *Scheduler {
	return &Scheduler{source: source, notifier: notifier, plan: plan, log: log}
}

// Register регистрирует сценарий в движке.
func (s *Scheduler) Register(engine *workflow.Engine) {
	engine.Register(WorkflowName, s.Handle)
}

// Handle реализует workflow.Handler. payload это JSON-строка с id подписки.
func (s *Scheduler) Handle(ctx context.Context, rt workflow.Runtime, payload json.RawMessage) (string, error) {
	const op = "reminder.Handle"
	var subscriptionID string
	if err := json.Unmarshal(payload, &subscriptionID); err != nil {
		return "", fmt.Errorf("%s: decode payload: %w", op, err)
	}
	outcome, err := s.Schedule(ctx, rt, subscriptionID)
	return string(outcome), err
}

// Schedule проводит подписку через все напоминания плана.
// workflow.ErrSuspended возвращается без обёртки.
func (s *Scheduler) Schedule(ctx context.Context, rt workflow.Runtime, subscriptionID string) (Outcome, error) {
	const op = "reminder.Schedule"
	log := s.log.With(slog.String("op", op), slog.String("subscription_id", subscriptionID))

	sub, err := s.fetch(ctx, rt, "get subscription", subscriptionID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if outcome, done := s.terminal(sub, nil, rt.Now()); done {
		log.Info("reminders not scheduled", slog.String("outcome", string(outcome)))
		return outcome, nil
	}
	renewal := sub.RenewalDate

	for _, offset := range s.plan.Offsets() {
		at := At(renewal, offset)
		if at.After(rt.Now()) {
			label := fmt.Sprintf("sleep until %d-day reminder", offset)
			if err := rt.SleepUntil(ctx, label, at); err != nil {
				if errors.Is(err, workflow.ErrSuspended) {
					return "", err
				}
				return "", fmt.Errorf("%s: %w: %w", op, ErrSleepScheduling, err)
			}
		}

		current, err := s.fetch(ctx, rt, fmt.Sprintf("check subscription before %d-day reminder", offset), subscriptionID)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if outcome, done := s.terminal(current, &renewal, rt.Now()); done {
			log.Info("reminders stopped", slog.Int("days_before", offset), slog.String("outcome", string(outcome)))
			return outcome, nil
		}

		if err := s.notify(ctx, rt, current, offset); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}

	log.Info("all reminders sent")
	return OutcomeCompleted, nil
}

// terminal проверяет условия остановки. expected задан при повторной
// проверке и содержит дату продления, под которую строился план.
func (s *Scheduler) terminal(sub *Snapshot, expected *time.Time, now time.Time) (Outcome, bool) {
	switch {
	case sub == nil:
		return OutcomeSubscriptionNotFound, true
	case sub.Status != models.StatusActive:
		return OutcomeSubscriptionInactive, true
	case expected != nil && !sub.RenewalDate.Equal(*expected):
		return OutcomeRescheduled, true
	case !sub.RenewalDate.After(now):
		return OutcomeRenewalPassed, true
	}
	return "", false
}

func (s *Scheduler) fetch(ctx context.Context, rt workflow.Runtime, label, id string) (*Snapshot, error) {
	var sub *Snapshot
	err := rt.Run(ctx, label, &sub, func(ctx context.Context) (any, error) {
		return s.source.GetSubscriptionSnapshot(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStepExecution, label, err)
	}
	return sub, nil
}

func (s *Scheduler) notify(ctx context.Context, rt workflow.Runtime, sub *Snapshot, offset int) error {
	label := fmt.Sprintf("%d-day reminder", offset)
	err := rt.Run(ctx, label, nil, func(ctx context.Context) (any, error) {
		msg := models.ReminderMessage{
			SubscriptionID: sub.ID,
			Name:           sub.Name,
			Price:          sub.Price,
			Currency:       sub.Currency,
			RenewalDate:    sub.RenewalDate,
			DaysBefore:     offset,
			UserName:       sub.UserName,
			UserEmail:      sub.UserEmail,
		}
		if err := s.notifier.Notify(ctx, msg); err != nil {
			return nil, err
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStepExecution, label, err)
	}
	return nil
}
