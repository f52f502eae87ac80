// Package services содержит бизнес-логику для управления подписками и кешированием.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/period"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/reminder"
)

// UpcomingWindow горизонт выборки ближайших продлений.
const UpcomingWindow = 7 * 24 * time.Hour

var (
	// ErrForbidden подписка принадлежит другому пользователю.
	ErrForbidden = errors.New("access to subscription denied")
	// ErrNotAccountOwner запрошены подписки чужого пользователя.
	ErrNotAccountOwner = errors.New("not the owner of this account")
	// ErrInvalidDates даты подписки не прошли проверку.
	ErrInvalidDates = errors.New("invalid subscription dates")
)

// SubscriptionRepository определяет методы для работы с подписками в хранилище.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]*models.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, patch models.SubscriptionPatch) (*models.Subscription, error)
	CancelSubscription(ctx context.Context, id string, at time.Time) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	// ExpireOverdue переводит просроченные активные подписки в expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Invalidate удаляет значения из кеша по ключам.
	Invalidate(ctx context.Context, keys ...string) error
}

// WorkflowStarter запускает сценарий напоминаний.
type WorkflowStarter interface {
	Start(ctx context.Context, workflow string, input any) (uuid.UUID, error)
}

// SubscriptionService реализует бизнес-логику работы с подписками, включая кеширование.
type SubscriptionService struct {
	repo     SubscriptionRepository
	cache    Cache
	starter  WorkflowStarter
	cacheTTL time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewSubscriptionService создает новый экземпляр SubscriptionService.
func NewSubscriptionService(repo SubscriptionRepository, cache Cache, starter WorkflowStarter, cacheTTL time.Duration, log *slog.Logger) *SubscriptionService {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &SubscriptionService{
		repo:     repo,
		cache:    cache,
		starter:  starter,
		cacheTTL: cacheTTL,
		now:      time.Now,
		log:      log,
	}
}

func cacheKey(id string) string {
	return "subscription:" + id
}

// Create создает подписку пользователя userID. Если дата продления не
// задана, она вычисляется по частоте. Для активной подписки запускается
// сценарий напоминаний; ошибка запуска только логируется.
func (s *SubscriptionService) Create(ctx context.Context, userID string, req models.SubscriptionRequest) (*models.Subscription, error) {
	const op = "services.CreateSubscription"
	log := s.log.With(slog.String("op", op))

	now := s.now().UTC()
	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidDates, err)
	}
	if start.After(now) {
		return nil, fmt.Errorf("%s: %w: start date must not be in the future", op, ErrInvalidDates)
	}

	var renewal time.Time
	switch {
	case req.RenewalDate != "":
		renewal, err = models.ParseDate(req.RenewalDate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidDates, err)
		}
	case req.Frequency != "":
		renewal, err = period.RenewalDate(start, req.Frequency)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidDates, err)
		}
	default:
		return nil, fmt.Errorf("%s: %w: renewal date or frequency is required", op, ErrInvalidDates)
	}
	if !renewal.After(start) {
		return nil, fmt.Errorf("%s: %w: renewal date must be after start date", op, ErrInvalidDates)
	}

	sub := models.Subscription{
		Name:          req.Name,
		Price:         req.Price,
		Currency:      req.Currency,
		Frequency:     req.Frequency,
		Category:      req.Category,
		PaymentMethod: req.PaymentMethod,
		Status:        models.StatusActive,
		StartDate:     start,
		RenewalDate:   renewal,
		UserID:        userID,
	}
	if sub.Currency == "" {
		sub.Currency = models.DefaultCurrency
	}
	if renewal.Before(now) {
		sub.Status = models.StatusExpired
	}

	created, err := s.repo.CreateSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("created new subscription", slog.String("id", created.ID), slog.String("status", created.Status))

	s.store(ctx, created)
	if created.IsActive() {
		s.startReminders(ctx, created.ID)
	}
	return created, nil
}

// Get возвращает подписку по ID, используя кеш или репозиторий.
func (s *SubscriptionService) Get(ctx context.Context, userID, role, id string) (*models.Subscription, error) {
	const op = "services.GetSubscription"
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := authorize(sub, userID, role); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// Update частично обновляет подписку. Смена даты продления активной
// подписки перезапускает напоминания.
func (s *SubscriptionService) Update(ctx context.Context, userID, role, id string, req models.SubscriptionUpdate) (*models.Subscription, error) {
	const op = "services.UpdateSubscription"
	log := s.log.With(slog.String("op", op), slog.String("id", id))

	current, err := s.Get(ctx, userID, role, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	patch := models.SubscriptionPatch{
		Name:          req.Name,
		Price:         req.Price,
		Currency:      req.Currency,
		Frequency:     req.Frequency,
		Category:      req.Category,
		PaymentMethod: req.PaymentMethod,
	}
	start, renewal := current.StartDate, current.RenewalDate
	if req.StartDate != nil {
		t, err := models.ParseDate(*req.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidDates, err)
		}
		if t.After(s.now().UTC()) {
			return nil, fmt.Errorf("%s: %w: start date must not be in the future", op, ErrInvalidDates)
		}
		start = t
		patch.StartDate = &t
	}
	if req.RenewalDate != nil {
		t, err := models.ParseDate(*req.RenewalDate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidDates, err)
		}
		renewal = t
		patch.RenewalDate = &t
	}
	if !renewal.After(start) {
		return nil, fmt.Errorf("%s: %w: renewal date must be after start date", op, ErrInvalidDates)
	}
	if patch.Empty() {
		return current, nil
	}

	updated, err := s.repo.UpdateSubscription(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("updated subscription")

	s.store(ctx, updated)
	if patch.RenewalDate != nil && !updated.RenewalDate.Equal(current.RenewalDate) && updated.IsActive() {
		s.startReminders(ctx, updated.ID)
	}
	return updated, nil
}

// Cancel переводит подписку в статус cancelled. Запущенный сценарий
// увидит новый статус при следующей проверке и завершится.
func (s *SubscriptionService) Cancel(ctx context.Context, userID, role, id string) (*models.Subscription, error) {
	const op = "services.CancelSubscription"
	if _, err := s.Get(ctx, userID, role, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cancelled, err := s.repo.CancelSubscription(ctx, id, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("cancelled subscription", slog.String("op", op), slog.String("id", id))
	s.store(ctx, cancelled)
	return cancelled, nil
}

// Delete удаляет подписку и после успешного удаления инвалидирует кеш.
func (s *SubscriptionService) Delete(ctx context.Context, userID, role, id string) error {
	const op = "services.DeleteSubscription"
	if _, err := s.Get(ctx, userID, role, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.cache.Invalidate(ctx, cacheKey(id)); err != nil {
		s.log.Warn("failed to remove from cache", slog.String("key", cacheKey(id)), sl.Err(err))
	}
	s.log.Info("deleted subscription", slog.String("op", op), slog.String("id", id))
	return nil
}

// List возвращает все подписки. Доступно только администратору.
func (s *SubscriptionService) List(ctx context.Context, role string, limit, offset int) ([]*models.Subscription, error) {
	const op = "services.ListSubscriptions"
	if role != models.RoleAdmin {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	subs, err := s.repo.ListSubscriptions(ctx, models.SubscriptionFilter{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// ListByUser возвращает подписки пользователя ownerID, если его запрашивает он сам.
func (s *SubscriptionService) ListByUser(ctx context.Context, callerID, ownerID string, limit, offset int) ([]*models.Subscription, error) {
	const op = "services.ListUserSubscriptions"
	if callerID != ownerID {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAccountOwner)
	}
	subs, err := s.repo.ListSubscriptions(ctx, models.SubscriptionFilter{UserID: ownerID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// Upcoming активные подписки, продлевающиеся в ближайшие 7 дней.
// Администратор видит подписки всех пользователей.
func (s *SubscriptionService) Upcoming(ctx context.Context, userID, role string) ([]*models.Subscription, error) {
	const op = "services.UpcomingRenewals"
	now := s.now().UTC()
	to := now.Add(UpcomingWindow)
	filter := models.SubscriptionFilter{
		Status:      models.StatusActive,
		RenewalFrom: &now,
		RenewalTo:   &to,
	}
	if role != models.RoleAdmin {
		filter.UserID = userID
	}
	subs, err := s.repo.ListSubscriptions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// ExpireOverdue переводит активные подписки с прошедшей датой продления в expired.
func (s *SubscriptionService) ExpireOverdue(ctx context.Context) (int64, error) {
	const op = "services.ExpireOverdue"
	n, err := s.repo.ExpireOverdue(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		metrics.SubscriptionsExpired.Add(float64(n))
		s.log.Info("subscriptions expired", slog.String("op", op), slog.Int64("count", n))
	}
	return n, nil
}

func (s *SubscriptionService) load(ctx context.Context, id string) (*models.Subscription, error) {
	var cached models.Subscription
	found, err := s.cache.Get(ctx, cacheKey(id), &cached)
	if err != nil {
		s.log.Warn("failed to read from cache", slog.String("key", cacheKey(id)), sl.Err(err))
	}
	if found {
		return &cached, nil
	}
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, sub)
	return sub, nil
}

func (s *SubscriptionService) store(ctx context.Context, sub *models.Subscription) {
	if err := s.cache.Set(ctx, cacheKey(sub.ID), sub, s.cacheTTL); err != nil {
		s.log.Warn("failed to cache subscription", slog.String("key", cacheKey(sub.ID)), sl.Err(err))
	}
}

func (s *SubscriptionService) startReminders(ctx context.Context, id string) {
	runID, err := s.starter.Start(ctx, reminder.WorkflowName, id)
	if err != nil {
		s.log.Error("failed to start reminder workflow", slog.String("subscription_id", id), sl.Err(err))
		return
	}
	s.log.Info("reminder workflow started", slog.String("subscription_id", id), sl.RunID(runID.String()))
}

func authorize(sub *models.Subscription, userID, role string) error {
	if role == models.RoleAdmin || sub.UserID == userID {
		return nil
	}
	return ErrForbidden
}
