package reminder

import (
	"context"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage/repository"
)

// SubscriptionReader чтение подписки вместе с владельцем.
type SubscriptionReader interface {
	GetSubscriptionWithOwner(ctx context.Context, id string) (*models.SubscriptionWithOwner, error)
}

// RepositorySource SubscriptionSource поверх хранилища.
type RepositorySource struct {
	repo SubscriptionReader
}

// NewRepositorySource создает RepositorySource.
func NewRepositorySource(repo SubscriptionReader) *RepositorySource {
	return &RepositorySource{repo: repo}
}

// GetSubscriptionSnapshot возвращает снимок подписки или nil, если её нет.
func (s *RepositorySource) GetSubscriptionSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	const op = "reminder.GetSubscriptionSnapshot"
	sub, err := s.repo.GetSubscriptionWithOwner(ctx, id)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Snapshot{
		ID:          sub.ID,
		Name:        sub.Name,
		Price:       sub.Price,
		Currency:    sub.Currency,
		Status:      sub.Status,
		RenewalDate: sub.RenewalDate,
		UserName:    sub.OwnerName,
		UserEmail:   sub.OwnerEmail,
	}, nil
}
