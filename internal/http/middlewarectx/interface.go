package middlewarectx

import (
	"context"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/jwt"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// Service описывает интерфейс сервиса для проверки JWT токена и загрузки пользователя.
type Service interface {
	ParseToken(token string) (*jwt.CustomClaims, error)
	CurrentUser(ctx context.Context, userID string) (*models.User, error)
}
