// Package subscription содержит общие для обработчиков подписок функции:
// разбор идентификаторов и пагинации, сопоставление ошибок сервиса с HTTP статусами.
package subscription

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	services "github.com/magabrotheeeer/subscription-tracker/internal/services/subscription"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage/repository"
)

// Ограничения пагинации.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ID достает UUID из параметра маршрута {id}.
func ID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id.String(), nil
}

// Pagination разбирает limit и offset из query.
func Pagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = DefaultLimit, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
		if limit > MaxLimit {
			limit = MaxLimit
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

// Status возвращает HTTP статус и сообщение для ошибки сервиса.
// Неизвестные ошибки отдаются как 500 с сообщением fallback.
func Status(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, repository.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription not found"
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, services.ErrNotAccountOwner):
		return http.StatusUnauthorized, "not the owner of this account"
	case errors.Is(err, services.ErrInvalidDates):
		return http.StatusBadRequest, "invalid subscription dates"
	default:
		return http.StatusInternalServerError, fallback
	}
}
