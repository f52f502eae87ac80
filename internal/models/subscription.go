// Package models содержит доменные структуры пользователей, подписок
// и сообщений, которыми обмениваются сервисы.
package models

import (
	"fmt"
	"time"
)

// Статусы подписки. Всё, что не StatusActive, останавливает напоминания.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// DefaultCurrency валюта по умолчанию.
const DefaultCurrency = "INR"

// DateLayout формат дат в запросах.
const DateLayout = "2006-01-02"

// Subscription подписка пользователя на сервис.
type Subscription struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Price         float64    `json:"price"`
	Currency      string     `json:"currency"`
	Frequency     string     `json:"frequency,omitempty"`
	Category      string     `json:"category"`
	PaymentMethod string     `json:"payment_method"`
	Status        string     `json:"status"`
	StartDate     time.Time  `json:"start_date"`
	RenewalDate   time.Time  `json:"renewal_date"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	UserID        string     `json:"user_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsActive подписка в статусе active.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// SubscriptionRequest тело запроса на создание подписки.
// Даты принимаются в формате 2006-01-02 или RFC3339.
type SubscriptionRequest struct {
	Name          string  `json:"name" validate:"required,min=2,max=100"`
	Price         float64 `json:"price" validate:"gte=0"`
	Currency      string  `json:"currency" validate:"omitempty,oneof=INR USD EUR"`
	Frequency     string  `json:"frequency" validate:"omitempty,oneof=daily weekly monthly yearly"`
	Category      string  `json:"category" validate:"required,oneof=sports news entertainment lifestyle technology finance politics other"`
	PaymentMethod string  `json:"payment_method" validate:"required"`
	StartDate     string  `json:"start_date" validate:"required"`
	RenewalDate   string  `json:"renewal_date"`
}

// SubscriptionUpdate частичное обновление подписки, nil поля не меняются.
type SubscriptionUpdate struct {
	Name          *string  `json:"name" validate:"omitempty,min=2,max=100"`
	Price         *float64 `json:"price" validate:"omitempty,gte=0"`
	Currency      *string  `json:"currency" validate:"omitempty,oneof=INR USD EUR"`
	Frequency     *string  `json:"frequency" validate:"omitempty,oneof=daily weekly monthly yearly"`
	Category      *string  `json:"category" validate:"omitempty,oneof=sports news entertainment lifestyle technology finance politics other"`
	PaymentMethod *string  `json:"payment_method" validate:"omitempty,min=1"`
	StartDate     *string  `json:"start_date"`
	RenewalDate   *string  `json:"renewal_date"`
}

// SubscriptionPatch изменения, применяемые хранилищем.
type SubscriptionPatch struct {
	Name          *string
	Price         *float64
	Currency      *string
	Frequency     *string
	Category      *string
	PaymentMethod *string
	StartDate     *time.Time
	RenewalDate   *time.Time
	Status        *string
}

// Empty в патче нет ни одного изменения.
func (p SubscriptionPatch) Empty() bool {
	return p.Name == nil && p.Price == nil && p.Currency == nil && p.Frequency == nil &&
		p.Category == nil && p.PaymentMethod == nil && p.StartDate == nil &&
		p.RenewalDate == nil && p.Status == nil
}

// ParseDate разбирает дату в формате 2006-01-02 или RFC3339.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected %s or RFC3339", value, DateLayout)
	}
	return t, nil
}

// SubscriptionWithOwner подписка вместе с контактами владельца.
type SubscriptionWithOwner struct {
	Subscription
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email"`
}

// SubscriptionFilter условия выборки подписок. Пустые поля не фильтруют.
type SubscriptionFilter struct {
	UserID      string
	Status      string
	RenewalFrom *time.Time
	RenewalTo   *time.Time
	Limit       int
	Offset      int
}
