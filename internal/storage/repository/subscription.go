package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

var subscriptionColumns = []string{
	"s.id::text", "s.name", "s.price::float8", "s.currency", "COALESCE(s.frequency, '')",
	"s.category", "s.payment_method", "s.status", "s.start_date", "s.renewal_date",
	"s.cancelled_at", "s.user_id::text", "s.created_at", "s.updated_at",
}

const returningColumns = `RETURNING id::text, name, price::float8, currency, COALESCE(frequency, ''),
	category, payment_method, status, start_date, renewal_date,
	cancelled_at, user_id::text, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner, extra ...any) (*models.Subscription, error) {
	var (
		sub         models.Subscription
		cancelledAt sql.NullTime
	)
	dest := []any{
		&sub.ID, &sub.Name, &sub.Price, &sub.Currency, &sub.Frequency,
		&sub.Category, &sub.PaymentMethod, &sub.Status, &sub.StartDate, &sub.RenewalDate,
		&cancelledAt, &sub.UserID, &sub.CreatedAt, &sub.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		sub.CancelledAt = &t
	}
	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateSubscription вставляет новую подписку и возвращает сохранённую запись.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (name, price, currency, frequency, category, payment_method,
			      status, start_date, renewal_date, user_id)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ` + returningColumns
	row := s.DB.QueryRowContext(ctx, query,
		sub.Name, sub.Price, sub.Currency, nullString(sub.Frequency), sub.Category, sub.PaymentMethod,
		sub.Status, sub.StartDate, sub.RenewalDate, sub.UserID)

	created, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// GetSubscription возвращает подписку по ID.
func (s *Storage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query, args, err := psql.Select(subscriptionColumns...).
		From("subscriptions s").
		Where(sq.Eq{"s.id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// GetSubscriptionWithOwner возвращает подписку вместе с именем и email владельца.
func (s *Storage) GetSubscriptionWithOwner(ctx context.Context, id string) (*models.SubscriptionWithOwner, error) {
	const op = "storage.GetSubscriptionWithOwner"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	columns := append(append([]string{}, subscriptionColumns...), "u.name", "u.email")
	query, args, err := psql.Select(columns...).
		From("subscriptions s").
		Join("users u ON u.id = s.user_id").
		Where(sq.Eq{"s.id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var result models.SubscriptionWithOwner
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, args...), &result.OwnerName, &result.OwnerEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.Subscription = *sub
	return &result, nil
}

// ListSubscriptions возвращает подписки по фильтру, отсортированные по дате продления.
func (s *Storage) ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	builder := psql.Select(subscriptionColumns...).
		From("subscriptions s").
		OrderBy("s.renewal_date", "s.id")
	if filter.UserID != "" {
		builder = builder.Where(sq.Eq{"s.user_id": filter.UserID})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"s.status": filter.Status})
	}
	if filter.RenewalFrom != nil {
		builder = builder.Where(sq.GtOrEq{"s.renewal_date": *filter.RenewalFrom})
	}
	if filter.RenewalTo != nil {
		builder = builder.Where(sq.LtOrEq{"s.renewal_date": *filter.RenewalTo})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]*models.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UpdateSubscription применяет патч и возвращает обновлённую запись.
func (s *Storage) UpdateSubscription(ctx context.Context, id string, patch models.SubscriptionPatch) (*models.Subscription, error) {
	const op = "storage.UpdateSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	builder := psql.Update("subscriptions").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Suffix(returningColumns)
	if patch.Name != nil {
		builder = builder.Set("name", *patch.Name)
	}
	if patch.Price != nil {
		builder = builder.Set("price", *patch.Price)
	}
	if patch.Currency != nil {
		builder = builder.Set("currency", *patch.Currency)
	}
	if patch.Frequency != nil {
		builder = builder.Set("frequency", nullString(*patch.Frequency))
	}
	if patch.Category != nil {
		builder = builder.Set("category", *patch.Category)
	}
	if patch.PaymentMethod != nil {
		builder = builder.Set("payment_method", *patch.PaymentMethod)
	}
	if patch.StartDate != nil {
		builder = builder.Set("start_date", *patch.StartDate)
	}
	if patch.RenewalDate != nil {
		builder = builder.Set("renewal_date", *patch.RenewalDate)
	}
	if patch.Status != nil {
		builder = builder.Set("status", *patch.Status)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// CancelSubscription переводит подписку в статус cancelled.
func (s *Storage) CancelSubscription(ctx context.Context, id string, at time.Time) (*models.Subscription, error) {
	const op = "storage.CancelSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = $1, cancelled_at = $2, updated_at = NOW()
			  WHERE id = $3 ` + returningColumns
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, models.StatusCancelled, at, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// DeleteSubscription удаляет подписку по ID.
func (s *Storage) DeleteSubscription(ctx context.Context, id string) error {
	const op = "storage.DeleteSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
	}
	return nil
}

// ExpireOverdue переводит активные подписки с прошедшей датой продления в expired.
func (s *Storage) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.ExpireOverdue"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = $1, updated_at = NOW()
			  WHERE status = $2 AND renewal_date < $3`
	result, err := s.DB.ExecContext(ctx, query, models.StatusExpired, models.StatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
