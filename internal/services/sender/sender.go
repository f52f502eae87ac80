// Package services доставляет напоминания о продлении подписок получателям.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/smtp"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// ErrDeliveryUnavailable отправка временно отключена размыкателем.
var ErrDeliveryUnavailable = errors.New("email delivery unavailable")

// Transport устанавливает соединения с SMTP сервером.
type Transport interface {
	Connect() (smtp.Client, error)
	GetSMTPUser() string
}

// BreakerSettings параметры размыкателя цепи вокруг SMTP.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// SenderService обрабатывает сообщения очереди notification.reminder.
type SenderService struct {
	transport Transport
	enabled   bool
	breaker   *gobreaker.CircuitBreaker[any]
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService. Если enabled
// выключен, напоминания только логируются.
func NewSenderService(transport Transport, enabled bool, settings BreakerSettings, log *slog.Logger) *SenderService {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "smtp",
		Timeout: settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &SenderService{
		transport: transport,
		enabled:   enabled,
		breaker:   breaker,
		log:       log,
	}
}

// SendReminder доставляет напоминание. Битое сообщение отбрасывается,
// ошибка отправки возвращает сообщение в очередь.
func (s *SenderService) SendReminder(_ context.Context, body []byte) error {
	const op = "services.SendReminder"
	log := s.log.With(slog.String("op", op))

	var msg models.ReminderMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("dropping malformed reminder", sl.Err(err))
		return nil
	}
	log = log.With(
		slog.String("subscription_id", msg.SubscriptionID),
		slog.Int("days_before", msg.DaysBefore),
	)
	log.Info("renewal reminder received", slog.String("user_email", msg.UserEmail))

	if !s.enabled {
		return nil
	}
	if msg.UserEmail == "" {
		log.Warn("reminder has no recipient")
		return nil
	}

	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.sendEmail([]string{msg.UserEmail}, subject(msg), text(msg))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", op, ErrDeliveryUnavailable)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func subject(msg models.ReminderMessage) string {
	return fmt.Sprintf("Подписка %s продлевается через %s", headerValue(msg.Name), days(msg.DaysBefore))
}

// headerValue убирает переводы строк, чтобы значение не открыло новый заголовок.
func headerValue(v string) string {
	return strings.Join(strings.FieldsFunc(v, func(r rune) bool {
		return r == '\r' || r == '\n'
	}), " ")
}

func text(msg models.ReminderMessage) string {
	return fmt.Sprintf("Здравствуйте, %s!\n\nВаша подписка на %s продлится %s.\nСумма списания: %.2f %s.\n\nЕсли подписка больше не нужна, отмените её заранее.",
		msg.UserName, msg.Name, msg.RenewalDate.Format(models.DateLayout), msg.Price, msg.Currency)
}

func days(n int) string {
	switch {
	case n%10 == 1 && n%100 != 11:
		return fmt.Sprintf("%d день", n)
	case n%10 >= 2 && n%10 <= 4 && (n%100 < 10 || n%100 >= 20):
		return fmt.Sprintf("%d дня", n)
	default:
		return fmt.Sprintf("%d дней", n)
	}
}

func (s *SenderService) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + headerValue(s.transport.GetSMTPUser()),
		"To: " + headerValue(strings.Join(to, ", ")),
		"Subject: " + mime.QEncoding.Encode("utf-8", headerValue(subject)),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.log.Debug("failed to close SMTP client", sl.Err(err))
		}
	}()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", s.transport.GetSMTPUser()), sl.Err(err))
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}
	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", slog.Any("to", to))
	return nil
}
