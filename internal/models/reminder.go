package models

import "time"

// ReminderMessage уведомление о предстоящем продлении,
// публикуется в очередь notification.reminder.
type ReminderMessage struct {
	SubscriptionID string    `json:"subscription_id"`
	Name           string    `json:"name"`
	Price          float64   `json:"price"`
	Currency       string    `json:"currency"`
	RenewalDate    time.Time `json:"renewal_date"`
	DaysBefore     int       `json:"days_before"`
	UserName       string    `json:"user_name"`
	UserEmail      string    `json:"user_email"`
}
