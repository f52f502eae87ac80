// Package period считает даты продления подписок по частоте списания.
package period

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownFrequency частота списания не поддерживается.
var ErrUnknownFrequency = errors.New("unknown frequency")

// Частоты списания.
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
	Yearly  = "yearly"
)

var days = map[string]int{
	Daily:   1,
	Weekly:  7,
	Monthly: 30,
	Yearly:  365,
}

// Days возвращает длину периода в днях.
func Days(frequency string) (int, error) {
	d, ok := days[frequency]
	if !ok {
		return 0, fmt.Errorf("period.Days: %w: %q", ErrUnknownFrequency, frequency)
	}
	return d, nil
}

// RenewalDate считает дату продления от даты начала.
func RenewalDate(start time.Time, frequency string) (time.Time, error) {
	d, err := Days(frequency)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 0, d), nil
}

// DaysUntil количество полных суток от now до t, не меньше нуля.
func DaysUntil(now, t time.Time) int {
	if !t.After(now) {
		return 0
	}
	return int(t.Sub(now) / (24 * time.Hour))
}
