// Package month содержит календарные операции с месяцами: срок подписки
// и ключ месячного счетчика.
package month

import (
	"time"
)

// Layout - формат ключа месяца.
const Layout = "2006-01"

// Key возвращает ключ месяца для t в UTC.
func Key(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Add прибавляет n календарных месяцев. Если в целевом месяце нет такого
// дня, берется его последний день: 31 января + 1 месяц = 28 (29) февраля.
func Add(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
