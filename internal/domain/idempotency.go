package domain

import (
	"strings"
	"time"
	"unicode"
)

const (
	oneTimeKeyPrefix = "one-time"
	billingDayLayout = "2006-01-02"
	// ISO-8601 в UTC с миллисекундами
	instantLayout = "2006-01-02T15:04:05.000Z"
)

// SubscriptionIdempotencyKey строит ключ для одного расчетного дня подписки:
// "<subscriptionID>_<YYYY-MM-DD>" (день берется в UTC).
func SubscriptionIdempotencyKey(subscriptionID string, billingDate time.Time) string {
	return subscriptionID + "_" + billingDate.UTC().Format(billingDayLayout)
}

// OneTimeIdempotencyKey строит ключ разового платежа из имени клиента без пробелов
// и точного момента списания.
func OneTimeIdempotencyKey(customerName string, scheduledDate time.Time) string {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, customerName)
	return oneTimeKeyPrefix + "_" + compact + "_" + scheduledDate.UTC().Format(instantLayout)
}
