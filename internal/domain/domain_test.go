package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionIdempotencyKey(t *testing.T) {
	// 23:30 в UTC-5 это уже следующий день в UTC
	loc := time.FixedZone("EST", -5*3600)
	at := time.Date(2024, time.January, 14, 23, 30, 0, 0, loc)

	assert.Equal(t, "sub_1_2024-01-15", SubscriptionIdempotencyKey("sub_1", at))
}

func TestOneTimeIdempotencyKey(t *testing.T) {
	at := time.Date(2024, time.March, 1, 9, 5, 7, 250*int(time.Millisecond), time.UTC)

	key := OneTimeIdempotencyKey(" David \tMiller ", at)

	assert.Equal(t, "one-time_DavidMiller_2024-03-01T09:05:07.250Z", key)
}

func TestTransaction_IsDue(t *testing.T) {
	now := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		status    TransactionStatus
		scheduled time.Time
		want      bool
	}{
		{"pending in the past", TransactionStatusPending, now.Add(-time.Hour), true},
		{"pending exactly now", TransactionStatusPending, now, true},
		{"pending tomorrow", TransactionStatusPending, now.AddDate(0, 0, 1), false},
		{"retrying elapsed", TransactionStatusRetrying, now.Add(-time.Second), true},
		{"retrying not yet", TransactionStatusRetrying, now.Add(time.Minute), false},
		{"processing", TransactionStatusProcessing, now.Add(-time.Hour), false},
		{"succeeded", TransactionStatusSucceeded, now.Add(-time.Hour), false},
		{"failed", TransactionStatusFailed, now.Add(-time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := Transaction{Status: tt.status, ScheduledDate: tt.scheduled}
			assert.Equal(t, tt.want, txn.IsDue(now))
		})
	}
}

func TestTransactionFilter_Match(t *testing.T) {
	txn := Transaction{SubscriptionID: "sub_1", Status: TransactionStatusPending}

	assert.True(t, TransactionFilter{}.Match(txn))
	assert.True(t, TransactionFilter{Status: TransactionStatusPending, SubscriptionID: "sub_1"}.Match(txn))
	assert.False(t, TransactionFilter{Status: TransactionStatusFailed}.Match(txn))
	assert.False(t, TransactionFilter{SubscriptionID: "sub_2"}.Match(txn))
}

func TestErrorsIs(t *testing.T) {
	var verrs ValidationErrors
	verrs.Add("amount", "must be positive")

	assert.True(t, errors.Is(verrs, ErrInvalidInput))
	assert.Equal(t, "validation failed: amount - must be positive", verrs.Error())
	assert.True(t, errors.Is(NewNotFoundError("subscription", "sub_x"), ErrNotFound))
	assert.True(t, errors.Is(NewDuplicateError("transaction", "idempotency_key", "k"), ErrDuplicate))
}
