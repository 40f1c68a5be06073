// Package seed builds the demo ledger used by the server's --seed flag and
// by the billing simulator.
package seed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dhoini/billing-scheduler/internal/billing"
	"github.com/Dhoini/billing-scheduler/internal/domain"
)

// Demo returns three subscriptions and five transactions positioned
// relative to now: two subscriptions due immediately, a one-time payment
// due tomorrow, and two already settled one-time payments.
func Demo(now time.Time) ([]domain.Subscription, []domain.Transaction) {
	now = now.UTC()
	tomorrow := now.AddDate(0, 0, 1)
	legacyStart := time.Date(2023, time.January, 15, 0, 0, 0, 0, time.UTC)

	subs := []domain.Subscription{
		{
			ID:              "sub_1",
			CustomerName:    "Alice Johnson",
			Amount:          decimal.RequireFromString("29.99"),
			Currency:        "USD",
			Frequency:       domain.FrequencyMonthly,
			StartDate:       now,
			Status:          domain.SubscriptionStatusActive,
			NextBillingDate: billing.NextBillingDate(now, domain.FrequencyMonthly),
		},
		{
			ID:              "sub_2",
			CustomerName:    "Bob Williams",
			Amount:          decimal.RequireFromString("299.00"),
			Currency:        "USD",
			Frequency:       domain.FrequencyYearly,
			StartDate:       now,
			Status:          domain.SubscriptionStatusActive,
			NextBillingDate: billing.NextBillingDate(now, domain.FrequencyYearly),
		},
		{
			ID:              "sub_3",
			CustomerName:    "Charlie Brown",
			Amount:          decimal.RequireFromString("9.99"),
			Currency:        "USD",
			Frequency:       domain.FrequencyMonthly,
			StartDate:       legacyStart,
			Status:          domain.SubscriptionStatusCancelled,
			NextBillingDate: billing.AddPeriods(legacyStart, domain.FrequencyMonthly, 13),
		},
	}

	txns := []domain.Transaction{
		subscriptionCharge("txn_1", subs[0], now),
		subscriptionCharge("txn_2", subs[1], now),
		oneTime("txn_3", "David Miller", "150.00", tomorrow, domain.TransactionStatusPending, 0),
		oneTime("txn_4", "Eve Davis", "75.50", now.AddDate(0, 0, -2), domain.TransactionStatusSucceeded, 1),
		oneTime("txn_5", "Frank White", "50.00", now.AddDate(0, 0, -1), domain.TransactionStatusFailed, 3),
	}

	return subs, txns
}

func subscriptionCharge(id string, sub domain.Subscription, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:             id,
		SubscriptionID: sub.ID,
		CustomerName:   sub.CustomerName,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		ScheduledDate:  at,
		Status:         domain.TransactionStatusPending,
		IdempotencyKey: domain.SubscriptionIdempotencyKey(sub.ID, at),
	}
}

func oneTime(id, customer, amount string, at time.Time, status domain.TransactionStatus, attempts int) domain.Transaction {
	return domain.Transaction{
		ID:             id,
		CustomerName:   customer,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		ScheduledDate:  at,
		Status:         status,
		IdempotencyKey: domain.OneTimeIdempotencyKey(customer, at),
		Attempts:       attempts,
	}
}
