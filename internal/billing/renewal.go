package billing

import (
	"github.com/Dhoini/billing-scheduler/internal/domain"
)

// Renewal is the outcome of rolling a subscription to its next cycle
type Renewal struct {
	Subscription domain.Subscription
	Next         domain.Transaction
}

// CanRenew reports whether a settled transaction is allowed to roll its
// subscription forward. Only active subscriptions renew.
func CanRenew(sub domain.Subscription) bool {
	return sub.Status == domain.SubscriptionStatusActive
}

// Renew advances sub.NextBillingDate by one period (from its current value,
// never from the settled transaction's date) and builds the pending
// transaction for that new occasion. newID supplies the transaction id.
func Renew(sub domain.Subscription, newID string) Renewal {
	next := NextBillingDate(sub.NextBillingDate, sub.Frequency)
	sub.NextBillingDate = next

	return Renewal{
		Subscription: sub,
		Next: domain.Transaction{
			ID:             newID,
			SubscriptionID: sub.ID,
			CustomerName:   sub.CustomerName,
			Amount:         sub.Amount,
			Currency:       sub.Currency,
			ScheduledDate:  next,
			Status:         domain.TransactionStatusPending,
			IdempotencyKey: domain.SubscriptionIdempotencyKey(sub.ID, next),
			Attempts:       0,
		},
	}
}
