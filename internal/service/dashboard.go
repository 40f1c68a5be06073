package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dhoini/billing-scheduler/internal/domain"
)

// Dashboard сводка по журналу для экрана оператора
type Dashboard struct {
	Subscriptions      []domain.Subscription             `json:"subscriptions"`
	Transactions       []domain.Transaction              `json:"transactions"`
	SubscriptionCounts map[domain.SubscriptionStatus]int `json:"subscription_counts"`
	TransactionCounts  map[domain.TransactionStatus]int  `json:"transaction_counts"`
	SettledTotals      map[string]decimal.Decimal        `json:"settled_totals"`
	OutstandingTotals  map[string]decimal.Decimal        `json:"outstanding_totals"`
	GeneratedAt        time.Time                         `json:"generated_at"`
}

// Dashboard строит сводку по одному согласованному снимку
func (s *billingService) Dashboard(ctx context.Context) Dashboard {
	snap := s.reader.Snapshot(ctx)

	d := Dashboard{
		Subscriptions:      snap.Subscriptions,
		SubscriptionCounts: make(map[domain.SubscriptionStatus]int),
		TransactionCounts:  make(map[domain.TransactionStatus]int),
		SettledTotals:      make(map[string]decimal.Decimal),
		OutstandingTotals:  make(map[string]decimal.Decimal),
		GeneratedAt:        s.clock.Now(),
	}
	for _, sub := range snap.Subscriptions {
		d.SubscriptionCounts[sub.Status]++
	}
	for _, txn := range snap.Transactions {
		d.TransactionCounts[txn.Status]++
		switch {
		case txn.Status == domain.TransactionStatusSucceeded:
			d.SettledTotals[txn.Currency] = d.SettledTotals[txn.Currency].Add(txn.Amount)
		case !txn.Status.Terminal():
			d.OutstandingTotals[txn.Currency] = d.OutstandingTotals[txn.Currency].Add(txn.Amount)
		}
	}
	d.Transactions = newestFirst(snap.Transactions, domain.TransactionFilter{})
	return d
}
