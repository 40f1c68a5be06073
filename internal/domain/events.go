package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType тип события биллинга
type EventType string

const (
	// События транзакций
	EventTypeTransactionCreated   EventType = "transaction.created"
	EventTypeTransactionSucceeded EventType = "transaction.succeeded"
	EventTypeTransactionRetrying  EventType = "transaction.retrying"
	EventTypeTransactionFailed    EventType = "transaction.failed"

	// События подписок
	EventTypeSubscriptionCreated       EventType = "subscription.created"
	EventTypeSubscriptionRenewed       EventType = "subscription.renewed"
	EventTypeSubscriptionStatusChanged EventType = "subscription.status_changed"
)

// BillingEvent описывает изменение в журнале, которое рассылается внешним потребителям
type BillingEvent struct {
	Type            EventType       `json:"type"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	SubscriptionID  string          `json:"subscription_id,omitempty"`
	CustomerName    string          `json:"customer_name"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Attempts        int             `json:"attempts,omitempty"`
	ScheduledDate   *time.Time      `json:"scheduled_date,omitempty"`
	NextBillingDate *time.Time      `json:"next_billing_date,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Key возвращает ключ партиционирования: события одной подписки идут в одну партицию
func (e BillingEvent) Key() string {
	if e.SubscriptionID != "" {
		return e.SubscriptionID
	}
	return e.TransactionID
}

// NewTransactionEvent создает событие по снимку транзакции
func NewTransactionEvent(eventType EventType, t Transaction, at time.Time) BillingEvent {
	scheduled := t.ScheduledDate
	return BillingEvent{
		Type:           eventType,
		TransactionID:  t.ID,
		SubscriptionID: t.SubscriptionID,
		CustomerName:   t.CustomerName,
		Amount:         t.Amount,
		Currency:       t.Currency,
		Status:         string(t.Status),
		Attempts:       t.Attempts,
		ScheduledDate:  &scheduled,
		IdempotencyKey: t.IdempotencyKey,
		Timestamp:      at,
	}
}

// NewSubscriptionEvent создает событие по снимку подписки
func NewSubscriptionEvent(eventType EventType, s Subscription, at time.Time) BillingEvent {
	next := s.NextBillingDate
	return BillingEvent{
		Type:            eventType,
		SubscriptionID:  s.ID,
		CustomerName:    s.CustomerName,
		Amount:          s.Amount,
		Currency:        s.Currency,
		Status:          string(s.Status),
		NextBillingDate: &next,
		Timestamp:       at,
	}
}
