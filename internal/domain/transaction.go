package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus статус транзакции в журнале
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSucceeded  TransactionStatus = "succeeded"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusRetrying   TransactionStatus = "retrying"
)

// Valid сообщает, является ли статус известным
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusSucceeded,
		TransactionStatusFailed, TransactionStatusRetrying:
		return true
	}
	return false
}

// Terminal возвращает true для succeeded и failed
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusSucceeded || s == TransactionStatusFailed
}

// Transaction представляет собой одну попытку списания (разовую или по подписке).
// Транзакции никогда не удаляются из журнала.
type Transaction struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	CustomerName   string            `json:"customer_name"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	ScheduledDate  time.Time         `json:"scheduled_date"`
	Status         TransactionStatus `json:"status"`
	IdempotencyKey string            `json:"idempotency_key"`
	Attempts       int               `json:"attempts"`
}

// IsOneTime возвращает true, если транзакция не привязана к подписке
func (t Transaction) IsOneTime() bool {
	return t.SubscriptionID == ""
}

// IsDue сообщает, можно ли брать транзакцию в пакет в момент now
func (t Transaction) IsDue(now time.Time) bool {
	if t.Status != TransactionStatusPending && t.Status != TransactionStatusRetrying {
		return false
	}
	return !t.ScheduledDate.After(now)
}

// OneTimePaymentRequest представляет запрос на создание разового платежа
type OneTimePaymentRequest struct {
	CustomerName  string          `json:"customer_name" validate:"required,max=200"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"omitempty,len=3,alpha"`
	ScheduledDate time.Time       `json:"scheduled_date"`
}

// TransactionFilter ограничивает выборку транзакций
type TransactionFilter struct {
	Status         TransactionStatus
	SubscriptionID string
}

// Match проверяет транзакцию на соответствие фильтру
func (f TransactionFilter) Match(t Transaction) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.SubscriptionID != "" && t.SubscriptionID != f.SubscriptionID {
		return false
	}
	return true
}
