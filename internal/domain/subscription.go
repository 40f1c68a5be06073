package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Valid сообщает, является ли статус известным
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusPaused, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// Frequency период списания по подписке
type Frequency string

const (
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Valid сообщает, поддерживается ли период
func (f Frequency) Valid() bool {
	return f == FrequencyMonthly || f == FrequencyYearly
}

// Subscription представляет собой модель подписки.
// NextBillingDate сдвигается только движком продления, ровно на один период за раз.
type Subscription struct {
	ID              string             `json:"id"`
	CustomerName    string             `json:"customer_name"`
	Amount          decimal.Decimal    `json:"amount"`
	Currency        string             `json:"currency"`
	Frequency       Frequency          `json:"frequency"`
	StartDate       time.Time          `json:"start_date"`
	Status          SubscriptionStatus `json:"status"`
	NextBillingDate time.Time          `json:"next_billing_date"`
}

// SubscriptionRequest представляет запрос на создание подписки
type SubscriptionRequest struct {
	CustomerName string          `json:"customer_name" validate:"required,max=200"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" validate:"omitempty,len=3,alpha"`
	Frequency    Frequency       `json:"frequency" validate:"required,oneof=monthly yearly"`
	StartDate    time.Time       `json:"start_date"`
}
