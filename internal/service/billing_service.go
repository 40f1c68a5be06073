package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dhoini/billing-scheduler/internal/billing"
	"github.com/Dhoini/billing-scheduler/internal/clock"
	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/internal/kafka/producer"
	"github.com/Dhoini/billing-scheduler/internal/metrics"
	"github.com/Dhoini/billing-scheduler/internal/repository"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/Dhoini/billing-scheduler/pkg/req"
)

// DefaultCurrency подставляется, если валюта не указана
const DefaultCurrency = "USD"

// BillingService интерфейс сервиса подписок и разовых платежей
type BillingService interface {
	SubmitOneTimePayment(ctx context.Context, r domain.OneTimePaymentRequest) (domain.Transaction, error)
	SubmitSubscription(ctx context.Context, r domain.SubscriptionRequest) (domain.Subscription, error)

	GetSubscription(ctx context.Context, id string) (domain.Subscription, error)
	ListSubscriptions(ctx context.Context) []domain.Subscription
	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) []domain.Transaction

	PauseSubscription(ctx context.Context, id string) (domain.Subscription, error)
	ResumeSubscription(ctx context.Context, id string) (domain.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (domain.Subscription, error)

	Dashboard(ctx context.Context) Dashboard
	Seed(ctx context.Context, subs []domain.Subscription, txns []domain.Transaction) error
}

type billingService struct {
	store     *repository.LedgerStore
	reader    *repository.CachedLedger
	clock     clock.Clock
	publisher producer.Publisher
	metrics   metrics.BillingMetrics
	log       *logger.Logger
}

// NewBillingService создает новый сервис биллинга
func NewBillingService(
	store *repository.LedgerStore,
	reader *repository.CachedLedger,
	clk clock.Clock,
	publisher producer.Publisher,
	m metrics.BillingMetrics,
	log *logger.Logger,
) BillingService {
	if publisher == nil {
		publisher = producer.NewNoopPublisher(log)
	}
	if m == nil {
		m = metrics.NewNoopBillingMetrics()
	}
	return &billingService{
		store:     store,
		reader:    reader,
		clock:     clk,
		publisher: publisher,
		metrics:   m,
		log:       log,
	}
}

// SubmitOneTimePayment создает разовый платеж в статусе pending
func (s *billingService) SubmitOneTimePayment(ctx context.Context, r domain.OneTimePaymentRequest) (domain.Transaction, error) {
	s.log.Debugw("Submitting one-time payment", "customer", r.CustomerName, "amount", r.Amount)

	verrs := validateRequest(r)
	checkAmount(&verrs, r.Amount)
	checkInstant(&verrs, "scheduled_date", r.ScheduledDate)
	if verrs.HasErrors() {
		s.log.Warnw("Invalid one-time payment", "error", verrs)
		return domain.Transaction{}, verrs
	}

	scheduled := r.ScheduledDate.UTC()
	name := strings.TrimSpace(r.CustomerName)
	txn := domain.Transaction{
		ID:             "txn_" + uuid.NewString(),
		CustomerName:   name,
		Amount:         r.Amount,
		Currency:       normalizeCurrency(r.Currency),
		ScheduledDate:  scheduled,
		Status:         domain.TransactionStatusPending,
		IdempotencyKey: domain.OneTimeIdempotencyKey(name, scheduled),
	}

	if err := s.store.AddTransaction(ctx, txn); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			s.log.Warnw("Duplicate one-time payment rejected", "idempotencyKey", txn.IdempotencyKey)
		}
		return domain.Transaction{}, fmt.Errorf("submit one-time payment: %w", err)
	}

	s.metrics.IncSubmitted("one_time", txn.Currency)
	s.afterMutation(ctx, domain.NewTransactionEvent(domain.EventTypeTransactionCreated, txn, s.clock.Now()))

	s.log.Infow("One-time payment scheduled", "transactionID", txn.ID, "scheduledDate", txn.ScheduledDate)
	return txn, nil
}

// SubmitSubscription создает активную подписку и ее первую транзакцию на дату старта.
// NextBillingDate подписки сразу указывает на следующий период.
func (s *billingService) SubmitSubscription(ctx context.Context, r domain.SubscriptionRequest) (domain.Subscription, error) {
	s.log.Debugw("Submitting subscription", "customer", r.CustomerName, "frequency", r.Frequency)

	verrs := validateRequest(r)
	checkAmount(&verrs, r.Amount)
	checkInstant(&verrs, "start_date", r.StartDate)
	if verrs.HasErrors() {
		s.log.Warnw("Invalid subscription", "error", verrs)
		return domain.Subscription{}, verrs
	}

	start := r.StartDate.UTC()
	sub := domain.Subscription{
		ID:              "sub_" + uuid.NewString(),
		CustomerName:    strings.TrimSpace(r.CustomerName),
		Amount:          r.Amount,
		Currency:        normalizeCurrency(r.Currency),
		Frequency:       r.Frequency,
		StartDate:       start,
		Status:          domain.SubscriptionStatusActive,
		NextBillingDate: billing.NextBillingDate(start, r.Frequency),
	}
	first := domain.Transaction{
		ID:             "txn_" + uuid.NewString(),
		SubscriptionID: sub.ID,
		CustomerName:   sub.CustomerName,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		ScheduledDate:  start,
		Status:         domain.TransactionStatusPending,
		IdempotencyKey: domain.SubscriptionIdempotencyKey(sub.ID, start),
	}

	if err := s.store.AddSubscription(ctx, sub, first); err != nil {
		return domain.Subscription{}, fmt.Errorf("submit subscription: %w", err)
	}

	now := s.clock.Now()
	s.metrics.IncSubmitted("subscription", sub.Currency)
	s.afterMutation(ctx,
		domain.NewSubscriptionEvent(domain.EventTypeSubscriptionCreated, sub, now),
		domain.NewTransactionEvent(domain.EventTypeTransactionCreated, first, now),
	)

	s.log.Infow("Created subscription",
		"subscriptionID", sub.ID, "firstTransactionID", first.ID, "nextBillingDate", sub.NextBillingDate)
	return sub, nil
}

// GetSubscription возвращает подписку по ID из того же снимка, что и ListSubscriptions
func (s *billingService) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	return s.reader.Subscription(ctx, id)
}

// ListSubscriptions возвращает подписки в порядке создания
func (s *billingService) ListSubscriptions(ctx context.Context) []domain.Subscription {
	return s.reader.Snapshot(ctx).Subscriptions
}

// GetTransaction возвращает транзакцию по ID из того же снимка, что и ListTransactions
func (s *billingService) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return s.reader.Transaction(ctx, id)
}

// ListTransactions возвращает транзакции, отсортированные по дате списания (новые первыми)
func (s *billingService) ListTransactions(ctx context.Context, filter domain.TransactionFilter) []domain.Transaction {
	return newestFirst(s.reader.Snapshot(ctx).Transactions, filter)
}

func newestFirst(all []domain.Transaction, filter domain.TransactionFilter) []domain.Transaction {
	result := make([]domain.Transaction, 0, len(all))
	for _, txn := range all {
		if filter.Match(txn) {
			result = append(result, txn)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ScheduledDate.After(result[j].ScheduledDate)
	})
	return result
}

// PauseSubscription приостанавливает активную подписку
func (s *billingService) PauseSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	return s.changeStatus(ctx, id, domain.SubscriptionStatusPaused, domain.SubscriptionStatusActive)
}

// CancelSubscription отменяет активную или приостановленную подписку
func (s *billingService) CancelSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	return s.changeStatus(ctx, id, domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusActive, domain.SubscriptionStatusPaused)
}

func (s *billingService) changeStatus(ctx context.Context, id string, to domain.SubscriptionStatus, from ...domain.SubscriptionStatus) (domain.Subscription, error) {
	s.log.Debugw("Changing subscription status", "subscriptionID", id, "to", to)

	sub, err := s.store.UpdateSubscription(ctx, id, func(sub *domain.Subscription) error {
		for _, allowed := range from {
			if sub.Status == allowed {
				sub.Status = to
				return nil
			}
		}
		return fmt.Errorf("%w: subscription %s is %s, cannot become %s", domain.ErrInvalidOperation, sub.ID, sub.Status, to)
	})
	if err != nil {
		s.log.Warnw("Subscription status change rejected", "subscriptionID", id, "to", to, "error", err)
		return domain.Subscription{}, err
	}

	s.afterMutation(ctx, domain.NewSubscriptionEvent(domain.EventTypeSubscriptionStatusChanged, sub, s.clock.Now()))
	s.log.Infow("Subscription status changed", "subscriptionID", id, "status", sub.Status)
	return sub, nil
}

// ResumeSubscription возобновляет приостановленную подписку. Если за время паузы
// у подписки не осталось открытых транзакций, следующая дата списания сдвигается
// на ближайший будущий период и для нее создается транзакция.
func (s *billingService) ResumeSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	s.log.Debugw("Resuming subscription", "subscriptionID", id)

	now := s.clock.Now()
	var (
		resumed domain.Subscription
		created *domain.Transaction
	)
	err := s.store.Apply(ctx, func(tx *repository.LedgerTx) error {
		sub, ok := tx.Subscription(id)
		if !ok {
			return domain.NewNotFoundError("subscription", id)
		}
		if sub.Status != domain.SubscriptionStatusPaused {
			return fmt.Errorf("%w: subscription %s is %s, cannot resume", domain.ErrInvalidOperation, id, sub.Status)
		}
		sub.Status = domain.SubscriptionStatusActive

		if !tx.HasOpenTransaction(id) {
			renewal := billing.Renew(sub, "txn_"+uuid.NewString())
			for !renewal.Subscription.NextBillingDate.After(now) {
				renewal = billing.Renew(renewal.Subscription, renewal.Next.ID)
			}
			sub = renewal.Subscription
			if !tx.HasIdempotencyKey(renewal.Next.IdempotencyKey) {
				if err := tx.InsertTransaction(renewal.Next); err != nil {
					return err
				}
				created = &renewal.Next
			}
		}

		resumed = sub
		return tx.UpdateSubscription(sub)
	})
	if err != nil {
		s.log.Warnw("Subscription resume rejected", "subscriptionID", id, "error", err)
		return domain.Subscription{}, err
	}

	events := []domain.BillingEvent{
		domain.NewSubscriptionEvent(domain.EventTypeSubscriptionStatusChanged, resumed, now),
	}
	if created != nil {
		events = append(events, domain.NewTransactionEvent(domain.EventTypeTransactionCreated, *created, now))
		s.log.Infow("Rescheduled billing after resume",
			"subscriptionID", id, "transactionID", created.ID, "nextBillingDate", resumed.NextBillingDate)
	}
	s.afterMutation(ctx, events...)

	s.log.Infow("Resumed subscription", "subscriptionID", id)
	return resumed, nil
}

// Seed загружает готовый набор данных
func (s *billingService) Seed(ctx context.Context, subs []domain.Subscription, txns []domain.Transaction) error {
	if err := s.store.Load(ctx, subs, txns); err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}
	s.reader.Refresh(ctx)
	s.log.Infow("Ledger seeded", "subscriptions", len(subs), "transactions", len(txns))
	return nil
}

// afterMutation обновляет кэш чтения и рассылает события
func (s *billingService) afterMutation(ctx context.Context, events ...domain.BillingEvent) {
	s.reader.Refresh(ctx)
	producer.PublishAll(ctx, s.publisher, events, s.log)
}

func validateRequest[T any](r T) domain.ValidationErrors {
	var verrs domain.ValidationErrors

	err := req.IsValid(r)
	if err == nil {
		return verrs
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verrs.Add("request", err.Error())
		return verrs
	}
	for _, fe := range fieldErrs {
		verrs.Add(fe.Field(), describe(fe))
	}
	return verrs
}

func checkAmount(verrs *domain.ValidationErrors, amount decimal.Decimal) {
	if !amount.IsPositive() {
		verrs.Add("amount", "must be a positive amount")
	}
}

func checkInstant(verrs *domain.ValidationErrors, field string, at time.Time) {
	if at.IsZero() {
		verrs.Add(field, "is required")
	}
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return DefaultCurrency
	}
	return currency
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "alpha":
		return "must contain only letters"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "failed on " + fe.Tag()
}
