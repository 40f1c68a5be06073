package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/billing-scheduler/internal/clock"
	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/internal/repository"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
)

var jan15 = time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.BillingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.BillingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	store *repository.LedgerStore
	clock *clock.Fake
	pub   *recordingPublisher
	svc   BillingService
}

func newFixture() *fixture {
	log := logger.NewNop()
	store := repository.NewLedgerStore(log)
	f := &fixture{
		store: store,
		clock: clock.NewFake(jan15),
		pub:   &recordingPublisher{},
	}
	f.svc = NewBillingService(store, repository.NewCachedLedger(store, nil, log), f.clock, f.pub, nil, log)
	return f
}

func subscriptionRequest(start time.Time) domain.SubscriptionRequest {
	return domain.SubscriptionRequest{
		CustomerName: "Alice Johnson",
		Amount:       decimal.RequireFromString("29.99"),
		Currency:     "usd",
		Frequency:    domain.FrequencyMonthly,
		StartDate:    start,
	}
}

func TestSubmitOneTimePayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	at := jan15.AddDate(0, 0, 1)

	txn, err := f.svc.SubmitOneTimePayment(ctx, domain.OneTimePaymentRequest{
		CustomerName:  "David Miller",
		Amount:        decimal.NewFromInt(150),
		ScheduledDate: at,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusPending, txn.Status)
	assert.Zero(t, txn.Attempts)
	assert.Empty(t, txn.SubscriptionID)
	assert.Equal(t, "USD", txn.Currency)
	assert.Equal(t, "one-time_DavidMiller_2024-01-16T00:00:00.000Z", txn.IdempotencyKey)
	assert.Contains(t, txn.ID, "txn_")

	stored, err := f.svc.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.IdempotencyKey, stored.IdempotencyKey)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, domain.EventTypeTransactionCreated, f.pub.events[0].Type)
}

func TestSubmitOneTimePayment_DuplicateRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r := domain.OneTimePaymentRequest{
		CustomerName:  "David Miller",
		Amount:        decimal.NewFromInt(150),
		ScheduledDate: jan15,
	}

	_, err := f.svc.SubmitOneTimePayment(ctx, r)
	require.NoError(t, err)

	r.CustomerName = "David  Miller"
	_, err = f.svc.SubmitOneTimePayment(ctx, r)
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Len(t, f.svc.ListTransactions(ctx, domain.TransactionFilter{}), 1)
}

func TestSubmitOneTimePayment_Validation(t *testing.T) {
	tests := []struct {
		name   string
		req    domain.OneTimePaymentRequest
		fields []string
	}{
		{
			name:   "empty request",
			req:    domain.OneTimePaymentRequest{},
			fields: []string{"customer_name", "amount", "scheduled_date"},
		},
		{
			name: "negative amount",
			req: domain.OneTimePaymentRequest{
				CustomerName: "Bob", Amount: decimal.NewFromInt(-5), ScheduledDate: jan15,
			},
			fields: []string{"amount"},
		},
		{
			name: "bad currency",
			req: domain.OneTimePaymentRequest{
				CustomerName: "Bob", Amount: decimal.NewFromInt(5), Currency: "US1", ScheduledDate: jan15,
			},
			fields: []string{"currency"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.SubmitOneTimePayment(context.Background(), tt.req)

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			var verrs domain.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.ElementsMatch(t, tt.fields, verrs.Fields())
			assert.Empty(t, f.svc.ListTransactions(context.Background(), domain.TransactionFilter{}))
		})
	}
}

func TestSubmitSubscription(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sub, err := f.svc.SubmitSubscription(ctx, subscriptionRequest(jan15))
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "USD", sub.Currency)
	assert.Equal(t, "2024-02-15", sub.NextBillingDate.Format(time.DateOnly))

	txns := f.svc.ListTransactions(ctx, domain.TransactionFilter{SubscriptionID: sub.ID})
	require.Len(t, txns, 1)
	assert.True(t, txns[0].ScheduledDate.Equal(jan15), "first charge is on the start date")
	assert.Equal(t, sub.ID+"_2024-01-15", txns[0].IdempotencyKey)
	assert.Equal(t, domain.TransactionStatusPending, txns[0].Status)

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, domain.EventTypeSubscriptionCreated, f.pub.events[0].Type)
}

func TestSubmitSubscription_EndOfMonthClamps(t *testing.T) {
	f := newFixture()
	jan31 := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)

	sub, err := f.svc.SubmitSubscription(context.Background(), subscriptionRequest(jan31))
	require.NoError(t, err)

	assert.Equal(t, "2024-02-29", sub.NextBillingDate.Format(time.DateOnly))
}

func TestSubmitSubscription_Validation(t *testing.T) {
	f := newFixture()
	r := subscriptionRequest(jan15)
	r.Frequency = "weekly"
	r.Amount = decimal.Zero

	_, err := f.svc.SubmitSubscription(context.Background(), r)

	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.ElementsMatch(t, []string{"frequency", "amount"}, verrs.Fields())
	assert.Empty(t, f.svc.ListSubscriptions(context.Background()))
}

func TestListTransactions_NewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, days := range []int{3, 1, 2} {
		_, err := f.svc.SubmitOneTimePayment(ctx, domain.OneTimePaymentRequest{
			CustomerName:  "Bob",
			Amount:        decimal.NewFromInt(10),
			ScheduledDate: jan15.AddDate(0, 0, days),
		})
		require.NoError(t, err)
	}

	txns := f.svc.ListTransactions(ctx, domain.TransactionFilter{})
	require.Len(t, txns, 3)
	assert.Equal(t, 18, txns[0].ScheduledDate.Day())
	assert.Equal(t, 17, txns[1].ScheduledDate.Day())
	assert.Equal(t, 16, txns[2].ScheduledDate.Day())

	assert.Empty(t, f.svc.ListTransactions(ctx, domain.TransactionFilter{Status: domain.TransactionStatusFailed}))
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sub, err := f.svc.SubmitSubscription(ctx, subscriptionRequest(jan15))
	require.NoError(t, err)

	_, err = f.svc.ResumeSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation, "active cannot be resumed")

	paused, err := f.svc.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPaused, paused.Status)

	_, err = f.svc.PauseSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	resumed, err := f.svc.ResumeSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, resumed.Status)
	assert.True(t, resumed.NextBillingDate.Equal(sub.NextBillingDate), "open transaction keeps the schedule")
	assert.Len(t, f.svc.ListTransactions(ctx, domain.TransactionFilter{SubscriptionID: sub.ID}), 1)

	cancelled, err := f.svc.CancelSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, cancelled.Status)

	_, err = f.svc.CancelSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation, "cancelled is terminal")
	_, err = f.svc.ResumeSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = f.svc.PauseSubscription(ctx, "sub_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.ResumeSubscription(ctx, "sub_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResumeSubscription_ReschedulesMissedCycles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sub, err := f.svc.SubmitSubscription(ctx, subscriptionRequest(jan15))
	require.NoError(t, err)
	_, err = f.svc.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)

	// первая транзакция списалась во время паузы
	open := f.store.Transactions(ctx, domain.TransactionFilter{SubscriptionID: sub.ID})
	require.NoError(t, f.store.Apply(ctx, func(tx *repository.LedgerTx) error {
		for _, txn := range open {
			txn.Status = domain.TransactionStatusSucceeded
			if err := tx.UpdateTransaction(txn); err != nil {
				return err
			}
		}
		return nil
	}))

	f.clock.Set(time.Date(2024, time.April, 20, 0, 0, 0, 0, time.UTC))
	resumed, err := f.svc.ResumeSubscription(ctx, sub.ID)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-15", resumed.NextBillingDate.Format(time.DateOnly))
	pending := f.svc.ListTransactions(ctx, domain.TransactionFilter{
		SubscriptionID: sub.ID,
		Status:         domain.TransactionStatusPending,
	})
	require.Len(t, pending, 1)
	assert.Equal(t, sub.ID+"_2024-05-15", pending[0].IdempotencyKey)
}

func TestDashboard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SubmitSubscription(ctx, subscriptionRequest(jan15))
	require.NoError(t, err)
	paid, err := f.svc.SubmitOneTimePayment(ctx, domain.OneTimePaymentRequest{
		CustomerName: "Bob", Amount: decimal.RequireFromString("10.50"), Currency: "EUR", ScheduledDate: jan15,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Apply(ctx, func(tx *repository.LedgerTx) error {
		paid.Status = domain.TransactionStatusSucceeded
		return tx.UpdateTransaction(paid)
	}))

	d := f.svc.Dashboard(ctx)

	assert.Len(t, d.Subscriptions, 1)
	assert.Len(t, d.Transactions, 2)
	assert.Equal(t, 1, d.SubscriptionCounts[domain.SubscriptionStatusActive])
	assert.Equal(t, 1, d.TransactionCounts[domain.TransactionStatusPending])
	assert.Equal(t, 1, d.TransactionCounts[domain.TransactionStatusSucceeded])
	assert.Equal(t, "10.5", d.SettledTotals["EUR"].String())
	assert.Equal(t, "29.99", d.OutstandingTotals["USD"].String())
	assert.True(t, d.GeneratedAt.Equal(jan15))
}

func TestListTransactions_CachedAfterConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := repository.NewLedgerStore(log)
	cache := repository.NewSnapshotCacheWithClient(client, time.Minute, log)
	svc := NewBillingService(store, repository.NewCachedLedger(store, cache, log), clock.NewFake(jan15), nil, nil, log)

	const submissions = 40
	var wg sync.WaitGroup
	for i := range submissions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitOneTimePayment(ctx, domain.OneTimePaymentRequest{
				CustomerName:  fmt.Sprintf("Customer %d", i),
				Amount:        decimal.NewFromInt(10),
				ScheduledDate: jan15,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	listed := svc.ListTransactions(ctx, domain.TransactionFilter{})
	assert.Len(t, listed, submissions)
	assert.Len(t, store.Transactions(ctx, domain.TransactionFilter{}), submissions)

	for _, txn := range listed {
		got, err := svc.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, txn.IdempotencyKey, got.IdempotencyKey)
	}
}
