package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/billing-scheduler/internal/billing"
	"github.com/Dhoini/billing-scheduler/internal/clock"
	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/internal/gateway"
	"github.com/Dhoini/billing-scheduler/internal/metrics"
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

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type countingRefresher struct{ n atomic.Int32 }

func (r *countingRefresher) Refresh(context.Context) { r.n.Add(1) }

// blockingGateway holds every Settle call until release is closed
type blockingGateway struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
	once    sync.Once
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *blockingGateway) Settle(ctx context.Context, _ domain.Transaction) (billing.Verdict, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return billing.VerdictSuccess, nil
}

type fixture struct {
	store *repository.LedgerStore
	clock *clock.Fake
	pub   *recordingPublisher
	sched *Scheduler
}

func newFixture(t *testing.T, gw gateway.Gateway, opts ...Option) *fixture {
	t.Helper()
	log := logger.NewNop()
	f := &fixture{
		store: repository.NewLedgerStore(log),
		clock: clock.NewFake(jan15),
		pub:   &recordingPublisher{},
	}
	seq := 0
	opts = append([]Option{
		WithPublisher(f.pub),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("txn_renew_%d", seq)
		}),
	}, opts...)
	f.sched = New(Config{SettleTimeout: time.Second}, f.store, gw, f.clock, log, opts...)
	return f
}

func (f *fixture) addSubscription(t *testing.T, status domain.SubscriptionStatus) domain.Subscription {
	t.Helper()
	sub := domain.Subscription{
		ID:              "sub_1",
		CustomerName:    "Alice Johnson",
		Amount:          decimal.RequireFromString("29.99"),
		Currency:        "USD",
		Frequency:       domain.FrequencyMonthly,
		StartDate:       jan15,
		Status:          status,
		NextBillingDate: jan15,
	}
	first := domain.Transaction{
		ID:             "txn_1",
		SubscriptionID: sub.ID,
		CustomerName:   sub.CustomerName,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		ScheduledDate:  jan15,
		Status:         domain.TransactionStatusPending,
		IdempotencyKey: domain.SubscriptionIdempotencyKey(sub.ID, jan15),
	}
	require.NoError(t, f.store.AddSubscription(context.Background(), sub, first))
	return sub
}

func (f *fixture) addOneTime(t *testing.T, id string, at time.Time) {
	t.Helper()
	txn := domain.Transaction{
		ID:             id,
		CustomerName:   "David Miller",
		Amount:         decimal.NewFromInt(150),
		Currency:       "USD",
		ScheduledDate:  at,
		Status:         domain.TransactionStatusPending,
		IdempotencyKey: domain.OneTimeIdempotencyKey("David Miller", at),
	}
	require.NoError(t, f.store.AddTransaction(context.Background(), txn))
}

func (f *fixture) txn(t *testing.T, id string) domain.Transaction {
	t.Helper()
	txn, err := f.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func TestTick_TwoRenewalsAdvanceOneMonthEach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.Always(billing.VerdictSuccess))
	f.addSubscription(t, domain.SubscriptionStatusActive)

	report, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Renewed)

	sub, err := f.store.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-15", sub.NextBillingDate.Format(time.DateOnly))

	f.clock.Set(time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC))
	report, err = f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)

	sub, _ = f.store.GetSubscription(ctx, "sub_1")
	assert.Equal(t, "2024-03-15", sub.NextBillingDate.Format(time.DateOnly))

	txns := f.store.Transactions(ctx, domain.TransactionFilter{SubscriptionID: "sub_1"})
	require.Len(t, txns, 3)
	assert.Equal(t, domain.TransactionStatusSucceeded, txns[0].Status)
	assert.Equal(t, domain.TransactionStatusSucceeded, txns[1].Status)
	assert.Equal(t, domain.TransactionStatusPending, txns[2].Status)
	assert.Equal(t, "2024-03-15", txns[2].ScheduledDate.Format(time.DateOnly))
	assert.Equal(t, "sub_1_2024-03-15", txns[2].IdempotencyKey)
	assert.Zero(t, txns[2].Attempts)
}

func TestTick_ThreeFailuresEndInFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.Always(billing.VerdictFailure))
	f.addOneTime(t, "txn_x", jan15)

	_, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	got := f.txn(t, "txn_x")
	assert.Equal(t, domain.TransactionStatusRetrying, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.ScheduledDate.Equal(jan15.Add(time.Minute)))

	// до истечения задержки повтор не берется
	report, _ := f.sched.Tick(ctx)
	assert.Zero(t, report.Due)

	f.clock.Advance(time.Minute)
	_, _ = f.sched.Tick(ctx)
	got = f.txn(t, "txn_x")
	assert.Equal(t, domain.TransactionStatusRetrying, got.Status)
	assert.Equal(t, 2, got.Attempts)

	f.clock.Advance(time.Minute)
	report, _ = f.sched.Tick(ctx)
	assert.Equal(t, 1, report.Failed)
	got = f.txn(t, "txn_x")
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)

	f.clock.Advance(time.Hour)
	report, _ = f.sched.Tick(ctx)
	assert.Zero(t, report.Due, "failed is terminal")
}

func TestTick_SecondTickWhileRunningIsNoop(t *testing.T) {
	gw := newBlockingGateway()
	f := newFixture(t, gw)
	f.addOneTime(t, "txn_x", jan15)

	done := make(chan BatchReport)
	go func() {
		report, _ := f.sched.Tick(context.Background())
		done <- report
	}()
	<-gw.entered

	assert.True(t, f.sched.Running())
	_, err := f.sched.Tick(context.Background())
	assert.ErrorIs(t, err, ErrBatchInProgress)
	_, err = f.sched.ProcessNow(context.Background())
	assert.ErrorIs(t, err, ErrBatchInProgress)

	close(gw.release)
	report := <-done

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, int32(1), gw.calls.Load(), "due set settled exactly once")
	assert.False(t, f.sched.Running())
}

func TestTick_TransactionAddedMidBatchWaitsForNextTick(t *testing.T) {
	gw := newBlockingGateway()
	f := newFixture(t, gw)
	f.addOneTime(t, "txn_first", jan15)

	done := make(chan BatchReport)
	go func() {
		report, _ := f.sched.Tick(context.Background())
		done <- report
	}()
	<-gw.entered

	// уже наступившая дата, но пакет уже собран
	f.addOneTime(t, "txn_late", jan15.Add(-time.Minute))

	close(gw.release)
	report := <-done

	assert.Equal(t, 1, report.Due)
	assert.Equal(t, int32(1), gw.calls.Load())
	assert.Equal(t, domain.TransactionStatusSucceeded, f.txn(t, "txn_first").Status)
	assert.Equal(t, domain.TransactionStatusPending, f.txn(t, "txn_late").Status)

	report, err := f.sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, int32(2), gw.calls.Load())
	assert.Equal(t, domain.TransactionStatusSucceeded, f.txn(t, "txn_late").Status)
}

func TestTick_FuturePaymentWaitsUntilDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.Always(billing.VerdictSuccess))
	f.addOneTime(t, "txn_tomorrow", jan15.AddDate(0, 0, 1))

	report, err := f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Equal(t, domain.TransactionStatusPending, f.txn(t, "txn_tomorrow").Status)

	f.clock.Advance(24 * time.Hour)
	report, err = f.sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, domain.TransactionStatusSucceeded, f.txn(t, "txn_tomorrow").Status)
}

func TestTick_GatewayErrorCountsAsFailure(t *testing.T) {
	gw := gateway.NewScripted(billing.VerdictSuccess).FailWith("txn_x", errors.New("connection reset"))
	f := newFixture(t, gw)
	f.addOneTime(t, "txn_x", jan15)

	report, err := f.sched.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Retrying)
	assert.Equal(t, 1, f.txn(t, "txn_x").Attempts)
}

func TestTick_GatewayTimeoutCountsAsFailure(t *testing.T) {
	slow := gateway.Func(func(ctx context.Context, _ domain.Transaction) (billing.Verdict, error) {
		<-ctx.Done()
		return billing.VerdictSuccess, ctx.Err()
	})
	log := logger.NewNop()
	store := repository.NewLedgerStore(log)
	clk := clock.NewFake(jan15)
	sched := New(Config{SettleTimeout: 20 * time.Millisecond}, store, slow, clk, log)

	txn := domain.Transaction{
		ID: "txn_x", CustomerName: "Bob", Amount: decimal.NewFromInt(1), Currency: "USD",
		ScheduledDate: jan15, Status: domain.TransactionStatusPending, IdempotencyKey: "k",
	}
	require.NoError(t, store.AddTransaction(context.Background(), txn))

	report, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retrying)
}

func TestTick_DanglingSubscriptionIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.Always(billing.VerdictSuccess))
	require.NoError(t, f.store.AddTransaction(ctx, domain.Transaction{
		ID: "txn_ghost", SubscriptionID: "sub_ghost", CustomerName: "Ghost",
		Amount: decimal.NewFromInt(5), Currency: "USD", ScheduledDate: jan15,
		Status: domain.TransactionStatusPending, IdempotencyKey: "sub_ghost_2024-01-15",
	}))

	report, err := f.sched.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, report.Renewed)
	assert.Len(t, f.store.Transactions(ctx, domain.TransactionFilter{}), 1)
}

func TestTick_PausedSubscriptionIsNotRenewed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.Always(billing.VerdictSuccess))
	f.addSubscription(t, domain.SubscriptionStatusPaused)

	report, err := f.sched.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.SkippedRenewals)
	sub, _ := f.store.GetSubscription(ctx, "sub_1")
	assert.True(t, sub.NextBillingDate.Equal(jan15))
	assert.Len(t, f.store.Transactions(ctx, domain.TransactionFilter{}), 1)
}

func TestTick_RenewalCoalescesWithExistingKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.Always(billing.VerdictSuccess))
	f.addSubscription(t, domain.SubscriptionStatusActive)
	feb15 := time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.AddTransaction(ctx, domain.Transaction{
		ID: "txn_existing", SubscriptionID: "sub_1", CustomerName: "Alice Johnson",
		Amount: decimal.RequireFromString("29.99"), Currency: "USD", ScheduledDate: feb15,
		Status: domain.TransactionStatusPending, IdempotencyKey: "sub_1_2024-02-15",
	}))

	report, err := f.sched.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Coalesced)
	assert.Zero(t, report.Renewed)
	assert.Len(t, f.store.Transactions(ctx, domain.TransactionFilter{}), 2)
	sub, _ := f.store.GetSubscription(ctx, "sub_1")
	assert.True(t, sub.NextBillingDate.Equal(feb15))
}

func TestTick_PublishesEventsAndRefreshesCache(t *testing.T) {
	refresher := &countingRefresher{}
	f := newFixture(t, gateway.Always(billing.VerdictSuccess), WithSnapshotRefresher(refresher))
	f.addSubscription(t, domain.SubscriptionStatusActive)

	_, err := f.sched.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.EventTypeTransactionSucceeded,
		domain.EventTypeSubscriptionRenewed,
		domain.EventTypeTransactionCreated,
	}, f.pub.types())
	assert.Equal(t, int32(1), refresher.n.Load())
}

func TestTick_RecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	f := newFixture(t, gateway.Always(billing.VerdictSuccess),
		WithMetrics(metrics.NewBillingMetrics(registry, logger.NewNop())))
	f.addSubscription(t, domain.SubscriptionStatusActive)

	_, err := f.sched.Tick(context.Background())
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(registry, "billing_renewals_total", "billing_settlements_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTick_ManyTransactionsSettleConcurrently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.Always(billing.VerdictSuccess))
	for i := 0; i < 50; i++ {
		f.addOneTime(t, fmt.Sprintf("txn_%02d", i), jan15.Add(-time.Duration(i)*time.Millisecond))
	}

	report, err := f.sched.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 50, report.Due)
	assert.Equal(t, 50, report.Succeeded)
	assert.Empty(t, f.store.Transactions(ctx, domain.TransactionFilter{Status: domain.TransactionStatusProcessing}))
}

func TestStartStop_WaitsForInFlightBatch(t *testing.T) {
	gw := newBlockingGateway()
	log := logger.NewNop()
	store := repository.NewLedgerStore(log)
	clk := clock.NewFake(jan15)
	sched := New(Config{Interval: 5 * time.Millisecond, SettleTimeout: 5 * time.Second}, store, gw, clk, log)

	require.NoError(t, store.AddTransaction(context.Background(), domain.Transaction{
		ID: "txn_x", CustomerName: "Bob", Amount: decimal.NewFromInt(1), Currency: "USD",
		ScheduledDate: jan15, Status: domain.TransactionStatusPending, IdempotencyKey: "k",
	}))

	require.NoError(t, sched.Start(context.Background()))
	assert.ErrorIs(t, sched.Start(context.Background()), ErrAlreadyStarted)
	<-gw.entered

	stopped := make(chan struct{})
	go func() {
		sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a batch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gw.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the batch completed")
	}

	txn, err := store.GetTransaction(context.Background(), "txn_x")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSucceeded, txn.Status)
	assert.False(t, sched.Status().Started)
	require.NotNil(t, sched.Status().LastReport)

	sched.Stop()
}

func TestNew_FillsDefaults(t *testing.T) {
	s := New(Config{}, repository.NewLedgerStore(logger.NewNop()), gateway.Always(billing.VerdictSuccess), clock.NewFake(jan15), logger.NewNop())

	assert.Equal(t, 5*time.Second, s.cfg.Interval)
	assert.Equal(t, DefaultSettleTimeout, s.cfg.SettleTimeout)
	assert.Equal(t, DefaultMaxConcurrency, s.cfg.MaxConcurrency)
	assert.Equal(t, billing.DefaultRetryPolicy(), s.cfg.Policy)
	assert.Equal(t, 5*time.Second, s.Status().Interval)
}
