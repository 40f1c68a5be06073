// Package scheduler drives settlement batches: it claims due transactions,
// asks the gateway for verdicts, and commits the resulting state changes and
// renewals as one atomic step.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Dhoini/billing-scheduler/internal/billing"
	"github.com/Dhoini/billing-scheduler/internal/clock"
	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/internal/gateway"
	"github.com/Dhoini/billing-scheduler/internal/kafka/producer"
	"github.com/Dhoini/billing-scheduler/internal/metrics"
	"github.com/Dhoini/billing-scheduler/internal/repository"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
)

var (
	// ErrBatchInProgress is returned by Tick while another batch is running.
	// The call is a no-op; the next tick re-evaluates due transactions.
	ErrBatchInProgress = errors.New("settlement batch already in progress")
	ErrAlreadyStarted  = errors.New("scheduler already started")
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultSettleTimeout  = 5 * time.Second
	DefaultMaxConcurrency = 16
)

// Ledger is the part of the store the scheduler mutates
type Ledger interface {
	ClaimDue(ctx context.Context, now time.Time, begin func(domain.Transaction) (domain.Transaction, error)) []domain.Transaction
	Apply(ctx context.Context, fn func(tx *repository.LedgerTx) error) error
}

// SnapshotRefresher is notified after every committed batch
type SnapshotRefresher interface {
	Refresh(ctx context.Context)
}

// Config holds loop tuning
type Config struct {
	Interval       time.Duration
	SettleTimeout  time.Duration
	MaxConcurrency int
	Policy         billing.RetryPolicy
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Interval:       DefaultInterval,
		SettleTimeout:  DefaultSettleTimeout,
		MaxConcurrency: DefaultMaxConcurrency,
		Policy:         billing.DefaultRetryPolicy(),
	}
}

// BatchReport summarizes one settlement batch
type BatchReport struct {
	BatchID         string        `json:"batch_id"`
	StartedAt       time.Time     `json:"started_at"`
	Due             int           `json:"due"`
	Succeeded       int           `json:"succeeded"`
	Retrying        int           `json:"retrying"`
	Failed          int           `json:"failed"`
	Renewed         int           `json:"renewed"`
	SkippedRenewals int           `json:"skipped_renewals"`
	Coalesced       int           `json:"coalesced"`
	Duration        time.Duration `json:"duration_ns"`
}

// Status is a point-in-time view of the loop
type Status struct {
	Started    bool          `json:"started"`
	Running    bool          `json:"running"`
	Interval   time.Duration `json:"interval_ns"`
	LastReport *BatchReport  `json:"last_report,omitempty"`
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithPublisher sets the event publisher
func WithPublisher(p producer.Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithMetrics sets the metrics sink
func WithMetrics(m metrics.BillingMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSnapshotRefresher sets the read-side cache to refresh after commits
func WithSnapshotRefresher(r SnapshotRefresher) Option {
	return func(s *Scheduler) { s.refresher = r }
}

// WithIDGenerator overrides how renewal transaction ids are built
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newID = fn }
}

// Scheduler runs at most one settlement batch at a time
type Scheduler struct {
	cfg       Config
	ledger    Ledger
	gateway   gateway.Gateway
	clock     clock.Clock
	publisher producer.Publisher
	metrics   metrics.BillingMetrics
	refresher SnapshotRefresher
	newID     func() string
	log       *logger.Logger

	// running is the only guard against overlapping batches
	running atomic.Bool
	// batchMu is held for the whole batch so Stop can wait for it
	batchMu    sync.Mutex
	lastReport atomic.Pointer[BatchReport]

	loopMu  sync.Mutex
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	started bool
}

// New создает планировщик. Нулевые поля cfg заменяются значениями по умолчанию.
func New(cfg Config, ledger Ledger, gw gateway.Gateway, clk clock.Clock, log *logger.Logger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy.MaxAttempts = def.Policy.MaxAttempts
	}
	if cfg.Policy.RetryDelay <= 0 {
		cfg.Policy.RetryDelay = def.Policy.RetryDelay
	}

	s := &Scheduler{
		cfg:     cfg,
		ledger:  ledger,
		gateway: gw,
		clock:   clk,
		log:     log,
		newID:   func() string { return "txn_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = producer.NewNoopPublisher(log)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoopBillingMetrics()
	}
	return s
}

// Start launches the periodic loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.loopWG.Add(1)
	go s.loop(loopCtx)

	s.log.Infow("Scheduler started", "interval", s.cfg.Interval, "maxConcurrency", s.cfg.MaxConcurrency)
	return nil
}

// Stop cancels the periodic timer and waits for an in-flight batch to finish
func (s *Scheduler) Stop() {
	s.loopMu.Lock()
	if !s.started {
		s.loopMu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.loopMu.Unlock()

	s.loopWG.Wait()

	// ждем пакет, запущенный вручную через ProcessNow
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	s.log.Info("Scheduler stopped")
}

// Running reports whether a batch is in flight
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Status returns loop state and the last batch report
func (s *Scheduler) Status() Status {
	s.loopMu.Lock()
	started := s.started
	s.loopMu.Unlock()

	return Status{
		Started:    started,
		Running:    s.Running(),
		Interval:   s.cfg.Interval,
		LastReport: s.lastReport.Load(),
	}
}

// ProcessNow is the manual trigger; it shares Tick's single-batch rule
func (s *Scheduler) ProcessNow(ctx context.Context) (BatchReport, error) {
	return s.Tick(ctx)
}

// Tick runs one settlement batch, or returns ErrBatchInProgress without
// doing anything when a batch is already running.
func (s *Scheduler) Tick(ctx context.Context) (BatchReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.IncBatchRejected()
		s.log.Debug("Tick skipped: batch in progress")
		return BatchReport{}, ErrBatchInProgress
	}
	defer s.running.Store(false)

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	// отмена вызывающего не должна обрывать уже начатое списание
	report := s.runBatch(context.WithoutCancel(ctx))
	s.lastReport.Store(&report)
	return report, nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrBatchInProgress) {
				s.log.Errorw("Tick failed", "error", err)
			}
		}
	}
}

type settlement struct {
	txn     domain.Transaction
	verdict billing.Verdict
}

func (s *Scheduler) runBatch(ctx context.Context) BatchReport {
	started := time.Now()
	now := s.clock.Now()
	report := BatchReport{
		BatchID:   uuid.NewString(),
		StartedAt: now,
	}
	log := s.log.With("batchID", report.BatchID)

	claimed := s.ledger.ClaimDue(ctx, now, s.cfg.Policy.Begin)
	report.Due = len(claimed)
	if len(claimed) == 0 {
		report.Duration = time.Since(started)
		s.metrics.ObserveBatch(report.Duration, 0)
		return report
	}
	log.Infow("Settling due transactions", "count", len(claimed))

	settlements := s.settle(ctx, claimed, log)

	var events []domain.BillingEvent
	err := s.ledger.Apply(ctx, func(tx *repository.LedgerTx) error {
		events = s.resolve(tx, settlements, now, &report, log)
		return nil
	})
	if err != nil {
		log.Errorw("Failed to commit batch", "error", err)
	}

	for _, st := range settlements {
		if st.verdict == billing.VerdictSuccess {
			s.metrics.ObserveSettledAmount(st.txn.Amount.InexactFloat64(), st.txn.Currency)
		}
	}
	if s.refresher != nil {
		s.refresher.Refresh(ctx)
	}
	producer.PublishAll(ctx, s.publisher, events, log)

	report.Duration = time.Since(started)
	s.metrics.ObserveBatch(report.Duration, report.Due)
	log.Infow("Batch committed",
		"due", report.Due,
		"succeeded", report.Succeeded,
		"retrying", report.Retrying,
		"failed", report.Failed,
		"renewed", report.Renewed,
		"skippedRenewals", report.SkippedRenewals,
		"coalesced", report.Coalesced,
		"duration", report.Duration,
	)
	return report
}

// settle collects one verdict per claimed transaction. A gateway error or
// timeout counts as a failure verdict.
func (s *Scheduler) settle(ctx context.Context, claimed []domain.Transaction, log *logger.Logger) []settlement {
	results := make([]settlement, len(claimed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, txn := range claimed {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.cfg.SettleTimeout)
			defer cancel()

			verdict, err := s.gateway.Settle(callCtx, txn)
			if err != nil {
				log.Warnw("Gateway error, counting as failure", "transactionID", txn.ID, "error", err)
				verdict = billing.VerdictFailure
			}
			results[i] = settlement{txn: txn, verdict: verdict}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// resolve applies verdicts and renewals inside the staged transaction and
// returns the events to publish once it commits.
func (s *Scheduler) resolve(tx *repository.LedgerTx, settlements []settlement, now time.Time, report *BatchReport, log *logger.Logger) []domain.BillingEvent {
	var events []domain.BillingEvent

	for _, st := range settlements {
		current, ok := tx.Transaction(st.txn.ID)
		if !ok {
			log.Errorw("Claimed transaction disappeared", "transactionID", st.txn.ID)
			continue
		}
		resolved, err := s.cfg.Policy.Resolve(current, st.verdict, now)
		if err != nil {
			log.Errorw("Cannot resolve transaction", "transactionID", current.ID, "error", err)
			continue
		}
		if err := tx.UpdateTransaction(resolved); err != nil {
			log.Errorw("Cannot update transaction", "transactionID", current.ID, "error", err)
			continue
		}
		s.metrics.IncSettlement(string(resolved.Status), resolved.Currency)

		switch resolved.Status {
		case domain.TransactionStatusSucceeded:
			report.Succeeded++
			events = append(events, domain.NewTransactionEvent(domain.EventTypeTransactionSucceeded, resolved, now))
			if !resolved.IsOneTime() {
				events = append(events, s.renew(tx, resolved, now, report, log)...)
			}
		case domain.TransactionStatusRetrying:
			report.Retrying++
			events = append(events, domain.NewTransactionEvent(domain.EventTypeTransactionRetrying, resolved, now))
		case domain.TransactionStatusFailed:
			report.Failed++
			events = append(events, domain.NewTransactionEvent(domain.EventTypeTransactionFailed, resolved, now))
		}
	}

	return events
}

func (s *Scheduler) renew(tx *repository.LedgerTx, settled domain.Transaction, now time.Time, report *BatchReport, log *logger.Logger) []domain.BillingEvent {
	sub, ok := tx.Subscription(settled.SubscriptionID)
	if !ok {
		log.Warnw("Settled transaction references unknown subscription",
			"transactionID", settled.ID, "subscriptionID", settled.SubscriptionID)
		return nil
	}
	if !billing.CanRenew(sub) {
		report.SkippedRenewals++
		s.metrics.IncRenewal(metrics.RenewalSkipped)
		log.Warnw("Subscription not active, renewal skipped",
			"subscriptionID", sub.ID, "status", sub.Status)
		return nil
	}

	renewal := billing.Renew(sub, s.newID())
	if err := tx.UpdateSubscription(renewal.Subscription); err != nil {
		log.Errorw("Cannot advance subscription", "subscriptionID", sub.ID, "error", err)
		return nil
	}
	events := []domain.BillingEvent{
		domain.NewSubscriptionEvent(domain.EventTypeSubscriptionRenewed, renewal.Subscription, now),
	}

	if tx.HasIdempotencyKey(renewal.Next.IdempotencyKey) {
		// за эту дату уже есть транзакция, вторая не нужна
		report.Coalesced++
		s.metrics.IncRenewal(metrics.RenewalCoalesced)
		log.Warnw("Renewal coalesced with existing transaction",
			"subscriptionID", sub.ID, "idempotencyKey", renewal.Next.IdempotencyKey)
		return events
	}
	if err := tx.InsertTransaction(renewal.Next); err != nil {
		log.Errorw("Cannot schedule renewal transaction", "subscriptionID", sub.ID, "error", err)
		return events
	}

	report.Renewed++
	s.metrics.IncRenewal(metrics.RenewalRenewed)
	log.Infow("Subscription renewed",
		"subscriptionID", sub.ID,
		"nextBillingDate", renewal.Subscription.NextBillingDate.Format(time.DateOnly),
		"transactionID", renewal.Next.ID)
	return append(events, domain.NewTransactionEvent(domain.EventTypeTransactionCreated, renewal.Next, now))
}
