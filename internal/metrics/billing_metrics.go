package metrics

import (
	"time"

	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы продления подписки
const (
	RenewalRenewed   = "renewed"
	RenewalSkipped   = "skipped"
	RenewalCoalesced = "coalesced"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncSubmitted(kind, currency string)
	ObserveBatch(duration time.Duration, due int)
	IncSettlement(status, currency string)
	ObserveSettledAmount(amount float64, currency string)
	IncRenewal(outcome string)
	IncBatchRejected()
}

type billingMetrics struct {
	log             *logger.Logger
	submitted       *prometheus.CounterVec
	batches         prometheus.Counter
	batchesRejected prometheus.Counter
	batchDuration   prometheus.Histogram
	dueTransactions prometheus.Gauge
	settlements     *prometheus.CounterVec
	settledAmount   *prometheus.HistogramVec
	renewals        *prometheus.CounterVec
}

// NewBillingMetrics регистрирует метрики биллинга в registry
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	factory := promauto.With(registry)

	return &billingMetrics{
		log: log,
		submitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_submissions_total",
				Help: "The total number of accepted submissions",
			},
			[]string{"kind", "currency"},
		),
		batches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_batches_total",
				Help: "The total number of processed batches",
			},
		),
		batchesRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_batches_rejected_total",
				Help: "Ticks ignored because a batch was already running",
			},
		),
		batchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_batch_duration_seconds",
				Help:    "Batch processing time",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 6), // 10ms .. ~10s
			},
		),
		dueTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_due_transactions",
				Help: "Transactions claimed by the last batch",
			},
		),
		settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_settlements_total",
				Help: "Settlement attempts by resulting status",
			},
			[]string{"status", "currency"},
		),
		settledAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_settled_amount",
				Help:    "Successfully settled amounts",
				Buckets: prometheus.ExponentialBuckets(10, 10, 5), // 10, 100, 1000, 10000, 100000
			},
			[]string{"currency"},
		),
		renewals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_renewals_total",
				Help: "Subscription renewals by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// IncSubmitted увеличивает счетчик принятых заявок (one_time или subscription)
func (m *billingMetrics) IncSubmitted(kind, currency string) {
	m.submitted.WithLabelValues(kind, currency).Inc()
}

// ObserveBatch записывает длительность пакета и число взятых в него транзакций
func (m *billingMetrics) ObserveBatch(duration time.Duration, due int) {
	m.batches.Inc()
	m.batchDuration.Observe(duration.Seconds())
	m.dueTransactions.Set(float64(due))
}

// IncSettlement увеличивает счетчик исходов списания
func (m *billingMetrics) IncSettlement(status, currency string) {
	m.settlements.WithLabelValues(status, currency).Inc()
}

// ObserveSettledAmount записывает сумму успешного списания
func (m *billingMetrics) ObserveSettledAmount(amount float64, currency string) {
	m.settledAmount.WithLabelValues(currency).Observe(amount)
}

// IncRenewal увеличивает счетчик продлений
func (m *billingMetrics) IncRenewal(outcome string) {
	m.renewals.WithLabelValues(outcome).Inc()
}

// IncBatchRejected считает тики, пропущенные из-за уже идущего пакета
func (m *billingMetrics) IncBatchRejected() {
	m.batchesRejected.Inc()
}

type noopMetrics struct{}

// NewNoopBillingMetrics возвращает метрики, которые ничего не записывают
func NewNoopBillingMetrics() BillingMetrics {
	return noopMetrics{}
}

func (noopMetrics) IncSubmitted(string, string)          {}
func (noopMetrics) ObserveBatch(time.Duration, int)      {}
func (noopMetrics) IncSettlement(string, string)         {}
func (noopMetrics) ObserveSettledAmount(float64, string) {}
func (noopMetrics) IncRenewal(string)                    {}
func (noopMetrics) IncBatchRejected()                    {}
