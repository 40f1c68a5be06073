package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SystemMetrics периодически снимает показатели рантайма процесса
type SystemMetrics interface {
	Record()
	StartRecording(interval time.Duration)
	Stop()
}

type systemMetrics struct {
	log         *logger.Logger
	goroutines  prometheus.Gauge
	heapAlloc   prometheus.Gauge
	heapSys     prometheus.Gauge
	gcCycles    prometheus.Counter
	lastNumGC   uint32
	mu          sync.Mutex
	stopCh      chan struct{}
	stopOnce    sync.Once
	startedOnce sync.Once
}

// NewSystemMetrics создает новые системные метрики
func NewSystemMetrics(registry *prometheus.Registry, log *logger.Logger) SystemMetrics {
	factory := promauto.With(registry)

	return &systemMetrics{
		log: log,
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "billing_process_goroutines",
			Help: "Current number of goroutines",
		}),
		heapAlloc: factory.NewGauge(prometheus.GaugeOpts{
			Name: "billing_process_heap_alloc_bytes",
			Help: "Currently allocated heap memory in bytes",
		}),
		heapSys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "billing_process_heap_sys_bytes",
			Help: "Heap memory obtained from the system in bytes",
		}),
		gcCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_process_gc_cycles_total",
			Help: "Completed garbage collection cycles",
		}),
		stopCh: make(chan struct{}),
	}
}

// Record снимает показатели один раз
func (m *systemMetrics) Record() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.heapAlloc.Set(float64(memStats.HeapAlloc))
	m.heapSys.Set(float64(memStats.HeapSys))

	// счетчик растет только на прирост с прошлого снятия
	m.mu.Lock()
	if memStats.NumGC > m.lastNumGC {
		m.gcCycles.Add(float64(memStats.NumGC - m.lastNumGC))
		m.lastNumGC = memStats.NumGC
	}
	m.mu.Unlock()
}

// StartRecording начинает запись метрик с заданным интервалом
func (m *systemMetrics) StartRecording(interval time.Duration) {
	m.startedOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			m.Record()
			for {
				select {
				case <-ticker.C:
					m.Record()
				case <-m.stopCh:
					return
				}
			}
		}()
		m.log.Info("System metrics recording started with interval %s", interval)
	})
}

// Stop останавливает запись метрик; повторный вызов безопасен
func (m *systemMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.log.Info("System metrics recording stopped")
	})
}
