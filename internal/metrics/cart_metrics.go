package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины снятия резерва.
const (
	ReleaseRemoved   = "removed"
	ReleaseExpired   = "expired"
	ReleaseDecreased = "decreased"
	ReleaseSold      = "sold"
)

// CartMetrics содержит метрики операций корзины и фоновой очистки резервов.
// Методы безопасны для nil-получателя.
type CartMetrics struct {
	// Операции корзины: add, update, remove, checkout.
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Движение резервов в единицах товара.
	reservedUnits *prometheus.CounterVec
	releasedUnits *prometheus.CounterVec

	ordersPlaced prometheus.Counter

	// Прогоны reaper.
	reaperRuns    *prometheus.CounterVec
	reaperLastRun prometheus.Gauge
	reaperSkipped prometheus.Counter
}

// NewCartMetrics создаёт метрики в DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer создаёт метрики в заданном registerer (в тестах: отдельный registry).
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopcart_cart_operations_total",
			Help: "Total number of cart operations grouped by operation and result",
		}, []string{"operation", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shopcart_cart_operation_duration_seconds",
			Help:    "Duration of cart operations including the storage transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		reservedUnits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopcart_reserved_units_total",
			Help: "Units of stock reserved by cart operations",
		}, []string{"operation"}),
		releasedUnits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopcart_released_units_total",
			Help: "Units of stock released from reservations grouped by reason",
		}, []string{"reason"}),
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcart_orders_placed_total",
			Help: "Total number of orders created by checkout",
		}),
		reaperRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopcart_reaper_runs_total",
			Help: "Total number of reservation reaper runs grouped by result",
		}, []string{"result"}),
		reaperLastRun: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shopcart_reaper_last_run_timestamp_seconds",
			Help: "Unix time of the last completed reaper run",
		}),
		reaperSkipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcart_reaper_skipped_variants_total",
			Help: "Variants whose expired reservations could not be released",
		}),
	}
}

// RecordOperation фиксирует результат и длительность операции корзины.
func (m *CartMetrics) RecordOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordReserved увеличивает счётчик зарезервированных единиц.
func (m *CartMetrics) RecordReserved(operation string, units int) {
	if m == nil || units <= 0 {
		return
	}
	m.reservedUnits.WithLabelValues(operation).Add(float64(units))
}

// RecordReleased увеличивает счётчик снятых с резерва единиц.
func (m *CartMetrics) RecordReleased(reason string, units int) {
	if m == nil || units <= 0 {
		return
	}
	m.releasedUnits.WithLabelValues(reason).Add(float64(units))
}

// RecordOrderPlaced увеличивает счётчик оформленных заказов.
func (m *CartMetrics) RecordOrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

// RecordReaperRun фиксирует прогон reaper.
func (m *CartMetrics) RecordReaperRun(result string, at time.Time) {
	if m == nil {
		return
	}
	m.reaperRuns.WithLabelValues(result).Inc()
	m.reaperLastRun.Set(float64(at.Unix()))
}

// RecordReaperSkipped увеличивает счётчик вариантов, пропущенных reaper.
func (m *CartMetrics) RecordReaperSkipped() {
	if m == nil {
		return
	}
	m.reaperSkipped.Inc()
}
