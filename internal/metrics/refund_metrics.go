package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отклонения возврата для метки reason.
const (
	RejectReasonOrderMissing   = "order_missing"
	RejectReasonAmountInvalid  = "amount_invalid"
	RejectReasonVersionExhaust = "version_conflict"
	RejectReasonStorage        = "storage"
)

// RefundMetrics содержит метрики заказов и возвратов.
type RefundMetrics struct {
	ordersCreated   prometheus.Counter
	refundsCreated  prometheus.Counter
	refundsRejected *prometheus.CounterVec
	refundedCents   prometheus.Counter

	versionConflicts prometheus.Counter
	statusChanges    *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
}

// NewRefundMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewRefundMetrics() *RefundMetrics {
	return NewRefundMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewRefundMetricsWithRegisterer позволяет передать отдельный registry (например, в тестах).
func NewRefundMetricsWithRegisterer(registerer prometheus.Registerer) *RefundMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &RefundMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "refunds_orders_created_total",
			Help: "Total number of orders created",
		}),
		refundsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "refunds_created_total",
			Help: "Total number of refunds persisted",
		}),
		refundsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "refunds_rejected_total",
			Help: "Total number of refund attempts rejected, by reason",
		}, []string{"reason"}),
		refundedCents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "refunds_amount_cents_total",
			Help: "Total refunded amount in cents",
		}),
		versionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "refunds_version_conflicts_total",
			Help: "Total number of optimistic locking conflicts while persisting refunds",
		}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "refunds_order_status_changes_total",
			Help: "Total number of order status transitions, by target status",
		}, []string{"status"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "refunds_operation_duration_seconds",
			Help:    "Duration of order and refund operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *RefundMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordRefundCreated учитывает сохранённый возврат и его сумму.
func (m *RefundMetrics) RecordRefundCreated(amountInCents int64) {
	if m == nil {
		return
	}
	m.refundsCreated.Inc()
	m.refundedCents.Add(float64(amountInCents))
}

// RecordRefundRejected учитывает отклонённую попытку возврата.
func (m *RefundMetrics) RecordRefundRejected(reason string) {
	if m == nil {
		return
	}
	m.refundsRejected.WithLabelValues(reason).Inc()
}

// RecordVersionConflict учитывает конфликт версий при сохранении.
func (m *RefundMetrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

// RecordStatusChange учитывает переход заказа в новый статус.
func (m *RefundMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordOperationDuration записывает время выполнения операции.
func (m *RefundMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
