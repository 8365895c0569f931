package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result.
const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultLatest     = "latest"
	ResultSuperseded = "superseded"
)

// StorefrontMetrics содержит метрики витрины: корзина, поиск, оформление, автосохранение.
type StorefrontMetrics struct {
	// Корзина
	cartOperations *prometheus.CounterVec
	cartLines      prometheus.Gauge
	cartUnits      prometheus.Gauge

	// Поиск по каталогу
	searchRequests *prometheus.CounterVec
	searchDuration prometheus.Histogram

	// Оформление заказа
	checkoutStarted     prometheus.Counter
	checkoutTransitions *prometheus.CounterVec
	paymentDuration     prometheus.Histogram
	paymentsInFlight    prometheus.Gauge

	// Автосохранение
	autosaveRuns  *prometheus.CounterVec
	autosaveBytes prometheus.Gauge
}

// NewStorefrontMetrics создаёт метрики в DefaultRegisterer.
func NewStorefrontMetrics() *StorefrontMetrics {
	return NewStorefrontMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorefrontMetricsWithRegisterer создаёт метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewStorefrontMetricsWithRegisterer(registerer prometheus.Registerer) *StorefrontMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorefrontMetrics{
		cartOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Total number of cart mutations by operation",
		}, []string{"operation"}),
		cartLines: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_cart_lines",
			Help: "Number of distinct line items in the cart",
		}),
		cartUnits: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_cart_units",
			Help: "Total quantity of units in the cart",
		}),
		searchRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_search_requests_total",
			Help: "Catalog searches by outcome (latest, superseded, error)",
		}, []string{"result"}),
		searchDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_search_duration_seconds",
			Help:    "Duration of catalog searches including simulated latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1.0},
		}),
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_started_total",
			Help: "Total number of checkout sessions started",
		}),
		checkoutTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_transitions_total",
			Help: "Checkout session status transitions",
		}, []string{"status"}),
		paymentDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_payment_duration_seconds",
			Help:    "Duration of simulated payments in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1.0, 2.0, 2.5, 5.0},
		}),
		paymentsInFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_payments_in_flight",
			Help: "Number of payments currently processing",
		}),
		autosaveRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_autosave_runs_total",
			Help: "Cart autosave attempts by result",
		}, []string{"result"}),
		autosaveBytes: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_autosave_snapshot_bytes",
			Help: "Size of the last persisted cart snapshot",
		}),
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

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCartOperation учитывает мутацию корзины и её размер после мутации.
func (m *StorefrontMetrics) RecordCartOperation(operation string, lines, units int) {
	m.cartOperations.WithLabelValues(operation).Inc()
	m.cartLines.Set(float64(lines))
	m.cartUnits.Set(float64(units))
}

// RecordSearch учитывает поиск с его исходом.
func (m *StorefrontMetrics) RecordSearch(result string, duration time.Duration) {
	m.searchRequests.WithLabelValues(result).Inc()
	m.searchDuration.Observe(duration.Seconds())
}

// RecordCheckoutStarted увеличивает счётчик начатых оформлений.
func (m *StorefrontMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
}

// RecordCheckoutTransition учитывает переход сессии в статус.
func (m *StorefrontMetrics) RecordCheckoutTransition(status string) {
	m.checkoutTransitions.WithLabelValues(status).Inc()
}

// RecordPaymentStarted увеличивает количество платежей в обработке.
func (m *StorefrontMetrics) RecordPaymentStarted() {
	m.paymentsInFlight.Inc()
}

// RecordPaymentFinished уменьшает количество платежей в обработке и пишет длительность.
func (m *StorefrontMetrics) RecordPaymentFinished(duration time.Duration) {
	m.paymentsInFlight.Dec()
	m.paymentDuration.Observe(duration.Seconds())
}

// RecordAutosave учитывает попытку автосохранения.
func (m *StorefrontMetrics) RecordAutosave(result string, size int) {
	m.autosaveRuns.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.autosaveBytes.Set(float64(size))
	}
}
