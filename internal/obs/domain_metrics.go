package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pricingOnce sync.Once

	// PricingResolutionsTotal counts engine resolutions by effective mode and outcome.
	PricingResolutionsTotal *prometheus.CounterVec
	// PricingDegradedTotal counts resolutions that fell back to the flat-price estimate.
	PricingDegradedTotal *prometheus.CounterVec
	// PricingCycleFailuresTotal counts resolutions aborted by a composition cycle.
	PricingCycleFailuresTotal prometheus.Counter
	// PricingResolveDuration records resolution latency in milliseconds per consumer.
	PricingResolveDuration *prometheus.HistogramVec
	// CostingLinesTotal counts order lines seen by the cost backfill by outcome.
	CostingLinesTotal *prometheus.CounterVec
	// ReportOrdersTotal counts orders considered by margin reports by outcome.
	ReportOrdersTotal *prometheus.CounterVec
)

// MustRegisterPricingMetrics initialises and registers pricing Prometheus collectors.
func MustRegisterPricingMetrics(namespace string, reg prometheus.Registerer) {
	pricingOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_resolutions_total",
			Help:      "Count of pricing engine resolutions by mode and result.",
		}, []string{"mode", "result"})
		PricingDegradedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_degraded_total",
			Help:      "Count of degraded resolutions by reason.",
		}, []string{"reason"})
		PricingCycleFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_cycle_failures_total",
			Help:      "Number of resolutions that hit a cyclic composition.",
		})
		PricingResolveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_resolve_duration_ms",
			Help:      "Latency of pricing resolutions in milliseconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}, []string{"consumer"})
		CostingLinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "costing_lines_total",
			Help:      "Count of order lines processed by the cost backfill by result.",
		}, []string{"result"})
		ReportOrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_orders_total",
			Help:      "Count of orders considered by margin reports by result.",
		}, []string{"result"})

		PricingResolutionsTotal = registerOrReuse(reg, PricingResolutionsTotal)
		PricingDegradedTotal = registerOrReuse(reg, PricingDegradedTotal)
		PricingCycleFailuresTotal = registerOrReuse(reg, PricingCycleFailuresTotal)
		PricingResolveDuration = registerOrReuse(reg, PricingResolveDuration)
		CostingLinesTotal = registerOrReuse(reg, CostingLinesTotal)
		ReportOrdersTotal = registerOrReuse(reg, ReportOrdersTotal)
	})
}

// RecordResolution updates the resolution counters for one engine call. A nil
// err with degraded set is counted as "degraded".
func RecordResolution(consumer, mode string, degraded bool, err error, elapsedMs float64) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case degraded:
		result = "degraded"
	}
	if PricingResolutionsTotal != nil {
		PricingResolutionsTotal.WithLabelValues(mode, result).Inc()
	}
	if PricingResolveDuration != nil {
		PricingResolveDuration.WithLabelValues(consumer).Observe(elapsedMs)
	}
}

// RecordDegraded increments the degraded counter for reason.
func RecordDegraded(reason string) {
	if PricingDegradedTotal != nil {
		PricingDegradedTotal.WithLabelValues(reason).Inc()
	}
}

// RecordCycle increments the cyclic composition counter.
func RecordCycle() {
	if PricingCycleFailuresTotal != nil {
		PricingCycleFailuresTotal.Inc()
	}
}
