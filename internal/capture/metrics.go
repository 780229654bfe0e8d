package capture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts capture outcomes.
type Metrics struct {
	appended *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	disabled *prometheus.CounterVec
}

// NewMetrics registers capture metrics with reg. A nil reg gives metrics
// that are counted but not exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		appended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracer",
			Subsystem: "capture",
			Name:      "records_appended_total",
			Help:      "Records appended, by store.",
		}, []string{"store"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracer",
			Subsystem: "capture",
			Name:      "records_dropped_total",
			Help:      "Records dropped because the store could not allocate, by store.",
		}, []string{"store"}),
		disabled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracer",
			Subsystem: "capture",
			Name:      "counter_categories_disabled_total",
			Help:      "Resource counter categories disabled after a failed sample.",
		}, []string{"category"}),
	}
}
