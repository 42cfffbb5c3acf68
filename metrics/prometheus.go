package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
	gauges    *prometheus.GaugeVec
}

// NewPrometheusRecorder registers the onramp collectors on reg. A nil reg
// falls back to the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onramp",
			Name:      "events_total",
			Help:      "onramp event counters",
		},
		[]string{"type", "network"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "onramp",
			Name:      "latency_seconds",
			Help:      "onramp operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "network"},
	)

	// last observed values, e.g. the accepted token price
	gauges := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "onramp",
			Name:      "state",
			Help:      "onramp current values",
		},
		[]string{"gauge", "network"},
	)

	for _, c := range []prometheus.Collector{counters, histogram, gauges} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
		gauges:    gauges,
	}, nil
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type":    name,
		"network": labels["network"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation": name,
		"network":   labels["network"],
	}).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetGauge(name string, v float64, labels map[string]string) {
	p.gauges.With(prometheus.Labels{
		"gauge":   name,
		"network": labels["network"],
	}).Set(v)
}
