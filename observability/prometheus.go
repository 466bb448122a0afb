package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusFactory is a MetricFactory backed by a Prometheus registerer.
// Metric names are normalized to Prometheus form: dots become underscores.
type PrometheusFactory struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

var _ MetricFactory = (*PrometheusFactory)(nil)

// NewPrometheusFactory creates a factory registering against reg. A nil reg
// uses the default registerer.
func NewPrometheusFactory(reg prometheus.Registerer) *PrometheusFactory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusFactory{
		reg:        reg,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := promName(name)
	if c, ok := f.counters[key]; ok {
		return c
	}
	c := promauto.With(f.reg).NewCounter(prometheus.CounterOpts{
		Name: key + "_total",
		Help: "Count of " + name + " events.",
	})
	f.counters[key] = c
	return c
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := promName(name)
	if h, ok := f.histograms[key]; ok {
		return h
	}
	h := promauto.With(f.reg).NewHistogram(prometheus.HistogramOpts{
		Name:    key,
		Help:    "Distribution of " + name + ".",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	})
	f.histograms[key] = h
	return h
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
