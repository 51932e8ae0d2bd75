package infra

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"telemetry-agent/middleware/telemetry/domain"
)

// PrometheusRecorder expõe as métricas internas do agente (fila, envios,
// descartes) num prometheus.Registerer.
type PrometheusRecorder struct {
	counters    map[string]prometheus.Counter
	sendSeconds *prometheus.HistogramVec
	queueLength prometheus.Gauge
}

func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      name,
			Help:      help,
		})
	}
	r := &PrometheusRecorder{
		counters: map[string]prometheus.Counter{
			domain.MetricPayloadsSent:     counter("payloads_sent_total", "Payloads delivered to the hub"),
			domain.MetricPayloadsDropped:  counter("payloads_dropped_total", "Payloads dropped for exceeding the queue age ceiling"),
			domain.MetricPayloadsRequeued: counter("payloads_requeued_total", "Payloads put back in the queue after a failed delivery"),
			domain.MetricKeyRefreshes:     counter("key_refreshes_total", "Successful api key refreshes"),
		},
		sendSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "send_latency_seconds",
			Help:      "Hub request latency in seconds, retries included",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"endpoint"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "queue_length",
			Help:      "Payloads waiting for delivery",
		}),
	}

	collectors := []prometheus.Collector{r.sendSeconds, r.queueLength}
	for _, c := range r.counters {
		collectors = append(collectors, c)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering telemetry metrics")
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) Add(name string, value float64, _ map[string]string) {
	if c, ok := r.counters[name]; ok && value > 0 {
		c.Add(value)
	}
}

func (r *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	switch name {
	case domain.MetricSendSeconds:
		r.sendSeconds.WithLabelValues(tags["endpoint"]).Observe(value)
	case domain.MetricQueueLength:
		r.queueLength.Set(value)
	}
}
