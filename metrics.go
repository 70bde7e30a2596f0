package mouse_telemetry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "rr_mouse_telemetry"
)

// metricsCollector implements prometheus.Collector interface.
// A nil collector is valid and records nothing.
type metricsCollector struct {
	// Atomic counters for thread-safe metric updates
	receivedSamples  atomic.Uint64 // samples accepted by the dispatcher
	deliveredSamples atomic.Uint64 // samples delivered with a 2xx
	failedDeliveries atomic.Uint64 // delivery attempts that failed
	retriedSamples   atomic.Uint64 // samples put on the retry queue
	droppedSamples   atomic.Uint64 // samples lost for good (max retries, handoff errors)
	skippedSamples   atomic.Uint64 // samples skipped for missing user id or endpoint
	discardedSamples atomic.Uint64 // forced samples shorter than the minimum

	// Prometheus metric descriptors
	receivedSamplesDesc  *prometheus.Desc
	deliveredSamplesDesc *prometheus.Desc
	failedDeliveriesDesc *prometheus.Desc
	retriedSamplesDesc   *prometheus.Desc
	droppedSamplesDesc   *prometheus.Desc
	skippedSamplesDesc   *prometheus.Desc
	discardedSamplesDesc *prometheus.Desc
	queueLengthDesc      *prometheus.Desc
	retryLengthDesc      *prometheus.Desc

	// Vector metric for captured events by type
	eventsByType *prometheus.CounterVec

	// queue lengths source, set once the dispatcher exists
	status func() DispatcherStatus
}

// newMetricsCollector creates a new metrics collector
func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		receivedSamplesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "received_samples_total"),
			"Total number of samples accepted by the dispatcher",
			nil, nil),

		deliveredSamplesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "delivered_samples_total"),
			"Total number of samples delivered to the collection endpoint",
			nil, nil),

		failedDeliveriesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "failed_deliveries_total"),
			"Total number of failed delivery attempts",
			nil, nil),

		retriedSamplesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "retried_samples_total"),
			"Total number of samples moved to the retry queue",
			nil, nil),

		droppedSamplesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dropped_samples_total"),
			"Total number of samples dropped permanently",
			nil, nil),

		skippedSamplesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "skipped_samples_total"),
			"Total number of samples skipped for missing user id or endpoint",
			nil, nil),

		discardedSamplesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "discarded_samples_total"),
			"Total number of forced samples discarded as too short",
			nil, nil),

		queueLengthDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_length"),
			"Samples waiting in the delivery queue",
			nil, nil),

		retryLengthDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "retry_queue_length"),
			"Samples waiting in the retry queue",
			nil, nil),

		eventsByType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "captured_events_total"),
				Help: "Total number of captured events by event type",
			},
			[]string{"event_type"}),
	}
}

func (mc *metricsCollector) IncReceivedSamples() {
	if mc != nil {
		mc.receivedSamples.Add(1)
	}
}

func (mc *metricsCollector) IncDeliveredSamples() {
	if mc != nil {
		mc.deliveredSamples.Add(1)
	}
}

func (mc *metricsCollector) IncFailedDeliveries() {
	if mc != nil {
		mc.failedDeliveries.Add(1)
	}
}

func (mc *metricsCollector) IncRetriedSamples() {
	if mc != nil {
		mc.retriedSamples.Add(1)
	}
}

func (mc *metricsCollector) IncDroppedSamples() {
	if mc != nil {
		mc.droppedSamples.Add(1)
	}
}

func (mc *metricsCollector) IncSkippedSamples() {
	if mc != nil {
		mc.skippedSamples.Add(1)
	}
}

func (mc *metricsCollector) IncDiscardedSamples() {
	if mc != nil {
		mc.discardedSamples.Add(1)
	}
}

// IncEventsByType increments captured events for a specific event type
func (mc *metricsCollector) IncEventsByType(eventType string) {
	if mc != nil {
		mc.eventsByType.WithLabelValues(eventType).Inc()
	}
}

func (mc *metricsCollector) setStatusSource(fn func() DispatcherStatus) {
	mc.status = fn
}

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.receivedSamplesDesc
	ch <- mc.deliveredSamplesDesc
	ch <- mc.failedDeliveriesDesc
	ch <- mc.retriedSamplesDesc
	ch <- mc.droppedSamplesDesc
	ch <- mc.skippedSamplesDesc
	ch <- mc.discardedSamplesDesc
	ch <- mc.queueLengthDesc
	ch <- mc.retryLengthDesc

	mc.eventsByType.Describe(ch)
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}

	counter(mc.receivedSamplesDesc, mc.receivedSamples.Load())
	counter(mc.deliveredSamplesDesc, mc.deliveredSamples.Load())
	counter(mc.failedDeliveriesDesc, mc.failedDeliveries.Load())
	counter(mc.retriedSamplesDesc, mc.retriedSamples.Load())
	counter(mc.droppedSamplesDesc, mc.droppedSamples.Load())
	counter(mc.skippedSamplesDesc, mc.skippedSamples.Load())
	counter(mc.discardedSamplesDesc, mc.discardedSamples.Load())

	var status DispatcherStatus
	if mc.status != nil {
		status = mc.status()
	}
	ch <- prometheus.MustNewConstMetric(mc.queueLengthDesc, prometheus.GaugeValue, float64(status.QueueLength))
	ch <- prometheus.MustNewConstMetric(mc.retryLengthDesc, prometheus.GaugeValue, float64(status.RetryLength))

	mc.eventsByType.Collect(ch)
}
