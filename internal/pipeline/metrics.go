// Package-level Prometheus metrics for the pipeline. Registered eagerly; if
// no /metrics endpoint is exposed the registration is harmless. Global only,
// no per-session labels (unbounded cardinality).
package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	dispatchCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_dispatch_cycles_total",
		Help: "Total hardware data-available dispatch cycles processed",
	})
	samplesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_samples_delivered_total",
		Help: "Total post-subsampling samples staged into subscriber buffers",
	})
	chunksPosted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_chunks_posted_total",
		Help: "Total chunk-ready callbacks successfully posted to sinks",
	})
	postFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_post_failures_total",
		Help: "Chunk-ready posts rejected by a full sink (retried next cycle)",
	})
	staleCallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_stale_callbacks_total",
		Help: "Chunk-ready callbacks dropped because the session was gone or re-subscribed by delivery time",
	})
	staleCounts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_stale_consume_counts_total",
		Help: "consume_samples rejections due to a count mismatch",
	})
	reconfigs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_hw_reconfigs_total",
		Help: "Hardware sampling-rate or FIFO-depth changes applied by the reconciler",
	})
	peeksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_peeks_total",
		Help: "Total peek requests",
	})
	peekTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_peek_timeouts_total",
		Help: "Peek requests that exhausted the bounded poll window",
	})

	hwRateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "accel_hw_sampling_rate_hz",
		Help: "Currently effective hardware sampling rate",
	})
	fifoDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "accel_hw_fifo_depth",
		Help: "Currently effective hardware FIFO depth in samples",
	})
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "accel_subscribers",
		Help: "Active data subscribers",
	})
)

func init() {
	prometheus.MustRegister(
		dispatchCycles, samplesDelivered, chunksPosted, postFailures,
		staleCallbacks, staleCounts, reconfigs, peeksTotal, peekTimeouts,
		hwRateGauge, fifoDepthGauge, subscribersGauge,
	)
}
