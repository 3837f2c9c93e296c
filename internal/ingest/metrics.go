package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// latencyBuckets spans sub-millisecond loopback hops up to multi-second stalls, in ms.
var latencyBuckets = []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

type metrics struct {
	registry *prometheus.Registry

	received    *prometheus.CounterVec
	malformed   prometheus.Counter
	invalidRaw  *prometheus.CounterVec
	dropped     prometheus.Counter
	stored      prometheus.Counter
	storeErrors prometheus.Counter
	flushTime   prometheus.Histogram
	latency     *prometheus.HistogramVec
	viewers     prometheus.Gauge
}

func newMetrics(buffered func() float64) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksynth_ingest_records_received_total",
				Help: "Records received by source type",
			},
			[]string{"source_type"},
		),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracksynth_ingest_malformed_total",
			Help: "Datagrams or messages that did not decode to a JSON object",
		}),
		invalidRaw: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksynth_ingest_invalid_raw_total",
				Help: "Records whose raw wire message failed verification",
			},
			[]string{"source_type"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracksynth_ingest_records_dropped_total",
			Help: "Records dropped by a full dispatch queue or evicted from the buffer",
		}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracksynth_ingest_records_stored_total",
			Help: "Records flushed to storage",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracksynth_ingest_store_errors_total",
			Help: "Batches the storage backend rejected",
		}),
		flushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracksynth_ingest_flush_duration_ms",
			Help:    "Time spent persisting one batch",
			Buckets: latencyBuckets,
		}),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracksynth_ingest_latency_ms",
				Help:    "Record latency per stage: network (sent to received), buffer (received to stored), total",
				Buckets: latencyBuckets,
			},
			[]string{"source_type", "stage"},
		),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracksynth_ingest_viewers",
			Help: "Connected websocket viewers",
		}),
	}

	m.registry.MustRegister(
		m.received, m.malformed, m.invalidRaw, m.dropped, m.stored, m.storeErrors,
		m.flushTime, m.latency, m.viewers,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tracksynth_ingest_buffered",
			Help: "Records waiting for the next flush",
		}, buffered),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
