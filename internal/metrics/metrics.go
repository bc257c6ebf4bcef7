package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus collectors for event handling and object store traffic
var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revvault_events_total",
			Help: "Deliveries processed, by lifecycle transition and outcome",
		},
		[]string{"transition", "outcome"},
	)

	EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revvault_event_duration_seconds",
			Help:    "Time spent handling one delivery",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transition"},
	)

	StoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revvault_store_writes_total",
			Help: "Object writes, by result",
		},
		[]string{"result"},
	)

	RelocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revvault_relocations_total",
			Help: "Object moves into the archive namespace, by result",
		},
		[]string{"result"},
	)

	BundleFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "revvault_bundle_fetch_duration_seconds",
			Help:    "Duration of upstream revision bundle downloads",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EventsTotal,
			EventDuration,
			StoreWritesTotal,
			RelocationsTotal,
			BundleFetchDuration,
		)
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveEvent records one processed delivery
func ObserveEvent(transition, outcome string, d time.Duration) {
	EventsTotal.WithLabelValues(transition, outcome).Inc()
	EventDuration.WithLabelValues(transition).Observe(d.Seconds())
}

// ObserveStoreWrite records one object write
func ObserveStoreWrite(err error) {
	StoreWritesTotal.WithLabelValues(result(err)).Inc()
}

// ObserveRelocation records one archive move
func ObserveRelocation(err error) {
	RelocationsTotal.WithLabelValues(result(err)).Inc()
}

// ObserveFetch records one upstream download
func ObserveFetch(d time.Duration) {
	BundleFetchDuration.Observe(d.Seconds())
}
