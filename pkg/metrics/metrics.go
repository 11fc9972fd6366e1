package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insider-intel/pkg/mmapdb"
)

var (
	// Engine metrics
	EngineCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insider_engine_cycles_total",
			Help: "Background engine cycles",
		},
		[]string{"cycle", "status"}, // cycle: sync|discovery|cleanup, status: success|error
	)

	EngineCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insider_engine_cycle_duration_seconds",
			Help:    "Background engine cycle duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"cycle"},
	)

	EngineLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insider_engine_last_run_timestamp",
			Help: "Unix timestamp of the last engine cycle",
		},
		[]string{"cycle"},
	)

	// Queue metrics
	QueueDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "insider_update_queue_drops_total",
		Help: "Background updates dropped because the queue was full or closed",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "insider_update_queue_depth",
		Help: "Background updates waiting to be drained",
	})

	UpdatesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insider_updates_processed_total",
			Help: "Background updates processed by kind",
		},
		[]string{"kind"},
	)

	// Insider metrics
	Discoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insider_discoveries_total",
			Help: "Newly tracked insider wallets by discovery method",
		},
		[]string{"method"},
	)

	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insider_status_transitions_total",
			Help: "Insider status changes",
		},
		[]string{"from", "to"},
	)

	TableFullErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "insider_table_full_total",
		Help: "Inserts rejected because the probe run was exhausted",
	})

	// Signal metrics
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insider_copy_signals_total",
			Help: "Copy-trade signals emitted by urgency",
		},
		[]string{"urgency"},
	)

	SignalDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "insider_copy_signal_drops_total",
		Help: "Copy-trade signals dropped because no consumer kept up",
	})

	CopyResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insider_copy_results_total",
			Help: "Settled copy trades by outcome",
		},
		[]string{"outcome"}, // win|loss
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(EngineCycles)
	prometheus.MustRegister(EngineCycleDuration)
	prometheus.MustRegister(EngineLastRun)

	prometheus.MustRegister(QueueDrops)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(UpdatesProcessed)

	prometheus.MustRegister(Discoveries)
	prometheus.MustRegister(StatusTransitions)
	prometheus.MustRegister(TableFullErrors)

	prometheus.MustRegister(Signals)
	prometheus.MustRegister(SignalDrops)
	prometheus.MustRegister(CopyResults)
}

// RegisterTable exposes the mapped table's own atomic counters. They are
// read at scrape time so lookups never touch a Prometheus collector.
func RegisterTable(stats func() mmapdb.Stats) {
	prometheus.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "insider_table_lookups_total",
			Help: "Mapped table lookups",
		}, func() float64 { return float64(stats().TotalLookups) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "insider_table_hits_total",
			Help: "Mapped table lookup hits",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "insider_table_misses_total",
			Help: "Mapped table lookup misses",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "insider_table_collisions_total",
			Help: "Probe steps past the primary slot",
		}, func() float64 { return float64(stats().Collisions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "insider_table_active_entries",
			Help: "Live records in the mapped table",
		}, func() float64 { return float64(stats().ActiveCount) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "insider_table_load_factor",
			Help: "Active entries over capacity",
		}, func() float64 { return stats().LoadFactor }),
	)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records one engine cycle
func RecordCycle(cycle string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	EngineCycles.WithLabelValues(cycle, status).Inc()
	EngineCycleDuration.WithLabelValues(cycle).Observe(duration.Seconds())
	EngineLastRun.WithLabelValues(cycle).SetToCurrentTime()
}
